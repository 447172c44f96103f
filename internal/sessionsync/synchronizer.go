package sessionsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/jobboard/internal/metrics"
	"github.com/hitoshi/jobboard/internal/model"
)

// ErrStopped はRunが終了した後にメッセージを送ったことを表す。
var ErrStopped = errors.New("sessionsync: synchronizer stopped")

// queueSize はRun開始前や処理中に受け付けるメッセージ数。
const queueSize = 32

// Config はSynchronizerの設定。
type Config struct {
	// EmployerHome、ApplicantHomeはプロフィール読み込み後の遷移先。
	EmployerHome  string
	ApplicantHome string
	// AuthPaths はログイン・登録画面のパス。この画面にいる時だけ遷移を指示する。
	AuthPaths []string
	Metrics   metrics.SyncMetrics
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.EmployerHome == "" {
		c.EmployerHome = "/employer/dashboard"
	}
	if c.ApplicantHome == "" {
		c.ApplicantHome = "/jobs"
	}
	if len(c.AuthPaths) == 0 {
		c.AuthPaths = []string{"/login", "/register", "/signup"}
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type request struct {
	event *Event
	op    func(ctx context.Context) error
	done  chan error
}

// Synchronizer はセッションとプロフィールの状態を保持するアクター。
type Synchronizer struct {
	sessions SessionSource
	profiles ProfileSource
	cfg      Config
	logger   *slog.Logger

	requests chan request
	stopped  chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	state    State
	location string
	nav      *Navigation
}

// New はSynchronizerを生成する。処理を始めるにはRunを呼ぶ。
func New(sessions SessionSource, profiles ProfileSource, cfg Config) *Synchronizer {
	cfg = cfg.withDefaults()
	return &Synchronizer{
		sessions: sessions,
		profiles: profiles,
		cfg:      cfg,
		logger:   cfg.Logger,
		requests: make(chan request, queueSize),
		stopped:  make(chan struct{}),
		state:    State{Loading: true},
	}
}

// Run は起動時のセッション読み込みを行った後、ctxがキャンセルされるまで
// メッセージを1件ずつ処理する。
func (s *Synchronizer) Run(ctx context.Context) error {
	defer s.stopOnce.Do(func() { close(s.stopped) })

	s.startup(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.requests:
			var err error
			if req.event != nil {
				err = s.handleEvent(ctx, *req.event)
			} else {
				err = req.op(ctx)
			}
			if req.done != nil {
				req.done <- err
			}
		}
	}
}

func (s *Synchronizer) startup(ctx context.Context) {
	session, err := s.sessions.CurrentSession(ctx)
	if err != nil {
		s.logger.Warn("起動時のセッション読み込みに失敗しました", slog.String("error", err.Error()))
		s.update(func(st *State) {
			st.Session = nil
			st.Profile = nil
			st.Loading = false
			st.Error = &SyncError{Kind: KindSessionLoad, Message: "セッションの読み込みに失敗しました", Err: err}
		})
		return
	}
	if session == nil {
		s.update(func(st *State) {
			st.Session = nil
			st.Profile = nil
			st.Loading = false
		})
		return
	}
	s.update(func(st *State) { st.Session = session })
	s.loadProfile(ctx, session)
}

// Send はイベントをキューに入れ、処理が完了するまで待つ。
func (s *Synchronizer) Send(ctx context.Context, ev Event) error {
	return s.submit(ctx, request{event: &ev, done: make(chan error, 1)})
}

// Post はイベントをキューに入れるだけで処理の完了は待たない。
func (s *Synchronizer) Post(ctx context.Context, ev Event) error {
	return s.enqueue(ctx, request{event: &ev})
}

// SignOut はIdPのセッションを終了し、セッションとプロフィールを破棄する。
// IdP呼び出しが失敗してもローカルの状態は破棄する。
func (s *Synchronizer) SignOut(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		session := s.currentSession()
		var err error
		if session != nil {
			if err = s.sessions.SignOut(ctx, session); err != nil {
				s.logger.Warn("IdPのサインアウトに失敗しました",
					slog.String("user_id", session.UserID),
					slog.String("error", err.Error()),
				)
			}
		}
		s.clear(nil)
		return err
	})
}

// UpdateProfile はプロフィールを書き込んだ後に再取得して状態を同期する。
// 書き込みに失敗した場合はUpdateErrorを記録し、既存の状態は維持する。
func (s *Synchronizer) UpdateProfile(ctx context.Context, update model.ProfileUpdate) error {
	return s.do(ctx, func(ctx context.Context) error {
		session := s.currentSession()
		if session == nil {
			return &SyncError{Kind: KindAuth, Message: "サインインしていません", Err: model.ErrUnauthorized}
		}
		if err := s.profiles.UpdateProfile(ctx, session, update); err != nil {
			if errors.Is(err, model.ErrUnauthorized) {
				return s.forceSignOut(session, err)
			}
			syncErr := &SyncError{Kind: KindUpdate, Message: "プロフィールの更新に失敗しました", Err: err}
			s.update(func(st *State) { st.Error = syncErr })
			return syncErr
		}
		return s.fetchProfile(ctx, session)
	})
}

// RefreshProfile はプロフィールを再取得する。未サインインの場合は何もしない。
func (s *Synchronizer) RefreshProfile(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		session := s.currentSession()
		if session == nil {
			return nil
		}
		return s.fetchProfile(ctx, session)
	})
}

// Sync はそれまでにキューへ入ったメッセージが全て処理されるまで待つ。
func (s *Synchronizer) Sync(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error { return nil })
}

// SetLocation はUIの現在のパスを記録する。
func (s *Synchronizer) SetLocation(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = path
}

// TakeNavigation は保留中の遷移指示を取り出す。指示は1度しか返さない。
func (s *Synchronizer) TakeNavigation() *Navigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	nav := s.nav
	s.nav = nil
	return nav
}

// State は現在の状態のコピーを返す。
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Done はRunが終了すると閉じられるチャネルを返す。
func (s *Synchronizer) Done() <-chan struct{} {
	return s.stopped
}

// stop はRunを起動せずに停止済みにする。以降の送信はErrStoppedになる。
func (s *Synchronizer) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *Synchronizer) do(ctx context.Context, op func(ctx context.Context) error) error {
	return s.submit(ctx, request{op: op, done: make(chan error, 1)})
}

func (s *Synchronizer) submit(ctx context.Context, req request) error {
	if err := s.enqueue(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		// 停止と同時に処理が完了している場合がある
		select {
		case err := <-req.done:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Synchronizer) enqueue(ctx context.Context, req request) error {
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

func (s *Synchronizer) handleEvent(ctx context.Context, ev Event) error {
	s.cfg.Metrics.RecordSyncEvent(string(ev.Type))

	switch ev.Type {
	case EventSignedIn:
		if ev.Session == nil {
			s.logger.Warn("セッションの無いSIGNED_INイベントを無視しました")
			return nil
		}
		s.update(func(st *State) {
			if st.Profile != nil && st.Profile.ID != ev.Session.UserID {
				st.Profile = nil
			}
			st.Session = ev.Session
		})
		return s.fetchProfile(ctx, ev.Session)

	case EventSignedOut:
		s.clear(nil)
		return nil

	case EventTokenRefreshed:
		if ev.Session == nil {
			return nil
		}
		var refetch bool
		s.update(func(st *State) {
			st.Session = ev.Session
			refetch = st.Profile == nil || st.Profile.ID != ev.Session.UserID
			if refetch {
				st.Profile = nil
			}
		})
		if refetch {
			return s.fetchProfile(ctx, ev.Session)
		}
		return nil

	case EventUserUpdated:
		session := ev.Session
		if session == nil {
			session = s.currentSession()
		} else {
			s.update(func(st *State) { st.Session = session })
		}
		if session == nil {
			return nil
		}
		return s.fetchProfile(ctx, session)

	default:
		s.logger.Debug("未対応の認証イベントを無視しました", slog.String("event", string(ev.Type)))
		return nil
	}
}

// fetchProfile はloadProfileの結果をerrorとして返す。
func (s *Synchronizer) fetchProfile(ctx context.Context, session *model.Session) error {
	if err := s.loadProfile(ctx, session); err != nil {
		return err
	}
	return nil
}

// loadProfile はプロフィールを取得して状態に反映する。
//   - レコードあり: 保存してエラーを消し、ログイン・登録画面にいれば遷移を指示する
//   - レコードなし: ProfileNotFound
//   - 認可エラー: セッションとプロフィールを破棄する
//   - その他: エラーを記録し、セッションとプロフィールは維持する
func (s *Synchronizer) loadProfile(ctx context.Context, session *model.Session) *SyncError {
	s.update(func(st *State) { st.Loading = true })
	start := time.Now()
	profile, err := s.profiles.GetProfile(ctx, session)

	switch {
	case errors.Is(err, model.ErrUnauthorized):
		s.cfg.Metrics.RecordProfileFetch("unauthorized")
		return s.forceSignOut(session, err)

	case err != nil:
		s.cfg.Metrics.RecordProfileFetch("error")
		s.logger.Warn("プロフィールの取得に失敗しました",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		syncErr := &SyncError{Kind: KindProfileLoad, Message: "プロフィールの取得に失敗しました", Err: err}
		s.update(func(st *State) {
			st.Loading = false
			st.Error = syncErr
		})
		return syncErr

	case profile == nil:
		s.cfg.Metrics.RecordProfileFetch("not_found")
		syncErr := &SyncError{Kind: KindProfileNotFound, Message: "プロフィールが見つかりません"}
		s.update(func(st *State) {
			st.Profile = nil
			st.Loading = false
			st.Error = syncErr
		})
		return syncErr
	}

	s.cfg.Metrics.RecordProfileFetch("ok")
	s.logger.Debug("プロフィールを取得しました",
		slog.String("user_id", session.UserID),
		slog.Duration("elapsed", time.Since(start)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Profile = profile
	s.state.Loading = false
	s.state.Error = nil
	s.state.IsAuthenticated = s.state.Session != nil
	if s.isAuthPath(s.location) {
		home := s.cfg.ApplicantHome
		if profile.UserType == model.UserTypeEmployer {
			home = s.cfg.EmployerHome
		}
		s.nav = &Navigation{Path: home}
		s.location = home
	}
	return nil
}

func (s *Synchronizer) forceSignOut(session *model.Session, cause error) *SyncError {
	s.logger.Warn("認可エラーのためセッションを破棄しました",
		slog.String("user_id", session.UserID),
		slog.String("error", cause.Error()),
	)
	syncErr := &SyncError{Kind: KindAuth, Message: "セッションの有効期限が切れました。再度ログインしてください", Err: cause}
	s.clear(syncErr)
	return syncErr
}

// clear はセッションとプロフィールを破棄する。
func (s *Synchronizer) clear(syncErr *SyncError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Error: syncErr}
	s.nav = nil
}

func (s *Synchronizer) currentSession() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Session
}

// update は状態を変更し、IsAuthenticatedをSessionから導出し直す。
func (s *Synchronizer) update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.state.IsAuthenticated = s.state.Session != nil
}

func (s *Synchronizer) isAuthPath(path string) bool {
	for _, p := range s.cfg.AuthPaths {
		if path == p || strings.HasPrefix(path, p+"/") || strings.HasPrefix(path, p+"?") {
			return true
		}
	}
	return false
}

type noopMetrics struct{}

func (noopMetrics) RecordSyncEvent(string)     {}
func (noopMetrics) RecordProfileFetch(string)  {}
func (noopMetrics) SetActiveSynchronizers(int) {}
