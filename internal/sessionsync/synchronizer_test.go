package sessionsync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
)

// --- モック ---

type mockSessionSource struct {
	currentSessionF func(ctx context.Context) (*model.Session, error)
	signOutF        func(ctx context.Context, session *model.Session) error
}

func (m *mockSessionSource) CurrentSession(ctx context.Context) (*model.Session, error) {
	if m.currentSessionF == nil {
		return nil, nil
	}
	return m.currentSessionF(ctx)
}

func (m *mockSessionSource) SignOut(ctx context.Context, session *model.Session) error {
	if m.signOutF == nil {
		return nil
	}
	return m.signOutF(ctx, session)
}

type mockProfileSource struct {
	mu             sync.Mutex
	getCalls       int
	getProfileF    func(ctx context.Context, session *model.Session) (*model.Profile, error)
	updateProfileF func(ctx context.Context, session *model.Session, update model.ProfileUpdate) error
}

func (m *mockProfileSource) GetProfile(ctx context.Context, session *model.Session) (*model.Profile, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	return m.getProfileF(ctx, session)
}

func (m *mockProfileSource) UpdateProfile(ctx context.Context, session *model.Session, update model.ProfileUpdate) error {
	return m.updateProfileF(ctx, session, update)
}

func (m *mockProfileSource) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// --- ヘルパー ---

func testSession(userID string) *model.Session {
	return &model.Session{ID: "sess-" + userID, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
}

func testProfile(userID string, userType model.UserType) *model.Profile {
	return &model.Profile{ID: userID, Email: userID + "@example.com", FullName: "Test " + userID, UserType: userType}
}

// profilesByUser はユーザーIDごとに固定のプロフィールを返すProfileSource。
func profilesByUser(profiles ...*model.Profile) *mockProfileSource {
	byID := make(map[string]*model.Profile)
	for _, p := range profiles {
		byID[p.ID] = p
	}
	return &mockProfileSource{
		getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
			p, ok := byID[session.UserID]
			if !ok {
				return nil, nil
			}
			cp := *p
			return &cp, nil
		},
	}
}

func startSync(t *testing.T, sessions SessionSource, profiles ProfileSource) (*Synchronizer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	s := New(sessions, profiles, Config{
		EmployerHome:  "/employer/dashboard",
		ApplicantHome: "/jobs",
		Logger:        slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	return s, &buf
}

func assertInvariant(t *testing.T, st State) {
	t.Helper()
	if st.IsAuthenticated != (st.Session != nil) {
		t.Errorf("IsAuthenticated = %v but Session = %v", st.IsAuthenticated, st.Session)
	}
	if st.Profile != nil && (st.Session == nil || st.Profile.ID != st.Session.UserID) {
		t.Errorf("プロフィールがセッションと一致していません: profile=%v session=%v", st.Profile, st.Session)
	}
}

// --- 起動 ---

func TestStartup_NoSession(t *testing.T) {
	profiles := profilesByUser()
	s, _ := startSync(t, &mockSessionSource{}, profiles)

	st := s.State()
	assertInvariant(t, st)
	if st.IsAuthenticated || st.Loading || st.Error != nil {
		t.Errorf("未認証状態になるべき: %+v", st)
	}
	if profiles.calls() != 0 {
		t.Errorf("セッションが無い場合はプロフィールを取得しない: calls = %d", profiles.calls())
	}
}

func TestStartup_ExistingSessionLoadsProfile(t *testing.T) {
	sessions := &mockSessionSource{currentSessionF: func(ctx context.Context) (*model.Session, error) {
		return testSession("u1"), nil
	}}
	s, _ := startSync(t, sessions, profilesByUser(testProfile("u1", model.UserTypeApplicant)))

	st := s.State()
	assertInvariant(t, st)
	if !st.IsAuthenticated || st.Profile == nil || st.Profile.ID != "u1" {
		t.Errorf("認証済み・プロフィールありになるべき: %+v", st)
	}
	if st.Loading {
		t.Error("Loading should be false after startup")
	}
}

func TestStartup_SessionLoadError(t *testing.T) {
	sessions := &mockSessionSource{currentSessionF: func(ctx context.Context) (*model.Session, error) {
		return nil, errors.New("idp unavailable")
	}}
	s, _ := startSync(t, sessions, profilesByUser())

	st := s.State()
	assertInvariant(t, st)
	if st.Error == nil || st.Error.Kind != KindSessionLoad {
		t.Fatalf("Error = %v, want SessionLoadError", st.Error)
	}
	if st.Error.Fatal() {
		t.Error("SessionLoadError should not be fatal")
	}
}

// --- イベント ---

func TestSignedIn_LoadsProfile(t *testing.T) {
	s, _ := startSync(t, &mockSessionSource{}, profilesByUser(testProfile("u1", model.UserTypeEmployer)))

	if err := s.Send(context.Background(), Event{Type: EventSignedIn, Session: testSession("u1")}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	st := s.State()
	assertInvariant(t, st)
	if !st.IsAuthenticated || st.Profile == nil || st.Profile.UserType != model.UserTypeEmployer {
		t.Errorf("state = %+v", st)
	}
}

// SIGNED_INのプロフィール取得が終わる前にSIGNED_OUTが届いても最終状態は未認証。
func TestSignedInThenSignedOut_EndsUnauthenticated(t *testing.T) {
	release := make(chan struct{})
	fetchStarted := make(chan struct{}, 1)
	profiles := &mockProfileSource{getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
		fetchStarted <- struct{}{}
		<-release
		return testProfile(session.UserID, model.UserTypeApplicant), nil
	}}
	s, _ := startSync(t, &mockSessionSource{}, profiles)

	ctx := context.Background()
	if err := s.Post(ctx, Event{Type: EventSignedIn, Session: testSession("u1")}); err != nil {
		t.Fatalf("Post SIGNED_IN: %v", err)
	}
	<-fetchStarted
	if err := s.Post(ctx, Event{Type: EventSignedOut}); err != nil {
		t.Fatalf("Post SIGNED_OUT: %v", err)
	}
	close(release)

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	st := s.State()
	assertInvariant(t, st)
	if st.IsAuthenticated || st.Session != nil || st.Profile != nil {
		t.Errorf("両イベント処理後は未認証であるべき: %+v", st)
	}
}

// 取得中の状態を観測できること
func TestLoadingDuringProfileFetch(t *testing.T) {
	release := make(chan struct{})
	fetchStarted := make(chan struct{}, 1)
	profiles := &mockProfileSource{getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
		fetchStarted <- struct{}{}
		<-release
		return testProfile(session.UserID, model.UserTypeApplicant), nil
	}}
	s, _ := startSync(t, &mockSessionSource{}, profiles)

	s.Post(context.Background(), Event{Type: EventSignedIn, Session: testSession("u1")})
	<-fetchStarted

	st := s.State()
	if !st.Loading || !st.IsAuthenticated {
		t.Errorf("取得中はLoading=true, IsAuthenticated=trueであるべき: %+v", st)
	}
	close(release)
	s.Sync(context.Background())
	if s.State().Loading {
		t.Error("Loading should be false after fetch")
	}
}

func TestProfileFetch_AuthorizationErrorClearsState(t *testing.T) {
	profiles := &mockProfileSource{getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
		return nil, model.ErrUnauthorized
	}}
	s, _ := startSync(t, &mockSessionSource{}, profiles)

	err := s.Send(context.Background(), Event{Type: EventSignedIn, Session: testSession("u1")})

	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Kind != KindAuth {
		t.Fatalf("err = %v, want AuthError", err)
	}
	st := s.State()
	assertInvariant(t, st)
	if st.Session != nil || st.Profile != nil || st.IsAuthenticated {
		t.Errorf("認可エラー後は未認証であるべき: %+v", st)
	}
	if st.Error == nil || !st.Error.Fatal() {
		t.Errorf("Error = %v, want fatal AuthError", st.Error)
	}
}

func TestProfileFetch_NetworkErrorPreservesSession(t *testing.T) {
	failing := false
	profiles := &mockProfileSource{getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
		if failing {
			return nil, errors.New("connection reset")
		}
		return testProfile(session.UserID, model.UserTypeApplicant), nil
	}}
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()

	session := testSession("u1")
	s.Send(ctx, Event{Type: EventSignedIn, Session: session})

	failing = true
	err := s.RefreshProfile(ctx)

	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Kind != KindProfileLoad {
		t.Fatalf("err = %v, want ProfileLoadError", err)
	}
	st := s.State()
	assertInvariant(t, st)
	if st.Session == nil || st.Session.ID != session.ID {
		t.Errorf("セッションは維持されるべき: %+v", st.Session)
	}
	if st.Profile == nil {
		t.Error("一時的なエラーで既存のプロフィールを破棄すべきではない")
	}
	if st.Error == nil || st.Error.Fatal() {
		t.Errorf("Error = %v, want non-fatal error", st.Error)
	}

	// 回復するとエラーは消える
	failing = false
	if err := s.RefreshProfile(ctx); err != nil {
		t.Fatalf("RefreshProfile: %v", err)
	}
	if s.State().Error != nil {
		t.Errorf("Error = %v, want nil after successful refresh", s.State().Error)
	}
}

func TestProfileFetch_NoRecordIsProfileNotFound(t *testing.T) {
	s, _ := startSync(t, &mockSessionSource{}, profilesByUser())

	s.Send(context.Background(), Event{Type: EventSignedIn, Session: testSession("ghost")})

	st := s.State()
	assertInvariant(t, st)
	if st.Error == nil || st.Error.Kind != KindProfileNotFound {
		t.Errorf("Error = %v, want ProfileNotFound", st.Error)
	}
	if st.Profile != nil {
		t.Error("プロフィールは空であるべき")
	}
	if !st.IsAuthenticated {
		t.Error("プロフィールが無くてもセッションは維持される")
	}
}

func TestSignedIn_DifferentUserDropsPreviousProfile(t *testing.T) {
	release := make(chan struct{})
	profiles := &mockProfileSource{getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
		if session.UserID == "u2" {
			<-release
		}
		return testProfile(session.UserID, model.UserTypeApplicant), nil
	}}
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()
	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})

	s.Post(ctx, Event{Type: EventSignedIn, Session: testSession("u2")})
	// u2の取得中もu1のプロフィールを見せない
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		st := s.State()
		if st.Session != nil && st.Session.UserID == "u2" {
			assertInvariant(t, st)
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	s.Sync(ctx)

	st := s.State()
	assertInvariant(t, st)
	if st.Profile == nil || st.Profile.ID != "u2" {
		t.Errorf("Profile = %+v, want u2", st.Profile)
	}
}

func TestTokenRefreshed_SkipsRefetchForSameUser(t *testing.T) {
	profiles := profilesByUser(testProfile("u1", model.UserTypeApplicant))
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()

	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})
	refreshed := testSession("u1")
	refreshed.ExpiresAt = time.Now().Add(48 * time.Hour)
	s.Send(ctx, Event{Type: EventTokenRefreshed, Session: refreshed})

	if profiles.calls() != 1 {
		t.Errorf("同一ユーザーのトークン更新で再取得すべきではない: calls = %d", profiles.calls())
	}
	if st := s.State(); !st.Session.ExpiresAt.Equal(refreshed.ExpiresAt) {
		t.Errorf("セッションは更新されるべき: %v", st.Session.ExpiresAt)
	}
}

func TestTokenRefreshed_RefetchesWhenProfileMissing(t *testing.T) {
	failing := true
	profiles := &mockProfileSource{getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
		if failing {
			return nil, nil
		}
		return testProfile(session.UserID, model.UserTypeApplicant), nil
	}}
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()

	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})
	failing = false
	s.Send(ctx, Event{Type: EventTokenRefreshed, Session: testSession("u1")})

	if profiles.calls() != 2 {
		t.Errorf("calls = %d, want 2", profiles.calls())
	}
	if s.State().Profile == nil {
		t.Error("プロフィールが読み込まれるべき")
	}
}

func TestUserUpdated_RefetchesProfile(t *testing.T) {
	profiles := profilesByUser(testProfile("u1", model.UserTypeApplicant))
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()

	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})
	s.Send(ctx, Event{Type: EventUserUpdated})

	if profiles.calls() != 2 {
		t.Errorf("calls = %d, want 2", profiles.calls())
	}
}

func TestEventsAreProcessedInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	profiles := &mockProfileSource{getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
		mu.Lock()
		order = append(order, session.UserID)
		mu.Unlock()
		return testProfile(session.UserID, model.UserTypeApplicant), nil
	}}
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		s.Post(ctx, Event{Type: EventSignedIn, Session: testSession(id)})
	}
	s.Sync(ctx)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if st := s.State(); st.Profile.ID != "d" {
		t.Errorf("最後のイベントが反映されるべき: %s", st.Profile.ID)
	}
}

// --- コマンド ---

func TestSignOut_CallsProviderAndClears(t *testing.T) {
	var signedOut *model.Session
	sessions := &mockSessionSource{signOutF: func(ctx context.Context, session *model.Session) error {
		signedOut = session
		return nil
	}}
	s, _ := startSync(t, sessions, profilesByUser(testProfile("u1", model.UserTypeApplicant)))
	ctx := context.Background()
	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})

	if err := s.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if signedOut == nil || signedOut.UserID != "u1" {
		t.Errorf("IdPのサインアウトが呼ばれていません: %v", signedOut)
	}
	st := s.State()
	assertInvariant(t, st)
	if st.IsAuthenticated || st.Profile != nil {
		t.Errorf("state = %+v", st)
	}
}

func TestSignOut_ProviderFailureStillClearsLocalState(t *testing.T) {
	sessions := &mockSessionSource{signOutF: func(ctx context.Context, session *model.Session) error {
		return errors.New("idp down")
	}}
	s, _ := startSync(t, sessions, profilesByUser(testProfile("u1", model.UserTypeApplicant)))
	ctx := context.Background()
	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})

	if err := s.SignOut(ctx); err == nil {
		t.Error("IdPのエラーは呼び出し元に返すべき")
	}
	if s.State().IsAuthenticated {
		t.Error("ローカルの状態は破棄されるべき")
	}
}

func TestUpdateProfile_WriteThenRead(t *testing.T) {
	stored := testProfile("u1", model.UserTypeApplicant)
	var mu sync.Mutex
	var steps []string
	profiles := &mockProfileSource{
		getProfileF: func(ctx context.Context, session *model.Session) (*model.Profile, error) {
			mu.Lock()
			defer mu.Unlock()
			steps = append(steps, "read")
			cp := *stored
			return &cp, nil
		},
		updateProfileF: func(ctx context.Context, session *model.Session, update model.ProfileUpdate) error {
			mu.Lock()
			defer mu.Unlock()
			steps = append(steps, "write")
			*stored = update.Apply(*stored)
			return nil
		},
	}
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()
	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})

	name := "新しい名前"
	if err := s.UpdateProfile(ctx, model.ProfileUpdate{FullName: &name}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	if got := s.State().Profile.FullName; got != name {
		t.Errorf("FullName = %q, want %q", got, name)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"read", "write", "read"}
	if len(steps) != 3 || steps[1] != "write" || steps[2] != "read" {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestUpdateProfile_FailureRecordsUpdateError(t *testing.T) {
	profiles := profilesByUser(testProfile("u1", model.UserTypeApplicant))
	profiles.updateProfileF = func(ctx context.Context, session *model.Session, update model.ProfileUpdate) error {
		return errors.New("write timeout")
	}
	s, _ := startSync(t, &mockSessionSource{}, profiles)
	ctx := context.Background()
	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})

	name := "x"
	err := s.UpdateProfile(ctx, model.ProfileUpdate{FullName: &name})

	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Kind != KindUpdate {
		t.Fatalf("err = %v, want UpdateError", err)
	}
	st := s.State()
	if st.Profile == nil || st.Profile.FullName != "Test u1" {
		t.Errorf("既存のプロフィールは維持されるべき: %+v", st.Profile)
	}
	if st.Error == nil || st.Error.Kind != KindUpdate {
		t.Errorf("Error = %v, want UpdateError", st.Error)
	}
}

func TestUpdateProfile_NotSignedIn(t *testing.T) {
	s, _ := startSync(t, &mockSessionSource{}, profilesByUser())

	err := s.UpdateProfile(context.Background(), model.ProfileUpdate{})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

// --- 遷移指示 ---

func TestNavigation_FromLoginView(t *testing.T) {
	tests := []struct {
		name     string
		location string
		userType model.UserType
		want     string
	}{
		{"employerはダッシュボードへ", "/login", model.UserTypeEmployer, "/employer/dashboard"},
		{"applicantは求人一覧へ", "/register", model.UserTypeApplicant, "/jobs"},
		{"サブパスも対象", "/login/callback", model.UserTypeApplicant, "/jobs"},
		{"ログイン画面以外では遷移しない", "/jobs/123", model.UserTypeEmployer, ""},
		{"前方一致だけのパスは対象外", "/loginhelp", model.UserTypeEmployer, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := startSync(t, &mockSessionSource{}, profilesByUser(testProfile("u1", tt.userType)))
			s.SetLocation(tt.location)
			s.Send(context.Background(), Event{Type: EventSignedIn, Session: testSession("u1")})

			nav := s.TakeNavigation()
			if tt.want == "" {
				if nav != nil {
					t.Errorf("nav = %+v, want nil", nav)
				}
				return
			}
			if nav == nil || nav.Path != tt.want {
				t.Fatalf("nav = %+v, want %s", nav, tt.want)
			}
			if again := s.TakeNavigation(); again != nil {
				t.Errorf("遷移指示は1度だけ返すべき: %+v", again)
			}
		})
	}
}

func TestNavigation_NotRepeatedOnRefresh(t *testing.T) {
	s, _ := startSync(t, &mockSessionSource{}, profilesByUser(testProfile("u1", model.UserTypeEmployer)))
	ctx := context.Background()
	s.SetLocation("/login")
	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})
	s.TakeNavigation()

	s.RefreshProfile(ctx)
	if nav := s.TakeNavigation(); nav != nil {
		t.Errorf("遷移後の再取得で再度遷移すべきではない: %+v", nav)
	}
}

func TestNavigation_ClearedOnSignOut(t *testing.T) {
	s, _ := startSync(t, &mockSessionSource{}, profilesByUser(testProfile("u1", model.UserTypeEmployer)))
	ctx := context.Background()
	s.SetLocation("/login")
	s.Send(ctx, Event{Type: EventSignedIn, Session: testSession("u1")})
	s.Send(ctx, Event{Type: EventSignedOut})

	if nav := s.TakeNavigation(); nav != nil {
		t.Errorf("サインアウト後に遷移指示が残っています: %+v", nav)
	}
}

// --- ライフサイクル ---

func TestSend_AfterStopReturnsErrStopped(t *testing.T) {
	s := New(&mockSessionSource{}, profilesByUser(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	s.Sync(context.Background())
	cancel()
	<-done

	if err := s.Send(context.Background(), Event{Type: EventSignedOut}); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestSend_ContextCanceled(t *testing.T) {
	s := New(&mockSessionSource{}, profilesByUser(), Config{})
	// Runを開始していないため処理されない
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Send(ctx, Event{Type: EventSignedOut}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestState_ReturnsCopy(t *testing.T) {
	p := testProfile("u1", model.UserTypeApplicant)
	p.Skills = []string{"Go"}
	s, _ := startSync(t, &mockSessionSource{}, profilesByUser(p))
	s.Send(context.Background(), Event{Type: EventSignedIn, Session: testSession("u1")})

	st := s.State()
	st.Profile.FullName = "changed"
	st.Profile.Skills[0] = "changed"
	st.Session.UserID = "changed"

	again := s.State()
	if again.Profile.FullName == "changed" || again.Profile.Skills[0] == "changed" || again.Session.UserID == "changed" {
		t.Errorf("State()の戻り値の変更が内部状態に影響しています: %+v", again)
	}
}
