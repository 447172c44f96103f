package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/jobboard/internal/auth"
	"github.com/hitoshi/jobboard/internal/currency"
	"github.com/hitoshi/jobboard/internal/job"
	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/sessionsync"
)

// --- サービスのモック ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	refreshFn        func(ctx context.Context, sessionID string) (*model.Session, error)
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, signupType)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) Refresh(ctx context.Context, sessionID string) (*model.Session, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, sessionID)
	}
	return nil, model.ErrUnauthorized
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

// recordingPublisher は送られたイベントを記録するSessionPublisher。
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]sessionsync.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, clientID string, ev sessionsync.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]sessionsync.Event)
	}
	p.events[clientID] = append(p.events[clientID], ev)
	return p.err
}

func (p *recordingPublisher) eventsFor(clientID string) []sessionsync.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sessionsync.Event(nil), p.events[clientID]...)
}

type mockJobService struct {
	listFn   func(ctx context.Context, filter model.JobFilter, displayCurrency string) ([]*job.Listing, error)
	getFn    func(ctx context.Context, id, displayCurrency string) (*job.Listing, error)
	createFn func(ctx context.Context, employerID string, in job.CreateInput) (*model.JobPosting, error)
	deleteFn func(ctx context.Context, employerID, jobID string) error
}

func (m *mockJobService) List(ctx context.Context, filter model.JobFilter, displayCurrency string) ([]*job.Listing, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter, displayCurrency)
	}
	return nil, nil
}

func (m *mockJobService) Get(ctx context.Context, id, displayCurrency string) (*job.Listing, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id, displayCurrency)
	}
	return nil, model.NewJobNotFoundError(id)
}

func (m *mockJobService) Create(ctx context.Context, employerID string, in job.CreateInput) (*model.JobPosting, error) {
	if m.createFn != nil {
		return m.createFn(ctx, employerID, in)
	}
	return &model.JobPosting{ID: "job-new", EmployerID: employerID, Title: in.Title, Source: model.JobSourceManual}, nil
}

func (m *mockJobService) Delete(ctx context.Context, employerID, jobID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, employerID, jobID)
	}
	return nil
}

type mockCareersFeedService struct {
	registerFn func(ctx context.Context, employerID, inputURL string) (*model.CareersFeed, error)
	getFn      func(ctx context.Context, employerID string) (*model.CareersFeed, error)
	removeFn   func(ctx context.Context, employerID string) error
}

func (m *mockCareersFeedService) Register(ctx context.Context, employerID, inputURL string) (*model.CareersFeed, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, employerID, inputURL)
	}
	return &model.CareersFeed{EmployerID: employerID, FeedURL: inputURL, FetchStatus: model.FetchStatusActive}, nil
}

func (m *mockCareersFeedService) Get(ctx context.Context, employerID string) (*model.CareersFeed, error) {
	if m.getFn != nil {
		return m.getFn(ctx, employerID)
	}
	return nil, nil
}

func (m *mockCareersFeedService) Remove(ctx context.Context, employerID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, employerID)
	}
	return nil
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockRateService struct {
	snapshotFn func(ctx context.Context, base string) currency.Snapshot
	convertFn  func(ctx context.Context, amount float64, from, to string) (float64, error)
}

func (m *mockRateService) Snapshot(ctx context.Context, base string) currency.Snapshot {
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx, base)
	}
	return currency.Snapshot{Base: base, Rates: map[string]float64{base: 1}}
}

func (m *mockRateService) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	if m.convertFn != nil {
		return m.convertFn(ctx, amount, from, to)
	}
	return amount, nil
}

type mockSessionFinder struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

// --- 同期器用のIdPとプロフィールストア ---

// fakeIdentity はHubに渡すセッションとプロフィールのインメモリ実装。
type fakeIdentity struct {
	mu        sync.Mutex
	sessions  map[string]*model.Session // sessionID -> session
	profiles  map[string]*model.Profile // userID -> profile
	signedOut []string
	signOutFn func(sessionID string) error
	updateErr error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		sessions: make(map[string]*model.Session),
		profiles: make(map[string]*model.Profile),
	}
}

func (f *fakeIdentity) addUser(session *model.Session, profile *model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	if profile != nil {
		f.profiles[session.UserID] = profile
	}
}

func (f *fakeIdentity) factory() sessionsync.SessionSourceFactory {
	return func(sessionID string) sessionsync.SessionSource {
		return &fakeSessionSource{identity: f, sessionID: sessionID}
	}
}

func (f *fakeIdentity) GetProfile(_ context.Context, session *model.Session) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[session.ID]; !ok {
		return nil, model.ErrUnauthorized
	}
	p, ok := f.profiles[session.UserID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *fakeIdentity) UpdateProfile(_ context.Context, session *model.Session, update model.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[session.ID]; !ok {
		return model.ErrUnauthorized
	}
	if f.updateErr != nil {
		return f.updateErr
	}
	p, ok := f.profiles[session.UserID]
	if !ok {
		return model.NewProfileNotFoundError()
	}
	updated := update.Apply(*p)
	f.profiles[session.UserID] = &updated
	return nil
}

type fakeSessionSource struct {
	identity  *fakeIdentity
	sessionID string
}

func (s *fakeSessionSource) CurrentSession(_ context.Context) (*model.Session, error) {
	s.identity.mu.Lock()
	defer s.identity.mu.Unlock()
	return s.identity.sessions[s.sessionID], nil
}

func (s *fakeSessionSource) SignOut(_ context.Context, session *model.Session) error {
	s.identity.mu.Lock()
	defer s.identity.mu.Unlock()
	s.identity.signedOut = append(s.identity.signedOut, session.ID)
	if s.identity.signOutFn != nil {
		if err := s.identity.signOutFn(session.ID); err != nil {
			return err
		}
	}
	delete(s.identity.sessions, session.ID)
	return nil
}

// newTestHub は実際のsessionsync.Hubを生成し、テスト終了時に停止する。
func newTestHub(t *testing.T, identity *fakeIdentity) *sessionsync.Hub {
	t.Helper()
	hub := sessionsync.NewHub(identity.factory(), identity, sessionsync.HubConfig{
		IdleTTL: time.Hour,
		Sync: sessionsync.Config{
			EmployerHome:  "/employer/dashboard",
			ApplicantHome: "/jobs",
			Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	})
	t.Cleanup(hub.Stop)
	return hub
}

// --- リクエストヘルパー ---

// withIdentity はミドルウェアが注入するクライアントIDとセッションをリクエストに設定する。
func withIdentity(r *http.Request, clientID string, session *model.Session) *http.Request {
	ctx := r.Context()
	if clientID != "" {
		ctx = middleware.ContextWithClientID(ctx, clientID)
	}
	if session != nil {
		ctx = middleware.ContextWithSession(ctx, session)
	}
	return r.WithContext(ctx)
}

// withUserID はセッションミドルウェアを通過した状態のリクエストを返す。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func testSession(id, userID string) *model.Session {
	return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
}
