package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/jobboard/internal/auth"
	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/model"
)

const testClientID = "6f1c2a34-8d4e-4b8a-9f21-3c5d7e9a0b12"

type stubChecker struct {
	err error
}

func (c stubChecker) PingContext(context.Context) error { return c.err }

type routerFixture struct {
	handler  http.Handler
	identity *fakeIdentity
	sessions *mockSessionFinder
	auth     *mockAuthService
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	identity := newFakeIdentity()
	sessions := &mockSessionFinder{sessions: make(map[string]*model.Session)}
	authSvc := &mockAuthService{}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		SessionFinder:     sessions,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     stubChecker{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
		AuthService:        authSvc,
		AuthConfig:         testAuthConfig(),
		SessionHub:         newTestHub(t, identity),
		ProfileReader:      identity,
		RateService:        &mockRateService{},
		JobService:         &mockJobService{},
		CareersFeedService: &mockCareersFeedService{},
		UserService:        &mockUserService{},
	}
	return &routerFixture{
		handler:  NewRouter(deps),
		identity: identity,
		sessions: sessions,
		auth:     authSvc,
	}
}

// signIn はIdPとセッションストアの両方にユーザーを登録する。
func (f *routerFixture) signIn(session *model.Session, profile *model.Profile) {
	f.identity.addUser(session, profile)
	f.sessions.mu.Lock()
	f.sessions.sessions[session.ID] = session
	f.sessions.mu.Unlock()
}

type requestOpts struct {
	session string
	csrf    bool
	body    string
}

func (f *routerFixture) do(method, path string, opts requestOpts) *http.Response {
	var body io.Reader
	if opts.body != "" {
		body = strings.NewReader(opts.body)
	}
	req := httptest.NewRequest(method, path, body)
	req.AddCookie(&http.Cookie{Name: middleware.ClientIDCookieName, Value: testClientID})
	if opts.session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: opts.session})
	}
	if opts.csrf {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
		req.Header.Set("X-CSRF-Token", "tok")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w.Result()
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(http.MethodGet, "/health", requestOpts{})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp = f.do(http.MethodGet, "/metrics", requestOpts{})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if findCookie(resp, middleware.ClientIDCookieName) != nil {
		t.Error("/metrics should not issue a client id cookie")
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	h := NewRouter(&RouterDeps{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		SessionFinder: &mockSessionFinder{},
		RateLimiter:   rl,
		HealthChecker: stubChecker{err: errors.New("connection refused")},
		SessionHub:    newTestHub(t, newFakeIdentity()),
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_IssuesClientIDCookie(t *testing.T) {
	f := newRouterFixture(t)

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if c := findCookie(w.Result(), middleware.ClientIDCookieName); c == nil || c.Value == "" {
		t.Error("client id cookie should be issued")
	}
}

func TestRouter_CSRFToken(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(http.MethodGet, "/api/csrf-token", requestOpts{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["token"] == "" {
		t.Error("token should not be empty")
	}
}

func TestRouter_MiddlewareOrder(t *testing.T) {
	f := newRouterFixture(t)
	f.signIn(testSession("sid-1", "user-1"), applicantProfile("user-1"))

	tests := []struct {
		name   string
		method string
		path   string
		opts   requestOpts
		want   int
	}{
		{"公開GETはセッション無しで通る", http.MethodGet, "/api/jobs", requestOpts{}, http.StatusOK},
		{"通貨レートは公開", http.MethodGet, "/api/currency/rates/USD", requestOpts{}, http.StatusOK},
		{"プロフィールはセッション必須", http.MethodGet, "/api/profile", requestOpts{}, http.StatusUnauthorized},
		{"プロフィール取得", http.MethodGet, "/api/profile", requestOpts{session: "sid-1"}, http.StatusOK},
		{"PUTはCSRF無しで403", http.MethodPut, "/api/profile", requestOpts{session: "sid-1", body: `{"full_name":"x"}`}, http.StatusForbidden},
		{"セッション確認がCSRFより先", http.MethodPut, "/api/profile", requestOpts{csrf: true, body: `{"full_name":"x"}`}, http.StatusUnauthorized},
		{"PUTはセッションとCSRFで通る", http.MethodPut, "/api/profile", requestOpts{session: "sid-1", csrf: true, body: `{"full_name":"x"}`}, http.StatusOK},
		{"求人削除はセッション必須", http.MethodDelete, "/api/jobs/job-1", requestOpts{csrf: true}, http.StatusUnauthorized},
		{"サインアウトはCSRF必須", http.MethodPost, "/api/session/signout", requestOpts{session: "sid-1"}, http.StatusForbidden},
		{"ログアウトはCSRF必須", http.MethodPost, "/auth/logout", requestOpts{session: "sid-1"}, http.StatusForbidden},
		{"採用フィード未登録", http.MethodGet, "/api/employer/feed", requestOpts{session: "sid-1"}, http.StatusNotFound},
		{"退会", http.MethodDelete, "/api/users/me", requestOpts{session: "sid-1", csrf: true}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(tt.method, tt.path, tt.opts)
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRouter_SignInFlow(t *testing.T) {
	f := newRouterFixture(t)
	session := testSession("sid-emp", "emp-1")
	f.auth.handleCallbackFn = func(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error) {
		if signupType != model.UserTypeEmployer {
			t.Errorf("signupType = %q, want employer", signupType)
		}
		f.signIn(session, employerProfile("emp-1"))
		return &auth.CallbackResult{Session: session, NewUser: true}, nil
	}

	// 1. ログイン開始
	resp := f.do(http.MethodGet, "/auth/google/login?user_type=employer", requestOpts{})
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("login status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	stateCookie := findCookie(resp, "oauth_state")
	typeCookie := findCookie(resp, "signup_type")
	if stateCookie == nil || typeCookie == nil {
		t.Fatal("login should set oauth_state and signup_type cookies")
	}

	// 2. コールバック
	q := url.Values{"code": {"auth-code"}, "state": {stateCookie.Value}}
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: middleware.ClientIDCookieName, Value: testClientID})
	req.AddCookie(stateCookie)
	req.AddCookie(typeCookie)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("callback status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	sessionCookie := findCookie(w.Result(), middleware.SessionCookieName)
	if sessionCookie == nil || sessionCookie.Value != "sid-emp" {
		t.Fatalf("session cookie = %+v, want sid-emp", sessionCookie)
	}

	// 3. ログイン画面から状態を取得すると採用企業のホームへ遷移する
	resp = f.do(http.MethodGet, "/api/session?location=/login", requestOpts{session: "sid-emp"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var st sessionStateResponse
	decodeBody(t, resp, &st)
	if !st.IsAuthenticated || st.Profile == nil || st.Profile.UserType != "employer" {
		t.Errorf("state = %+v, want authenticated employer", st)
	}
	if st.NavigateTo != "/employer/dashboard" {
		t.Errorf("navigate_to = %q, want /employer/dashboard", st.NavigateTo)
	}

	// 4. サインアウト
	resp = f.do(http.MethodPost, "/api/session/signout", requestOpts{session: "sid-emp", csrf: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signout status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	decodeBody(t, resp, &st)
	if st.IsAuthenticated || st.Profile != nil {
		t.Errorf("state after signout = %+v, want cleared", st)
	}
}
