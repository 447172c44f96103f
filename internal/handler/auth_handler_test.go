package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/jobboard/internal/auth"
	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/sessionsync"
)

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		BaseURL:       "http://localhost:3000",
		SessionMaxAge: 86400,
	}
}

func TestAuthHandler_Login_RedirectsToOAuthURL(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	location := resp.Header.Get("Location")
	if !strings.Contains(location, "accounts.google.com") {
		t.Errorf("Location = %q, should contain google oauth URL", location)
	}

	state := findCookie(resp, "oauth_state")
	if state == nil || state.Value == "" {
		t.Fatal("expected oauth_state cookie")
	}
	if !strings.HasSuffix(location, "state="+state.Value) {
		t.Errorf("Location = %q, should carry the state cookie value", location)
	}
	if findCookie(resp, "signup_type") != nil {
		t.Error("signup_type cookie should not be set without user_type")
	}
}

func TestAuthHandler_Login_StoresSignupType(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testAuthConfig())

	tests := []struct {
		query string
		want  string
	}{
		{"employer", "employer"},
		{"applicant", "applicant"},
		{"admin", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/google/login?user_type="+tt.query, nil)
			w := httptest.NewRecorder()

			h.Login(w, req)

			c := findCookie(w.Result(), "signup_type")
			if tt.want == "" {
				if c != nil {
					t.Errorf("signup_type cookie = %q, want none", c.Value)
				}
				return
			}
			if c == nil || c.Value != tt.want {
				t.Fatalf("signup_type cookie = %v, want %q", c, tt.want)
			}
			if !c.HttpOnly {
				t.Error("signup_type cookie should be HttpOnly")
			}
		})
	}
}

func TestAuthHandler_Callback_Success_SetsCookiePublishesAndRedirects(t *testing.T) {
	session := testSession("session-id-abc", "user-id-123")
	var gotType model.UserType
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error) {
			if code != "test-code" {
				t.Errorf("code = %q, want %q", code, "test-code")
			}
			gotType = signupType
			return &auth.CallbackResult{Session: session, NewUser: true}, nil
		},
	}
	pub := &recordingPublisher{}
	h := NewAuthHandler(svc, pub, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	req.AddCookie(&http.Cookie{Name: "signup_type", Value: "employer"})
	req = withIdentity(req, "client-1", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if loc := resp.Header.Get("Location"); loc != "http://localhost:3000" {
		t.Errorf("Location = %q, want %q", loc, "http://localhost:3000")
	}
	if gotType != model.UserTypeEmployer {
		t.Errorf("signupType = %q, want %q", gotType, model.UserTypeEmployer)
	}

	sessionCookie := findCookie(resp, "session_id")
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be set")
	}
	if sessionCookie.Value != "session-id-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-id-abc")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if sessionCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want %v", sessionCookie.SameSite, http.SameSiteLaxMode)
	}
	if c := findCookie(resp, "signup_type"); c == nil || c.MaxAge >= 0 {
		t.Error("signup_type cookie should be cleared")
	}

	events := pub.eventsFor("client-1")
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].Type != sessionsync.EventSignedIn || events[0].Session.ID != "session-id-abc" {
		t.Errorf("event = %+v, want SIGNED_IN with the new session", events[0])
	}
}

func TestAuthHandler_Callback_DefaultsToApplicant(t *testing.T) {
	var gotType model.UserType
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error) {
			gotType = signupType
			return &auth.CallbackResult{Session: testSession("s", "u")}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=st", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "st"})
	req.AddCookie(&http.Cookie{Name: "signup_type", Value: "bogus"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if gotType != model.UserTypeApplicant {
		t.Errorf("signupType = %q, want %q", gotType, model.UserTypeApplicant)
	}
}

func TestAuthHandler_Callback_MissingCode_ReturnsBadRequest(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_StateMismatch_ReturnsBadRequest(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cookie *http.Cookie
	}{
		{"mismatch", "state=wrong-state", &http.Cookie{Name: "oauth_state", Value: "correct-state"}},
		{"no cookie", "state=test-state", nil},
		{"empty state", "state=", &http.Cookie{Name: "oauth_state", Value: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockAuthService{
				handleCallbackFn: func(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error) {
					called = true
					return nil, nil
				},
			}
			h := NewAuthHandler(svc, nil, testAuthConfig())

			req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&"+tt.query, nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()

			h.Callback(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if called {
				t.Error("HandleCallback should not be called")
			}
		})
	}
}

func TestAuthHandler_Callback_AuthServiceError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error) {
			return nil, errors.New("auth failed")
		},
	}
	pub := &recordingPublisher{}
	h := NewAuthHandler(svc, pub, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=bad-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	req = withIdentity(req, "client-1", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if len(pub.eventsFor("client-1")) != 0 {
		t.Error("no event should be published on failure")
	}
}

func TestAuthHandler_Logout_ClearsCookieAndPublishesSignedOut(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	pub := &recordingPublisher{}
	h := NewAuthHandler(svc, pub, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-to-delete"})
	req = withIdentity(req, "client-1", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if loggedOut != "session-to-delete" {
		t.Errorf("Logout called with %q, want %q", loggedOut, "session-to-delete")
	}
	if c := findCookie(resp, "session_id"); c == nil || c.MaxAge >= 0 {
		t.Error("session cookie should be cleared")
	}

	events := pub.eventsFor("client-1")
	if len(events) != 1 || events[0].Type != sessionsync.EventSignedOut {
		t.Errorf("events = %+v, want one SIGNED_OUT", events)
	}
}

func TestAuthHandler_Logout_ServiceErrorStillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "s"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if c := findCookie(w.Result(), "session_id"); c == nil || c.MaxAge >= 0 {
		t.Error("session cookie should be cleared")
	}
}

func TestAuthHandler_Refresh_ExtendsSessionAndPublishesTokenRefreshed(t *testing.T) {
	expires := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	svc := &mockAuthService{
		refreshFn: func(ctx context.Context, sessionID string) (*model.Session, error) {
			return &model.Session{ID: sessionID, UserID: "user-1", ExpiresAt: expires}, nil
		},
	}
	pub := &recordingPublisher{}
	h := NewAuthHandler(svc, pub, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-1"})
	req = withIdentity(req, "client-1", nil)
	w := httptest.NewRecorder()

	h.Refresh(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body refreshResponse
	decodeBody(t, resp, &body)
	if !body.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at = %v, want %v", body.ExpiresAt, expires)
	}
	if c := findCookie(resp, "session_id"); c == nil || c.MaxAge != 86400 {
		t.Errorf("session cookie = %v, want MaxAge 86400", c)
	}

	events := pub.eventsFor("client-1")
	if len(events) != 1 || events[0].Type != sessionsync.EventTokenRefreshed {
		t.Fatalf("events = %+v, want one TOKEN_REFRESHED", events)
	}
	if events[0].Session == nil || events[0].Session.ID != "session-1" {
		t.Errorf("event session = %+v, want session-1", events[0].Session)
	}
}

func TestAuthHandler_Refresh_ExpiredSession(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewAuthHandler(&mockAuthService{}, pub, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "expired"})
	req = withIdentity(req, "client-1", nil)
	w := httptest.NewRecorder()

	h.Refresh(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	events := pub.eventsFor("client-1")
	if len(events) != 1 || events[0].Type != sessionsync.EventSignedOut {
		t.Errorf("events = %+v, want one SIGNED_OUT", events)
	}
}

func TestAuthHandler_Refresh_NoCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	w := httptest.NewRecorder()

	h.Refresh(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Me_Authenticated_ReturnsUserJSON(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{ID: "user-123", Email: "test@example.com", Name: "Test User"}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid-session"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["email"] != "test@example.com" {
		t.Errorf("email = %q, want %q", body["email"], "test@example.com")
	}
}

func TestAuthHandler_Me_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_PublishFailureDoesNotFailRequest(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error) {
			return &auth.CallbackResult{Session: testSession("s", "u")}, nil
		},
	}
	pub := &recordingPublisher{err: errors.New("synchronizer stopped")}
	h := NewAuthHandler(svc, pub, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=st", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "st"})
	req = withIdentity(req, "client-1", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}
