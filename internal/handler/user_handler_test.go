package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/jobboard/internal/model"
)

type recordingRemover struct {
	removed []string
}

func (r *recordingRemover) Remove(clientID string) {
	r.removed = append(r.removed, clientID)
}

func TestUserHandler_Withdraw_Success(t *testing.T) {
	withdrawCalled := false
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			withdrawCalled = true
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			return nil
		},
	}
	remover := &recordingRemover{}
	h := NewUserHandler(svc, remover, testAuthConfig())

	req := httptest.NewRequest(http.MethodDelete, "/api/users/me", nil)
	req = withIdentity(req, "client-1", testSession("sid", "user-123"))
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if !withdrawCalled {
		t.Error("expected Withdraw to be called")
	}
	if c := findCookie(resp, "session_id"); c == nil || c.MaxAge >= 0 {
		t.Error("session cookie should be cleared")
	}
	if len(remover.removed) != 1 || remover.removed[0] != "client-1" {
		t.Errorf("removed = %v, want [client-1]", remover.removed)
	}
}

func TestUserHandler_Withdraw_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, nil, testAuthConfig())

	req := httptest.NewRequest(http.MethodDelete, "/api/users/me", nil)
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_Withdraw_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"user not found", model.NewUserNotFoundError(), http.StatusNotFound},
		{"internal", errors.New("database connection lost"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{
				withdrawFn: func(ctx context.Context, userID string) error { return tt.err },
			}
			remover := &recordingRemover{}
			h := NewUserHandler(svc, remover, testAuthConfig())

			req := withIdentity(httptest.NewRequest(http.MethodDelete, "/api/users/me", nil), "client-1", testSession("sid", "u"))
			w := httptest.NewRecorder()

			h.Withdraw(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if len(remover.removed) != 0 {
				t.Error("synchronizer should be kept when withdrawal fails")
			}
		})
	}
}
