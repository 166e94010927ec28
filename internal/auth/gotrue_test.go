package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/fitjourney/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GoTrueClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewGoTrueClient(GoTrueConfig{BaseURL: srv.URL, APIKey: "anon-key", RequestTimeout: 5 * time.Second})
	c.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestGoTrueClient_SignInWithPassword_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.String())
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@x.com" || body["password"] != "secret1" {
			t.Errorf("unexpected body: %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
			"user":          map[string]string{"id": "user-1", "email": "a@x.com"},
		})
	})

	s, err := c.SignInWithPassword(context.Background(), "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AccessToken != "access" || s.RefreshToken != "refresh" {
		t.Errorf("unexpected tokens: %+v", s)
	}
	if s.User.ID != "user-1" || s.User.Email != "a@x.com" {
		t.Errorf("unexpected user: %+v", s.User)
	}
	want := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	if !s.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, want)
	}
}

func TestGoTrueClient_SignInWithPassword_InvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	})

	_, err := c.SignInWithPassword(context.Background(), "a@x.com", "wrong-password")
	if !errors.Is(err, model.ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
	if want := "Invalid login credentials"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should carry provider reason %q", err.Error(), want)
	}
}

func TestGoTrueClient_ServerError_IsUnexpected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"msg": "upstream down"})
	})

	_, err := c.SignInWithPassword(context.Background(), "a@x.com", "secret1")
	if !errors.Is(err, model.ErrUnexpected) {
		t.Fatalf("error = %v, want ErrUnexpected", err)
	}
}

func TestGoTrueClient_SignUp_SendsProfileMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/signup" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Email string            `json:"email"`
			Data  map[string]string `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Data["full_name"] != "Aiko" || body.Data["avatar_url"] != "https://example.com/a.png" {
			t.Errorf("unexpected metadata: %v", body.Data)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "access",
			"expires_at":   time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC).Unix(),
			"user":         map[string]string{"id": "user-2", "email": body.Email},
		})
	})

	s, err := c.SignUp(context.Background(), "new@x.com", "secret1", model.Profile{FullName: "Aiko", AvatarURL: "https://example.com/a.png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.User.Email != "new@x.com" {
		t.Errorf("User.Email = %q", s.User.Email)
	}
	if !s.ExpiresAt.Equal(time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
}

func TestGoTrueClient_SignUp_ConfirmationRequired(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// メール確認が必要な設定ではユーザーのみが返る
		writeJSON(w, http.StatusOK, map[string]string{"id": "user-3", "email": "new@x.com"})
	})

	_, err := c.SignUp(context.Background(), "new@x.com", "secret1", model.Profile{})
	if !errors.Is(err, model.ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}

func TestGoTrueClient_RefreshSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.URL.Query().Get("grant_type"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "old-refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    60,
			"user":          map[string]string{"id": "user-1", "email": "a@x.com"},
		})
	})

	s, err := c.RefreshSession(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AccessToken != "new-access" || s.RefreshToken != "new-refresh" {
		t.Errorf("unexpected session: %+v", s)
	}

	if _, err := c.RefreshSession(context.Background(), "revoked"); !errors.Is(err, model.ErrAuth) {
		t.Errorf("revoked refresh error = %v, want ErrAuth", err)
	}
}

func TestGoTrueClient_SignOutAndGetUser_SendBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		case "/auth/v1/user":
			writeJSON(w, http.StatusOK, map[string]string{"id": "user-1", "email": "a@x.com"})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	if err := c.SignOut(context.Background(), "access"); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}
	id, err := c.GetUser(context.Background(), "access")
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if id.ID != "user-1" {
		t.Errorf("ID = %q", id.ID)
	}
}

func TestGoTrueClient_ResetPasswordForEmail(t *testing.T) {
	var gotEmail string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/recover" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotEmail = body["email"]
		writeJSON(w, http.StatusOK, map[string]string{})
	})

	if err := c.ResetPasswordForEmail(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEmail != "a@x.com" {
		t.Errorf("email = %q", gotEmail)
	}
}

func TestGoTrueClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.SignInWithPassword(ctx, "a@x.com", "secret1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}
