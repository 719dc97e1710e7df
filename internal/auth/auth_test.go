package auth_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/auth"
)

const (
	tokenSecret  = "token-secret"
	cookieSecret = "cookie-secret"
)

type testClaims struct {
	UserID    int    `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

func signToken(t *testing.T, secret string, userID int, expiresIn time.Duration) string {
	t.Helper()
	claims := testClaims{
		UserID:    userID,
		SessionID: "session",
	}
	if expiresIn != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(expiresIn))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestAuthenticateValidToken(t *testing.T) {
	s := auth.New("http://auth.invalid", tokenSecret, cookieSecret, false, zerolog.Nop())
	header := "bearer " + signToken(t, tokenSecret, 7, time.Hour)

	userID, newToken, err := s.Authenticate(context.Background(), header, "")

	if err != nil {
		t.Fatalf("Authenticate() returned error: %v", err)
	}
	if userID != 7 {
		t.Errorf("Authenticate() userID = %d, want 7", userID)
	}
	if newToken != "" {
		t.Errorf("Authenticate() issued token %q, want none", newToken)
	}
}

func TestAuthenticateDisabled(t *testing.T) {
	s := auth.New("http://auth.invalid", tokenSecret, cookieSecret, true, zerolog.Nop())

	userID, _, err := s.Authenticate(context.Background(), "complete garbage", "more garbage")

	if err != nil {
		t.Fatalf("Authenticate() returned error: %v", err)
	}
	if userID != 0 {
		t.Errorf("Authenticate() userID = %d, want 0", userID)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	s := auth.New("http://auth.invalid", tokenSecret, cookieSecret, false, zerolog.Nop())

	tests := []struct {
		name    string
		header  string
		cookie  string
		wantErr string
	}{
		{
			name:    "no header",
			wantErr: "Anonymous requests are not allowed.",
		},
		{
			name:    "missing bearer prefix",
			header:  signToken(t, tokenSecret, 7, time.Hour),
			wantErr: "Wrong token format, expected bearer.",
		},
		{
			name:    "wrong signature",
			header:  "bearer " + signToken(t, "other-secret", 7, time.Hour),
			wantErr: "The access token is invalid.",
		},
		{
			name:    "no user id in token",
			header:  "bearer " + signToken(t, tokenSecret, 0, time.Hour),
			wantErr: "The access token is invalid.",
		},
		{
			name:    "expired without cookie",
			header:  "bearer " + signToken(t, tokenSecret, 7, -time.Hour),
			wantErr: "The access token is expired.",
		},
		{
			name:    "expired with undecodable cookie",
			header:  "bearer " + signToken(t, tokenSecret, 7, -time.Hour),
			cookie:  "%zz",
			wantErr: "The refresh cookie is invalid.",
		},
		{
			name:    "expired with unprefixed cookie",
			header:  "bearer " + signToken(t, tokenSecret, 7, -time.Hour),
			cookie:  url.QueryEscape(signToken(t, cookieSecret, 7, time.Hour)),
			wantErr: "Wrong token format, expected bearer.",
		},
		{
			name:    "expired with forged cookie",
			header:  "bearer " + signToken(t, tokenSecret, 7, -time.Hour),
			cookie:  url.QueryEscape("bearer " + signToken(t, "other-secret", 7, time.Hour)),
			wantErr: "The refresh cookie is invalid.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Authenticate(context.Background(), tt.header, tt.cookie)
			if err == nil {
				t.Fatalf("Authenticate() returned no error, want %q", tt.wantErr)
			}
			var authErr auth.AuthError
			if !errors.As(err, &authErr) {
				t.Errorf("Authenticate() error is %T, want AuthError", err)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Authenticate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAuthenticateRefresh(t *testing.T) {
	header := "bearer " + signToken(t, tokenSecret, 7, -time.Hour)
	cookie := url.QueryEscape("bearer " + signToken(t, cookieSecret, 7, time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/auth/authenticate" {
			t.Errorf("auth service called with %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(auth.TokenHeader); got != header {
			t.Errorf("auth service got header %q, want %q", got, header)
		}
		if c, err := r.Cookie(auth.CookieName); err != nil || c.Value != cookie {
			t.Errorf("auth service got cookie %v (%v), want %q", c, err, cookie)
		}
		w.Header().Set(auth.TokenHeader, "bearer fresh-token")
		fmt.Fprint(w, `{"userId": 7}`)
	}))
	defer srv.Close()

	s := auth.New(srv.URL, tokenSecret, cookieSecret, false, zerolog.Nop())
	userID, newToken, err := s.Authenticate(context.Background(), header, cookie)

	if err != nil {
		t.Fatalf("Authenticate() returned error: %v", err)
	}
	if userID != 7 {
		t.Errorf("Authenticate() userID = %d, want 7", userID)
	}
	if newToken != "bearer fresh-token" {
		t.Errorf("Authenticate() issued token %q, want %q", newToken, "bearer fresh-token")
	}
}

func TestAuthenticateRefreshRejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := auth.New(srv.URL, tokenSecret, cookieSecret, false, zerolog.Nop())
	header := "bearer " + signToken(t, tokenSecret, 7, -time.Hour)
	cookie := url.QueryEscape("bearer " + signToken(t, cookieSecret, 7, time.Hour))

	_, _, err := s.Authenticate(context.Background(), header, cookie)

	var authErr auth.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Authenticate() error = %v, want AuthError", err)
	}
	if err.Error() != "The session is not valid anymore." {
		t.Errorf("Authenticate() error = %q, want %q", err.Error(), "The session is not valid anymore.")
	}
	// A rejection is final, not retried.
	if got := calls.Load(); got != 1 {
		t.Errorf("auth service called %d times, want 1", got)
	}
}

func TestAuthenticateRefreshRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"userId": 3}`)
	}))
	defer srv.Close()

	s := auth.New(srv.URL, tokenSecret, cookieSecret, false, zerolog.Nop())
	header := "bearer " + signToken(t, tokenSecret, 3, -time.Hour)
	cookie := url.QueryEscape("bearer " + signToken(t, cookieSecret, 3, time.Hour))

	userID, _, err := s.Authenticate(context.Background(), header, cookie)

	if err != nil {
		t.Fatalf("Authenticate() returned error: %v", err)
	}
	if userID != 3 {
		t.Errorf("Authenticate() userID = %d, want 3", userID)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("auth service called %d times, want 2", got)
	}
}
