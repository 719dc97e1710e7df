// Package auth verifies the platform's session tokens and hashes
// passwords the way the auth service does. Access tokens are HS256 JWTs
// checked locally; only the refresh of an expired token talks to the
// service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Header and cookie names of the platform's session protocol.
const (
	TokenHeader  = "Authentication"
	CookieName   = "refreshId"
	bearerPrefix = "bearer "
)

// AuthError is a rejected authentication. The server answers with 401.
type AuthError struct {
	msg string
}

func (e AuthError) Error() string {
	return e.msg
}

func authErrorf(format string, a ...any) AuthError {
	return AuthError{msg: fmt.Sprintf(format, a...)}
}

// sessionClaims is the payload the auth service signs into both JWTs.
type sessionClaims struct {
	UserID    int    `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Service authenticates requests against the platform session secrets.
type Service struct {
	url          string
	tokenSecret  []byte
	cookieSecret []byte
	disabled     bool
	client       *http.Client
	log          zerolog.Logger
}

// New builds a Service. url points at the auth service and is only used
// for token refresh. With disabled set every request passes as the
// anonymous user.
func New(url, tokenSecret, cookieSecret string, disabled bool, log zerolog.Logger) *Service {
	return &Service{
		url:          strings.TrimRight(url, "/"),
		tokenSecret:  []byte(tokenSecret),
		cookieSecret: []byte(cookieSecret),
		disabled:     disabled,
		client:       &http.Client{Timeout: 10 * time.Second},
		log:          log,
	}
}

// Authenticate resolves the acting user from the Authentication header
// and the refreshId cookie. When the access token is expired but the
// cookie still valid, the auth service issues a fresh token which is
// returned so the server can echo it to the client.
func (s *Service) Authenticate(ctx context.Context, header, cookie string) (int, string, error) {
	if s.disabled {
		return 0, "", nil
	}
	if header == "" {
		return 0, "", authErrorf("Anonymous requests are not allowed.")
	}
	raw, err := stripBearer(header)
	if err != nil {
		return 0, "", err
	}
	claims, err := s.parseToken(raw, s.tokenSecret)
	if err == nil {
		return claims.UserID, "", nil
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		s.log.Debug().Err(err).Msg("access token rejected")
		return 0, "", authErrorf("The access token is invalid.")
	}
	return s.refresh(ctx, header, cookie)
}

// refresh exchanges an expired access token for a fresh one. The cookie
// is verified locally first so obvious garbage never reaches the service.
func (s *Service) refresh(ctx context.Context, header, cookie string) (int, string, error) {
	if cookie == "" {
		return 0, "", authErrorf("The access token is expired.")
	}
	unquoted, err := url.QueryUnescape(cookie)
	if err != nil {
		return 0, "", authErrorf("The refresh cookie is invalid.")
	}
	raw, err := stripBearer(unquoted)
	if err != nil {
		return 0, "", err
	}
	if _, err := s.parseToken(raw, s.cookieSecret); err != nil {
		s.log.Debug().Err(err).Msg("refresh cookie rejected")
		return 0, "", authErrorf("The refresh cookie is invalid.")
	}

	userID, token, err := s.remoteAuthenticate(ctx, header, cookie)
	if err != nil {
		return 0, "", err
	}
	return userID, token, nil
}

func (s *Service) parseToken(raw string, secret []byte) (*sessionClaims, error) {
	claims := new(sessionClaims)
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("token carries no user id")
	}
	return claims, nil
}

// remoteAuthenticate posts the credentials to the auth service. Transient
// failures are retried with backoff; an explicit rejection is not.
func (s *Service) remoteAuthenticate(ctx context.Context, header, cookie string) (int, string, error) {
	var userID int
	var token string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/internal/auth/authenticate", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set(TokenHeader, header)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500:
			return fmt.Errorf("auth service answered %d", resp.StatusCode)
		default:
			return backoff.Permanent(authErrorf("The session is not valid anymore."))
		}

		var answer struct {
			UserID int `json:"userId"`
		}
		if err := json.Unmarshal(body, &answer); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding auth response: %w", err))
		}
		userID = answer.UserID
		token = resp.Header.Get(TokenHeader)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		var authErr AuthError
		if errors.As(err, &authErr) {
			return 0, "", authErr
		}
		return 0, "", fmt.Errorf("refreshing session: %w", err)
	}
	s.log.Debug().Int("user_id", userID).Msg("session refreshed")
	return userID, token, nil
}

func stripBearer(value string) (string, error) {
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", authErrorf("Wrong token format, expected bearer.")
	}
	return value[len(bearerPrefix):], nil
}
