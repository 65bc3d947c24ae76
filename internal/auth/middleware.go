// Package auth guards the admin endpoints with bearer tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ory/herodot"

	"rag-chatbot/internal/config"
	"rag-chatbot/internal/errors"
	"rag-chatbot/internal/logging"
)

type contextKey string

// UserContextKey is the context key for storing the authenticated user
const UserContextKey contextKey = "user"

// Anonymous is the user attached when authentication is disabled.
const Anonymous = "anonymous"

// Verifier turns a bearer token into a user name.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// MockVerifier accepts any non-empty token as the user name.
type MockVerifier struct{}

func (MockVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

// OIDCVerifier checks ID tokens issued by an OpenID Connect provider such
// as Azure AD.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc issuer: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return "", err
	}

	var claims struct {
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}

	for _, user := range []string{claims.PreferredUsername, claims.Email, claims.Name} {
		if user != "" {
			return user, nil
		}
	}
	return idToken.Subject, nil
}

// NewVerifier returns the verifier for the configured auth mode, or nil when
// authentication is disabled.
func NewVerifier(ctx context.Context, cfg config.SecurityConfig) (Verifier, error) {
	switch cfg.AuthMode {
	case "none":
		return nil, nil
	case "oidc":
		v, err := NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return MockVerifier{}, nil
	}
}

// Middleware validates the Authorization header and adds the user to the
// context. A nil verifier lets every request through as Anonymous.
func Middleware(v Verifier, writer *herodot.JSONWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), Anonymous)))
				return
			}

			reject := func(reason string) {
				writer.WriteError(w, r, herodot.ErrUnauthorized.WithReason(reason))
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject("Missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				reject("Invalid authorization header format")
				return
			}

			user, err := v.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				logging.Component("auth").WithError(err).WithField("remote_ip", errors.ClientIP(r)).
					Warn("rejected bearer token")
				reject("Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserFromContext extracts the authenticated user from the context
func GetUserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(UserContextKey).(string)
	return user, ok
}
