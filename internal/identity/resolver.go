package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/internal/auth"
	"github.com/nexus-im/dm/store/user"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// UserLookup loads users by id.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// Resolver maps an authenticated token to the caller's sanitized profile.
type Resolver struct {
	tokens TokenValidator
	users  UserLookup
}

// NewResolver creates a new Resolver.
func NewResolver(tokens TokenValidator, users UserLookup) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Resolve validates token and confirms the user still exists. Any failure of
// the token itself, or a deleted user, is Unauthenticated.
func (r *Resolver) Resolve(ctx context.Context, token string) (*user.Profile, error) {
	if token == "" {
		return nil, apperr.Unauthenticated("authentication required")
	}

	claims, err := r.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return nil, apperr.Wrap(apperr.KindUnauthenticated, "session expired", err)
		}
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "invalid session", err)
	}

	u, err := r.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, apperr.Wrap(apperr.KindUnauthenticated, "invalid session", err)
		}
		return nil, apperr.Internal(errors.Wrap(err, "identity.Resolve"))
	}
	return u.Profile(), nil
}

// TokenFromRequest extracts the session token from X-Session-Token or an
// Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("X-Session-Token"))
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		}
	}
	return token
}

type contextKey struct{}

// WithProfile returns a copy of ctx carrying p.
func WithProfile(ctx context.Context, p *user.Profile) context.Context {
	return context.WithValue(ctx, contextKey{}, *p)
}

// FromContext returns the profile resolved for this request.
func FromContext(ctx context.Context) (user.Profile, bool) {
	p, ok := ctx.Value(contextKey{}).(user.Profile)
	return p, ok
}
