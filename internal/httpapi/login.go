package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/store/user"
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	GenerateToken(userID, name, email string) (string, error)
	Validity() time.Duration
}

// CredentialLookup finds users by email.
type CredentialLookup interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
}

// LoginHandler exchanges email and password for a session token. It stands
// in for an external identity provider.
type LoginHandler struct {
	users  CredentialLookup
	tokens TokenIssuer
}

// NewLoginHandler creates a LoginHandler.
func NewLoginHandler(users CredentialLookup, tokens TokenIssuer) *LoginHandler {
	return &LoginHandler{users: users, tokens: tokens}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, apperr.InvalidArgument("email and password are required"))
		return
	}

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			writeError(w, apperr.Unauthenticated("invalid credentials"))
			return
		}
		jww.ERROR.Printf("httpapi: login lookup failed: %+v", err)
		writeError(w, apperr.Internal(err))
		return
	}

	if !user.CheckPassword(u.PasswordHash, req.Password) {
		writeError(w, apperr.Unauthenticated("invalid credentials"))
		return
	}

	token, err := h.tokens.GenerateToken(u.ID, u.Name, u.Email)
	if err != nil {
		jww.ERROR.Printf("httpapi: token generation failed user=%s: %v", u.ID, err)
		writeError(w, apperr.Internal(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(h.tokens.Validity().Seconds()),
		"user":       u.Profile(),
	})
}
