// ABOUTME: Request authentication for the chat endpoint and HTTP middleware
// ABOUTME: Accepts a JWT from the Authorization header, the token query parameter, or a cookie

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/coven-chat/internal/store"
)

// ErrNoCredentials is returned when a request carries no token at all.
var ErrNoCredentials = errors.New("no credentials")

// UserLookup resolves a verified user ID to its account.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
}

// Authenticator turns request credentials into an Identity.
type Authenticator struct {
	verifier   TokenVerifier
	users      UserLookup
	cookieName string
}

// NewAuthenticator creates an Authenticator. An empty cookieName disables
// cookie credentials.
func NewAuthenticator(verifier TokenVerifier, users UserLookup, cookieName string) *Authenticator {
	return &Authenticator{verifier: verifier, users: users, cookieName: cookieName}
}

// extractToken finds a token in the request. Browsers cannot set headers on
// a WebSocket upgrade, hence the query and cookie fallbacks.
func (a *Authenticator) extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if a.cookieName != "" {
		if c, err := r.Cookie(a.cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// Authenticate verifies the request's token and loads the user.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := a.extractToken(r)
	if token == "" {
		return nil, ErrNoCredentials
	}

	userID, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	u, err := a.users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %d: %v", ErrInvalidToken, userID, err)
	}
	return &Identity{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}, nil
}

// Middleware rejects unauthenticated requests with 401 and attaches the
// Identity to the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
