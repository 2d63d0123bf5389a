package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"harvestsync/internal/domain/user"
	"harvestsync/internal/shared/auth"
)

type ContextKey string

const SessionKey ContextKey = "session"

// Session is the authenticated board caller.
type Session struct {
	AccountID       string
	UserID          string
	ShortLivedToken string
	User            *user.User
}

// UserLookup is the slice of the user repository the middleware needs.
type UserLookup interface {
	GetByBoardUser(ctx context.Context, accountID, userID string) (*user.User, error)
}

// RequireSession verifies the board-signed Authorization token and loads the
// user holding ledger credentials. Unknown users are rejected.
func RequireSession(verifier *auth.Verifier, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				log.Printf("Session rejected: no authorization header on %s", r.URL.Path)
				notAuthenticated(w)
				return
			}

			claims, err := verifier.Verify(header)
			if err != nil {
				log.Printf("Session rejected on %s: %v", r.URL.Path, err)
				notAuthenticated(w)
				return
			}

			u, err := users.GetByBoardUser(r.Context(), claims.AccountID.String(), claims.UserID.String())
			if err != nil {
				log.Printf("Session user lookup failed: %v", err)
				notAuthenticated(w)
				return
			}
			if u == nil {
				log.Printf("Session rejected: user %s in account %s has not authorized the ledger", claims.UserID, claims.AccountID)
				notAuthenticated(w)
				return
			}

			s := &Session{
				AccountID:       claims.AccountID.String(),
				UserID:          claims.UserID.String(),
				ShortLivedToken: claims.ShortLivedToken,
				User:            u,
			}
			if h, ok := r.Context().Value(sessionHolderKey{}).(*sessionHolder); ok {
				h.session = s
			}

			ctx := context.WithValue(r.Context(), SessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the session installed by RequireSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(SessionKey).(*Session)
	return s, ok && s != nil
}

func notAuthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "Not authenticated"})
}

// sessionHolder lets the access log see the session resolved further down
// the chain.
type sessionHolderKey struct{}

type sessionHolder struct {
	session *Session
}

func withSessionHolder(ctx context.Context, h *sessionHolder) context.Context {
	return context.WithValue(ctx, sessionHolderKey{}, h)
}
