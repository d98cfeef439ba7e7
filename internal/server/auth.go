package server

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gatekeep-io/gatekeep/internal/requestctx"
	"github.com/gatekeep-io/gatekeep/internal/store"
)

// authMiddleware validates HTTP basic auth against the user table and puts
// the authenticated identity in the request context. The project scope is
// resolved per handler, not here.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="gatekeep"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing credentials")
			return
		}
		user, err := s.store.Authenticate(r.Context(), username, password)
		if err != nil {
			if errors.Is(err, store.ErrAuthFailed) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal", "Authentication unavailable")
			return
		}
		ident := requestctx.Identity{Username: user.Username, Role: user.Role}
		next.ServeHTTP(w, r.WithContext(requestctx.SetIdentity(r.Context(), ident)))
	})
}

const (
	requestsPerSecond = 5
	burstSize         = 10
)

// userLimiter keeps one token bucket per username.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newUserLimiter() *userLimiter {
	return &userLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (u *userLimiter) allow(username string) bool {
	u.mu.Lock()
	lim, ok := u.limiters[username]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)
		u.limiters[username] = lim
	}
	u.mu.Unlock()
	return lim.Allow()
}

// rateLimitMiddleware throttles per authenticated user.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := requestctx.IdentityFrom(r.Context())
		if ok && !s.limiter.allow(ident.Username) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerSecond))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
