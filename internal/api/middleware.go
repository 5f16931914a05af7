package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/models"
)

const sessionCookie = "session"

type ctxKey int

const principalKey ctxKey = iota

// principal is the authenticated caller of a request.
type principal struct {
	UserID int64
	Role   models.Role
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey).(principal)
	return p, ok
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// authenticate accepts a Bearer token or the session cookie.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(sessionCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			s.writeError(w, r, apperr.ErrUnauthenticated)
			return
		}

		claims, err := s.deps.Tokens.Parse(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal{UserID: userID, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin checks the stored role, so a demoted admin loses access before the
// token expires.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if !ok {
			s.writeError(w, r, apperr.ErrUnauthenticated)
			return
		}
		user, err := s.deps.Users.Get(r.Context(), p.UserID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				err = apperr.ErrUnauthenticated
			}
			s.writeError(w, r, err)
			return
		}
		if !user.IsAdmin() {
			s.writeError(w, r, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func mustPrincipal(r *http.Request) principal {
	p, _ := principalFrom(r.Context())
	return p
}
