package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/store"
)

const bearerPrefix = "Bearer "

// Authenticate attaches an auth.Identity to the request context when the
// request carries a valid bearer token. It never writes a response: a
// missing, malformed or stale token simply leaves the request anonymous and
// RequireAuth decides what to do with it.
func Authenticate(svc *services.AuthService, lookup services.UserLookup, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	if lookup == nil {
		lookup = svc.Lookup()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if _, already := auth.IdentityFromContext(r.Context()); already {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := svc.ResolveIdentity(r.Context(), token, lookup)
			if err != nil {
				logResolveFailure(r, logger, err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that carry no identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.IdentityFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		return "", false
	}
	return token, true
}

// logResolveFailure logs the class of failure only; the token itself is
// never logged.
func logResolveFailure(r *http.Request, logger logging.Logger, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		logger.Debug(ctx, "bearer token rejected", "reason", "expired")
	case errors.Is(err, auth.ErrTokenSignatureInvalid):
		logger.Debug(ctx, "bearer token rejected", "reason", "bad signature")
	case errors.Is(err, auth.ErrTokenMalformed):
		logger.Debug(ctx, "bearer token rejected", "reason", "malformed")
	case errors.Is(err, store.ErrNotFound):
		logger.Debug(ctx, "bearer token rejected", "reason", "unknown subject")
	case ctx.Err() != nil:
		logger.Debug(ctx, "bearer token not resolved", "reason", "request cancelled")
	default:
		logger.Error(ctx, "resolve bearer identity", "error", err)
	}
}
