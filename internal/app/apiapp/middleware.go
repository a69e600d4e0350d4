package apiapp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
	httperrors "github.com/ivankudzin/skillmarket/internal/transport/http/errors"
	"github.com/ivankudzin/skillmarket/internal/transport/http/handlers"
)

func ApplyMiddlewares(r chiRouter, log *zap.Logger) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))
}

// IdentityProvider resolves the caller from a session cookie or a bearer
// access token.
type IdentityProvider interface {
	Current(ctx context.Context, sid string) (authsvc.Identity, error)
	FromAccessToken(ctx context.Context, accessToken string) (authsvc.Identity, error)
}

// SessionMiddleware attaches the caller's identity when one can be resolved.
// Anonymous requests pass through untouched.
func SessionMiddleware(auth IdentityProvider, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			var (
				identity authsvc.Identity
				err      error
				resolved bool
			)
			if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
				identity, err = auth.FromAccessToken(r.Context(), token)
				resolved = err == nil
			} else if cookie, cookieErr := r.Cookie(handlers.SessionCookieName); cookieErr == nil && cookie.Value != "" {
				identity, err = auth.Current(r.Context(), cookie.Value)
				resolved = err == nil
			}

			if err != nil && log != nil {
				level := log.Debug
				if !errors.Is(err, authsvc.ErrUnauthorized) {
					level = log.Warn
				}
				level("resolve request identity failed", zap.Error(err))
			}
			if !resolved {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(authsvc.WithIdentity(r.Context(), identity)))
		})
	}
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
			httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
				Code:    "UNAUTHORIZED",
				Message: "authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(value string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.String("request_id", chimiddleware.GetReqID(r.Context())),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
