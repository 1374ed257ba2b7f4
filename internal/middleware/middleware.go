package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"munportal/internal/logging"
)

type Middleware func(http.Handler) http.Handler

// Chain applies middlewares in order: m1(m2(...(h))).
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Authenticator reports whether an admin session is active.
type Authenticator interface {
	Authenticated(ctx context.Context) bool
}

// RequireSession sends requests without an admin session to loginPath.
func RequireSession(auth Authenticator, loginPath string, logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Authenticated(r.Context()) {
				if logger != nil {
					logger.Info("no admin session", "path", r.URL.Path)
				}
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one line per request once the response is written.
func AccessLog(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.With("request_id", chimw.GetReqID(r.Context())).Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
