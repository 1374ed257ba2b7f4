// Package server exposes the admin dashboard views over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"munportal/internal/admin"
	"munportal/internal/api"
	"munportal/internal/fetch"
	"munportal/internal/logging"
	"munportal/internal/metrics"
	"munportal/internal/middleware"
)

type Options struct {
	// LoginPath is the unlisted segment the login routes live under.
	LoginPath      string
	AllowCIDRs     []string
	TrustedProxies []string
	// RequestTimeout bounds how long a handler waits for a cold fetch.
	RequestTimeout time.Duration
}

type Server struct {
	dash     *admin.Dashboard
	logger   logging.Logger
	loginURL string
	router   *chi.Mux
}

func New(dash *admin.Dashboard, opts Options, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	allow, err := middleware.IPAllow(logger, opts.AllowCIDRs, opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		dash:     dash,
		logger:   logger,
		loginURL: "/" + opts.LoginPath,
		router:   chi.NewRouter(),
	}

	// No RealIP: client addresses come from the connection, and IPAllow
	// decides which forwarding headers to believe.
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.AccessLog(logger))
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(opts.RequestTimeout))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route(s.loginURL, func(r chi.Router) {
		r.Use(allow)
		r.Get("/", s.handleLoginHint)
		r.Post("/", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	})

	requireSession := middleware.RequireSession(dash.Session(), s.loginURL, logger)
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return middleware.Chain(next, allow, requireSession)
		})
		r.Post("/refresh", s.handleRefresh)
		r.Route("/{kind}/registrations", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleDetail)
			r.Get("/{id}/screenshot", s.handleScreenshot)
			r.Post("/{id}/refresh", s.handleRefreshRegistration)
		})
	})

	return s, nil
}

// Router exposes the root HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoginHint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": s.dash.Session().Authenticated(r.Context()),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	me, err := s.dash.Session().Login(r.Context(), creds)
	if err != nil {
		code, msg := loginFailure(err)
		s.requestLogger(r).Warn("admin login failed", "username", creds.Username, "error", err)
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

func loginFailure(err error) (int, string) {
	var apiErr *api.Error
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		return http.StatusUnauthorized, api.Message(err, "Invalid credentials")
	case api.IsNetwork(err):
		return http.StatusBadGateway, "Could not reach the registration service"
	default:
		return http.StatusBadGateway, "Login failed"
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Session().Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	http.Redirect(w, r, s.loginURL, http.StatusSeeOther)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		s.dash.RefreshAll()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	kind, err := api.ParseKind(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.dash.RefreshLists(kind)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshRegistration drops the cached document and screenshot of one
// registration so the next read goes to the backend.
func (s *Server) handleRefreshRegistration(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	s.dash.InvalidateRegistration(kind, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestLogger(r *http.Request) logging.Logger {
	return s.logger.With("request_id", chimw.GetReqID(r.Context()))
}

// Views are not closed after the response: the revalidation they started
// keeps running and refreshes the cache for the next request.

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	st, err := s.dash.ListView(kind, nil).Load(r.Context(), api.FilterFromQuery(r.URL.Query()))
	respond(s, w, r, st, err)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	st, err := s.dash.DetailView(kind, nil).Load(r.Context(), chi.URLParam(r, "id"))
	respond(s, w, r, st, err)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	st, err := s.dash.ScreenshotView(kind, nil).Load(r.Context(), chi.URLParam(r, "id"))
	respond(s, w, r, st, err)
}

func (s *Server) kind(w http.ResponseWriter, r *http.Request) (api.Kind, bool) {
	kind, err := api.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

type viewResponse[T any] struct {
	Data      *T     `json:"data,omitempty"`
	Loading   bool   `json:"loading"`
	FromCache bool   `json:"fromCache"`
	Error     string `json:"error,omitempty"`
	Notice    string `json:"notice,omitempty"`
}

// respond maps a view state to a response. A rejected session redirects to
// the login page; an error with nothing to show is a bad gateway.
func respond[T any](s *Server, w http.ResponseWriter, r *http.Request, st fetch.State[T], err error) {
	if err != nil {
		if r.Context().Err() == nil {
			s.requestLogger(r).Warn("view load failed", "path", r.URL.Path, "error", err)
		}
		writeError(w, http.StatusGatewayTimeout, "Timed out waiting for the registration service")
		return
	}
	if st.Unauthorized {
		http.Redirect(w, r, s.loginURL, http.StatusSeeOther)
		return
	}

	resp := viewResponse[T]{
		Loading:   st.Loading,
		FromCache: st.FromCache,
		Error:     st.Error,
		Notice:    st.Notice,
	}
	if st.HasData {
		resp.Data = &st.Data
	}

	code := http.StatusOK
	if st.Error != "" && !st.HasData {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
