// Package app assembles the dashboard, the registration form and the HTTP
// server from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"munportal/internal/admin"
	"munportal/internal/api"
	"munportal/internal/cache"
	"munportal/internal/config"
	"munportal/internal/logging"
	"munportal/internal/metrics"
	"munportal/internal/registration"
	"munportal/internal/server"
	"munportal/internal/session"
	"munportal/internal/upstream"
)

type ListenerServer struct {
	Server *http.Server
	TLS    config.TLSConfig
}

// App holds the long-lived components shared by the CLI commands and the
// server.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Cache     *cache.InMemoryCache
	Store     *session.BunStore
	Tokens    *session.Tokens
	Client    *api.Client
	Session   *admin.Session
	Dashboard *admin.Dashboard
}

type Builder struct {
	cfg    *config.Config
	logger logging.Logger
}

func NewBuilder(cfg *config.Config, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Builder{
		cfg:    cfg,
		logger: logger,
	}
}

func (b *Builder) Build(ctx context.Context) (*App, error) {
	store, err := session.OpenSQLite(ctx, b.cfg.Session.DSN)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	tokens := session.NewTokens(store)

	httpClient := upstream.NewClient(b.cfg.API.Timeout)
	client := api.New(b.cfg.API.BaseURL, httpClient, tokens, b.logger)

	memcache := cache.NewInMemoryCache(b.cfg.Cache.MaxEntries)
	metrics.SetCacheSize(memcache.Len)
	sess := admin.NewSession(client, tokens, memcache, b.cfg.Admin.LoginPath, b.logger)
	sess.OnLogout(func(loginPath string) {
		b.logger.Info("admin logged out", "login_path", "/"+loginPath)
	})

	dash := admin.NewDashboard(client, memcache, sess, admin.TTLs{
		List:       b.cfg.ResourceTTL(config.ResourceList),
		Detail:     b.cfg.ResourceTTL(config.ResourceDetail),
		Screenshot: b.cfg.ResourceTTL(config.ResourceScreenshot),
	}, b.logger)

	return &App{
		Config:    b.cfg,
		Logger:    b.logger,
		Cache:     memcache,
		Store:     store,
		Tokens:    tokens,
		Client:    client,
		Session:   sess,
		Dashboard: dash,
	}, nil
}

// Listener builds the dashboard HTTP server.
func (a *App) Listener() (*ListenerServer, error) {
	srv, err := server.New(a.Dashboard, server.Options{
		LoginPath:      a.Config.Admin.LoginPath,
		AllowCIDRs:     a.Config.Server.AllowCIDRs,
		TrustedProxies: a.Config.Server.TrustedProxies,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return &ListenerServer{
		Server: &http.Server{
			Addr:    a.Config.Server.Address,
			Handler: srv.Router(),
		},
		TLS: a.Config.Server.TLS,
	}, nil
}

// NewForm starts a registration of kind. onNavigate runs once the
// confirmation delay after a successful submission has passed.
func (a *App) NewForm(kind api.Kind, onNavigate func()) (*registration.Form, error) {
	return registration.NewForm(kind, a.Client, registration.Options{
		RedirectDelay: a.Config.Registration.RedirectDelay,
		OnNavigate:    onNavigate,
		Logger:        a.Logger,
	})
}

func (a *App) Close() error {
	return a.Store.Close()
}
