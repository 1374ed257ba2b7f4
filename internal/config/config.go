package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Resource classes with their own cache TTL.
const (
	ResourceList       = "list"
	ResourceDetail     = "detail"
	ResourceScreenshot = "screenshot"
)

const (
	envAPIURL    = "MUNPORTAL_API_URL"
	envLoginPath = "MUNPORTAL_LOGIN_PATH"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	API          APIConfig          `yaml:"api"`
	Admin        AdminConfig        `yaml:"admin"`
	Log          LogConfig          `yaml:"log"`
	Session      SessionConfig      `yaml:"session"`
	Cache        CacheConfig        `yaml:"cache"`
	Registration RegistrationConfig `yaml:"registration"`
}

type ServerConfig struct {
	Address string    `yaml:"address"`
	TLS     TLSConfig `yaml:"tls"`
	// AllowCIDRs limits the login and admin routes to these client ranges.
	// Empty allows every client.
	AllowCIDRs []string `yaml:"allowCIDRs,omitempty"`
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed when matching AllowCIDRs.
	TrustedProxies []string `yaml:"trustedProxies,omitempty"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type APIConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

type AdminConfig struct {
	// LoginPath is the unlisted path segment of the admin login page.
	LoginPath string `yaml:"loginPath"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type SessionConfig struct {
	DSN string `yaml:"dsn"`
}

type CacheConfig struct {
	MaxEntries int                            `yaml:"maxEntries"`
	DefaultTTL time.Duration                  `yaml:"defaultTTL"`
	Resources  map[string]ResourceCacheConfig `yaml:"resources,omitempty"`
}

type ResourceCacheConfig struct {
	TTL *time.Duration `yaml:"ttl,omitempty"`
}

type RegistrationConfig struct {
	RedirectDelay time.Duration `yaml:"redirectDelay"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if v := os.Getenv(envAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(envLoginPath); v != "" {
		cfg.Admin.LoginPath = v
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:9000"
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 15 * time.Second
	}

	cfg.Admin.LoginPath = strings.Trim(cfg.Admin.LoginPath, "/")

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Session.DSN == "" {
		cfg.Session.DSN = "file:munportal.db?cache=shared"
	}

	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 1000
	}

	if cfg.Cache.DefaultTTL <= 0 {
		cfg.Cache.DefaultTTL = 2 * time.Minute
	}

	if cfg.Registration.RedirectDelay <= 0 {
		cfg.Registration.RedirectDelay = 3 * time.Second
	}
}

func (cfg *Config) validate() error {
	if cfg.Admin.LoginPath == "" {
		return errors.New("admin.loginPath is required")
	}
	if strings.Contains(cfg.Admin.LoginPath, "/") {
		return fmt.Errorf("admin.loginPath %q must be a single path segment", cfg.Admin.LoginPath)
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		return errors.New("server.tls requires certFile and keyFile")
	}
	return nil
}

// ResourceTTL returns the TTL configured for a resource class, falling back
// to the cache default.
func (cfg *Config) ResourceTTL(resource string) time.Duration {
	if rc, ok := cfg.Cache.Resources[resource]; ok && rc.TTL != nil {
		return *rc.TTL
	}
	return cfg.Cache.DefaultTTL
}

// LoginURLPath is the absolute path unauthenticated admins are sent to.
func (cfg *Config) LoginURLPath() string {
	return "/" + cfg.Admin.LoginPath
}
