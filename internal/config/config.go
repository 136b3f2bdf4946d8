// Package config loads service configuration from a YAML file overlaid with
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// HTTPConfig holds listener settings shared by every service.
type HTTPConfig struct {
	Host              string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port              string        `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies" env:"HTTP_TRUSTED_PROXIES" env-separator:","`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig holds token minting parameters.
type AuthConfig struct {
	Secret       string        `yaml:"secret" env:"AUTH_SECRET"`
	Issuer       string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"tessera-identity"`
	AccessTTL    time.Duration `yaml:"access_ttl" env:"AUTH_ACCESS_TTL" env-default:"15m"`
	RefreshTTL   time.Duration `yaml:"refresh_ttl" env:"AUTH_REFRESH_TTL" env-default:"168h"`
	CookieSecure string        `yaml:"cookie_secure" env:"AUTH_COOKIE_SECURE"`
	BcryptCost   int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST" env-default:"10"`
}

// DBConfig selects the credential store. An empty DSN keeps records in memory.
type DBConfig struct {
	DSN          string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	ConnTimeout  time.Duration `yaml:"conn_timeout" env:"DB_CONN_TIMEOUT" env-default:"5s"`
}

// BootstrapConfig creates or promotes an admin at startup when both fields are set.
type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email" env:"BOOTSTRAP_ADMIN_EMAIL"`
	AdminPassword string `yaml:"admin_password" env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// RateLimitConfig throttles credential endpoints per client IP.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS" env-default:"5"`
	Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"10"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// IssuerConfig is the configuration of the identity service.
type IssuerConfig struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"development"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	DB        DBConfig        `yaml:"db"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ValidatorConfig controls how a consumer talks to the issuer.
type ValidatorConfig struct {
	IssuerURL       string        `yaml:"issuer_url" env:"ISSUER_URL" env-default:"http://localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env:"VALIDATOR_TIMEOUT" env-default:"5s"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"VALIDATOR_CACHE_TTL" env-default:"5m"`
	CacheMaxEntries int           `yaml:"cache_max_entries" env:"VALIDATOR_CACHE_MAX_ENTRIES" env-default:"1000"`
}

// ConsumerConfig is the configuration of a service that trusts the issuer.
type ConsumerConfig struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"development"`
	HTTP      HTTPConfig      `yaml:"http"`
	Validator ValidatorConfig `yaml:"validator"`
	Log       LogConfig       `yaml:"log"`
}

// Development reports whether the service runs in a developer setup.
func (c IssuerConfig) Development() bool { return isDevelopment(c.Env) }

// SecureCookies reports whether the refresh cookie needs the Secure attribute.
// Unset means secure everywhere except development.
func (c IssuerConfig) SecureCookies() bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(c.Auth.CookieSecure)); err == nil {
		return v
	}
	return !c.Development()
}

// Validate checks required fields and value ranges.
func (c IssuerConfig) Validate() error {
	var errs []error
	if len(strings.TrimSpace(c.Auth.Secret)) < 16 {
		errs = append(errs, errors.New("auth.secret must be at least 16 bytes"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth ttls must be positive"))
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		errs = append(errs, errors.New("auth.refresh_ttl must not be shorter than auth.access_ttl"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit rps and burst must be positive"))
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = append(errs, errors.New("bootstrap admin needs both email and password"))
	}
	errs = append(errs, c.HTTP.validate())
	return errors.Join(errs...)
}

// Validate checks required fields and value ranges.
func (c ConsumerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Validator.IssuerURL) == "" {
		errs = append(errs, errors.New("validator.issuer_url is required"))
	}
	if c.Validator.Timeout <= 0 {
		errs = append(errs, errors.New("validator.timeout must be positive"))
	}
	if c.Validator.CacheTTL <= 0 {
		errs = append(errs, errors.New("validator.cache_ttl must be positive"))
	}
	if c.Validator.CacheMaxEntries <= 0 {
		errs = append(errs, errors.New("validator.cache_max_entries must be positive"))
	}
	errs = append(errs, c.HTTP.validate())
	return errors.Join(errs...)
}

func (h HTTPConfig) validate() error {
	if h.Port == "" {
		return errors.New("http.port is required")
	}
	if h.ShutdownTimeout <= 0 {
		return errors.New("http.shutdown_timeout must be positive")
	}
	for _, p := range h.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("http.trusted_proxies: %q is neither a CIDR nor an address", p)
		}
	}
	return nil
}

// LoadIssuer reads and validates the identity service configuration.
func LoadIssuer(path string) (*IssuerConfig, error) {
	var cfg IssuerConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConsumer reads and validates a consumer service configuration.
func LoadConsumer(path string) (*ConsumerConfig, error) {
	var cfg ConsumerConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// load resolves the source in priority order: explicit path, CONFIG_PATH,
// ./local.yaml, then environment only. ReadConfig overlays env on file values.
func load(path string, cfg any) error {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("local.yaml"); err == nil {
			path = "local.yaml"
		}
	}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return fmt.Errorf("read env: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	return nil
}

func isDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local":
		return true
	}
	return false
}
