// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers selected from the DATABASE_URL scheme.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Account is a configured admin login.
type Account struct {
	Email        string
	PasswordHash string
}

// Configured reports whether both fields are present.
func (a Account) Configured() bool {
	return strings.TrimSpace(a.Email) != "" && strings.TrimSpace(a.PasswordHash) != ""
}

// Config holds everything the server needs at start.
type Config struct {
	Env             string
	Port            string
	DatabaseURL     string
	DatabaseName    string
	SessionSecret   string
	SecureCookie    bool
	Admin           Account
	Viewer          Account
	RequestTimeout  time.Duration
	StoreTimeout    time.Duration
	DisplayTimezone string
	LogLevel        string
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return FromLookup(os.Getenv)
}

// FromLookup reads the configuration using getenv. Values that are present
// but malformed are reported; required values are checked by Validate.
func FromLookup(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		Env:             get("APP_ENV", EnvDevelopment),
		Port:            get("PORT", "8080"),
		DatabaseURL:     get("DATABASE_URL", ""),
		DatabaseName:    get("DATABASE_NAME", "halayachts"),
		SessionSecret:   getenv("SESSION_SECRET"),
		SecureCookie:    strings.EqualFold(get("SESSION_COOKIE_SECURE", ""), "true"),
		Admin:           Account{Email: get("ADMIN_EMAIL", ""), PasswordHash: get("ADMIN_PASSWORD_HASH", "")},
		Viewer:          Account{Email: get("VIEWER_EMAIL", ""), PasswordHash: get("VIEWER_PASSWORD_HASH", "")},
		DisplayTimezone: get("DISPLAY_TIMEZONE", "UTC"),
		LogLevel:        get("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RequestTimeout, err = duration(get("REQUEST_TIMEOUT", "30s")); err != nil {
		return Config{}, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	if cfg.StoreTimeout, err = duration(get("STORE_TIMEOUT", "5s")); err != nil {
		return Config{}, fmt.Errorf("STORE_TIMEOUT: %w", err)
	}

	if cfg.TrustedProxies, err = prefixes(get("TRUSTED_PROXIES", "")); err != nil {
		return Config{}, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	return cfg, nil
}

// prefixes parses a comma-separated list of CIDRs or bare addresses.
func prefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// duration accepts Go durations and bare seconds.
func duration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// Validate checks required settings so the process fails at start rather
// than per request.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL must be set"))
	} else if _, err := c.Driver(); err != nil {
		errs = append(errs, err)
	}

	if !c.Admin.Configured() {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD_HASH must be set"))
	}

	if c.Viewer.Email != "" && !c.Viewer.Configured() {
		errs = append(errs, errors.New("VIEWER_PASSWORD_HASH must be set when VIEWER_EMAIL is set"))
	}

	if c.Env == EnvProduction && strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("SESSION_SECRET must be set in production"))
	}

	if c.RequestTimeout <= 0 || c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}

	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DISPLAY_TIMEZONE: %w", err))
	}

	return errors.Join(errs...)
}

// Driver returns the store driver implied by the DATABASE_URL scheme.
func (c Config) Driver() (string, error) {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mongodb", "mongodb+srv":
		return DriverMongo, nil
	case "postgres", "postgresql":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("DATABASE_URL scheme %q is not supported", u.Scheme)
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Development reports whether the process runs in development mode.
func (c Config) Development() bool {
	return c.Env == EnvDevelopment
}
