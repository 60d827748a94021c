package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/mikrolink/internal/protocol/session"
)

const (
	envPassword = "MIKROLINK_PASSWORD"

	defaultUser    = "admin"
	defaultPort    = 8728
	defaultTLSPort = 8729
)

// mikrolink config.toml key mapping to connection settings.
type fileConfig struct {
	Host                  string  `toml:"host"`
	Port                  int     `toml:"port"`
	User                  string  `toml:"user"`
	Password              string  `toml:"password"`
	TLS                   bool    `toml:"tls"`
	TLSInsecureSkipVerify bool    `toml:"tls_insecure_skip_verify"`
	TLSServerName         string  `toml:"tls_server_name"`
	TLSCAFile             string  `toml:"tls_ca_file"`
	TLSCertFile           string  `toml:"tls_cert_file"`
	TLSKeyFile            string  `toml:"tls_key_file"`
	Timeout               string  `toml:"timeout"`
	ReadTimeout           string  `toml:"read_timeout"`
	Attempts              int     `toml:"attempts"`
	Delay                 string  `toml:"delay"`
	BackoffMultiplier     float64 `toml:"backoff_multiplier"`
	BackoffMaxDelay       string  `toml:"backoff_max_delay"`
	BackoffJitter         bool    `toml:"backoff_jitter"`
	Output                string  `toml:"output"`
}

// settings is everything the CLI needs to open one session.
type settings struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      bool
	Output   string
	Session  session.Config
}

func defaultSettings() settings {
	return settings{
		User:    defaultUser,
		Output:  formatTable,
		Session: session.DefaultConfig(),
	}
}

// loadConfigFile overlays the keys defined in path onto base.
func loadConfigFile(path string, base settings) (settings, error) {
	cfg := base

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load mikrolink config: %w", err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("user") {
		cfg.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("tls") {
		cfg.TLS = raw.TLS
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLSInsecureSkipVerify
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("timeout") {
		if cfg.Session.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
			return settings{}, err
		}
	}
	if meta.IsDefined("read_timeout") {
		if cfg.Session.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return settings{}, err
		}
	}
	if meta.IsDefined("attempts") {
		if raw.Attempts < 1 {
			return settings{}, fmt.Errorf("load mikrolink config: attempts must be >= 1, got %d", raw.Attempts)
		}
		cfg.Session.Attempts = raw.Attempts
	}
	if meta.IsDefined("delay") {
		if cfg.Session.Delay, err = parseDuration("delay", raw.Delay); err != nil {
			return settings{}, err
		}
	}
	if meta.IsDefined("backoff_multiplier") || meta.IsDefined("backoff_max_delay") || meta.IsDefined("backoff_jitter") {
		backoff := session.ConstantBackoff(cfg.Session.Delay)
		if meta.IsDefined("backoff_multiplier") {
			if raw.BackoffMultiplier < 1 {
				return settings{}, fmt.Errorf("load mikrolink config: backoff_multiplier must be >= 1, got %g", raw.BackoffMultiplier)
			}
			backoff.Multiplier = raw.BackoffMultiplier
		}
		if meta.IsDefined("backoff_max_delay") {
			if backoff.MaxDelay, err = parseDuration("backoff_max_delay", raw.BackoffMaxDelay); err != nil {
				return settings{}, err
			}
		}
		backoff.Jitter = raw.BackoffJitter
		cfg.Session.Backoff = backoff
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}

	if err := cfg.Session.TLS.Validate(); err != nil {
		return settings{}, fmt.Errorf("load mikrolink config: %w", err)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load mikrolink config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load mikrolink config: %s must not be negative", key)
	}
	return d, nil
}

// resolveSettings layers defaults, the config file, the environment and
// the command line, in that order.
func resolveSettings(cfg *MainConfig, getenv func(string) string) (settings, error) {
	s := defaultSettings()
	if path := strings.TrimSpace(cfg.Config); path != "" {
		var err error
		if s, err = loadConfigFile(path, s); err != nil {
			return settings{}, err
		}
	}
	if pw, ok := lookupEnv(getenv, envPassword); ok {
		s.Password = pw
	}

	if cfg.isSet("host") {
		s.Host = strings.TrimSpace(cfg.Host)
	}
	if cfg.isSet("port") {
		s.Port = cfg.Port
	}
	if cfg.isSet("user") {
		s.User = strings.TrimSpace(cfg.User)
	}
	if cfg.isSet("tls") {
		s.TLS = cfg.TLS
	}
	if cfg.isSet("o") {
		s.Output = strings.TrimSpace(cfg.Output)
	}

	if s.Host == "" {
		return settings{}, fmt.Errorf("router host is required (-host or host in config)")
	}
	if s.Port == 0 {
		s.Port = defaultPort
		if s.TLS {
			s.Port = defaultTLSPort
		}
	}
	if s.Port < 0 || s.Port > 65535 {
		return settings{}, fmt.Errorf("invalid port %d", s.Port)
	}
	if !validFormat(s.Output) {
		return settings{}, fmt.Errorf("unknown output format %q (expected table, yaml or json)", s.Output)
	}
	s.Session = s.Session.WithDefaults()
	return s, nil
}

func lookupEnv(getenv func(string) string, key string) (string, bool) {
	if getenv == nil {
		getenv = os.Getenv
	}
	v := getenv(key)
	return v, v != ""
}
