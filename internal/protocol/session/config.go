package session

import (
	"time"

	"github.com/danmuck/mikrolink/internal/protocol/frame"
)

// BackoffConfig defines the delay between connect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// ConstantBackoff waits d between every attempt.
func ConstantBackoff(d time.Duration) BackoffConfig {
	return BackoffConfig{InitialDelay: d, Multiplier: 1.0}
}

// TLSConfig holds client TLS settings.
//
// The zero value verifies the router certificate against the system roots.
// Routers usually present self-signed certificates, so a default Config
// fails the handshake unless CAFile names the router's CA or
// InsecureSkipVerify is set.
type TLSConfig struct {
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Config defines session timeouts and the connect attempt budget.
//
// Timeout bounds each dial and TLS handshake. ReadTimeout, when set, bounds
// every command exchange. Delay is the pause between failed attempts unless
// Backoff is set explicitly.
type Config struct {
	Timeout     time.Duration
	ReadTimeout time.Duration
	Attempts    int
	Delay       time.Duration
	Backoff     BackoffConfig
	TLS         TLSConfig
	Limits      frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Timeout:  5 * time.Second,
		Attempts: 3,
		Delay:    0,
		Limits:   frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = ConstantBackoff(c.Delay)
	}
	if c.Limits.MaxWordBytes <= 0 {
		c.Limits = def.Limits
	}
	return c
}
