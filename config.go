package rlbridge

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Default tunables, named the way the teacher library names its Default*
// constants in options.go.
const (
	// DefaultConnectTries is the number of client connect attempts before
	// giving up (spec.md §4.7).
	DefaultConnectTries = 8
	// DefaultConnectBackoff is the client's initial retry delay, doubled
	// after each failed attempt (spec.md §4.7 / original_source client.py).
	DefaultConnectBackoff = 2 * time.Second
	// DefaultChunkSize is the fixed read chunk size for framed messages
	// (spec.md §4.2).
	DefaultChunkSize = readChunkSize
	// DefaultConnectTimeout bounds a single client connect attempt. 0 means
	// no per-attempt deadline.
	DefaultConnectTimeout = 0 * time.Second
)

// Option configures a Bridge constructed by NewServerBridge/NewClientBridge.
type Option func(*Config)

// Config holds runtime settings for one bridge side. The zero value is
// never exposed to callers directly — NewServerBridge/NewClientBridge apply
// it on top of defaultConfig(), mirroring the teacher's functional-options
// pattern in options.go.
type Config struct {
	logger *logrus.Logger
	metrics Metrics

	connectTries   int
	connectBackoff time.Duration
	connectTimeout time.Duration
	chunkSize      int
	drainOnClose   bool
}

func defaultConfig() *Config {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	return &Config{
		logger:         logger,
		metrics:        NewDefaultMetrics(),
		connectTries:   DefaultConnectTries,
		connectBackoff: DefaultConnectBackoff,
		connectTimeout: DefaultConnectTimeout,
		chunkSize:      DefaultChunkSize,
		drainOnClose:   true,
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithLogger installs a custom logrus logger. Every structured log line the
// bridge emits carries the rendezvous directory and, once assigned, the
// session id (SPEC_FULL.md §4.8).
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics installs a custom metrics sink. Absent one, DefaultMetrics is
// used (SPEC_FULL.md §4.10).
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithConnectTries sets how many times the client attempts to connect
// before giving up (spec.md §4.7).
func WithConnectTries(tries int) Option {
	return func(c *Config) {
		if tries > 0 {
			c.connectTries = tries
		}
	}
}

// WithConnectBackoff sets the client's initial retry delay, doubled after
// each failed attempt.
func WithConnectBackoff(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectBackoff = d
		}
	}
}

// WithChunkSize overrides the fixed read chunk size used to refill the
// framing buffer.
func WithChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithConnectTimeout bounds a single client connect attempt (spec.md §4.7).
// d <= 0 means no per-attempt deadline, the default.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d < 0 {
			d = 0
		}
		c.connectTimeout = d
	}
}

// WithDrainOnSendFailure toggles whether a failed Send drains already
// buffered incoming messages to surface a more specific close/exception
// before raising the generic closed error (spec.md §4.4/§7). Enabled by
// default; disabling it trades a more specific error for not blocking on a
// peer that may never send anything further.
func WithDrainOnSendFailure(enabled bool) Option {
	return func(c *Config) { c.drainOnClose = enabled }
}
