package config

import (
	"fmt"
	"time"
)

// Config holds the gateway's configuration.
type Config struct {
	Server Server `mapstructure:"server"`
	Redis  Redis  `mapstructure:"redis"`
	Auth   Auth   `mapstructure:"auth"`
	Queue  Queue  `mapstructure:"queue"`
	Store  Store  `mapstructure:"store"`
	Log    Log    `mapstructure:"log"`
	Trace  Trace  `mapstructure:"trace"`
}

// Server configures the HTTP listener.
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	PprofEnabled bool          `mapstructure:"pprof_enabled"`
}

// Addr returns the host:port listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Redis configures the shared KV store connection.
type Redis struct {
	// URL takes precedence over Host/Port when set (redis:// scheme).
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// Auth configures verification of session tokens issued by the external
// auth subsystem. The gateway only verifies; it never issues.
type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Queue configures the deferred-execution pipeline.
type Queue struct {
	// NodeID pins this node's identity; empty means acquire from the allocator.
	NodeID string `mapstructure:"node_id"`
	// ConsumerID pins a worker's consumer name; normally assigned by the manager.
	ConsumerID        string        `mapstructure:"consumer_id"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	MaxQueuedRequests int           `mapstructure:"max_queued_requests"`
	MaxStreamLength   int64         `mapstructure:"max_stream_length"`
	ScaleInterval     time.Duration `mapstructure:"scale_interval"`
	WorkerBatchSize   int64         `mapstructure:"worker_batch_size"`
	WorkerBlock       time.Duration `mapstructure:"worker_block"`
	WorkerGrace       time.Duration `mapstructure:"worker_grace"`
}

// Store configures retry behaviour for transient KV errors.
type Store struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// Log configures the logger backend.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Trace configures OpenTelemetry tracing.
type Trace struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Validate checks essential configuration values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Queue.MaxWorkers < 1 {
		return fmt.Errorf("queue.max_workers must be at least 1, got %d", c.Queue.MaxWorkers)
	}
	if c.Queue.MaxQueuedRequests < 1 {
		return fmt.Errorf("queue.max_queued_requests must be at least 1, got %d", c.Queue.MaxQueuedRequests)
	}
	if c.Queue.MaxStreamLength < 1 {
		return fmt.Errorf("queue.max_stream_length must be at least 1, got %d", c.Queue.MaxStreamLength)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("store.max_retries must not be negative, got %d", c.Store.MaxRetries)
	}
	return nil
}
