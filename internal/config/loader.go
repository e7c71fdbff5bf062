package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/logger"
)

// LoadConfig loads the configuration from file and environment variables.
// Environment variables use the RATEX_ prefix (RATEX_SERVER_PORT etc.), with
// legacy aliases for the well-known names: REDIS_URL, REDIS_HOST, REDIS_PORT,
// REDIS_PASSWORD, REDIS_DB, PORT, JWT_SECRET, SERVER_ID, CONSUMER_ID.
func LoadConfig(log logger.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/ratex/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	v.SetEnvPrefix("RATEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy environment names provided by operators and by the manager
	// when it spawns workers.
	_ = v.BindEnv("redis.url", "RATEX_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("redis.host", "RATEX_REDIS_HOST", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "RATEX_REDIS_PORT", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "RATEX_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "RATEX_REDIS_DB", "REDIS_DB")
	_ = v.BindEnv("server.port", "RATEX_SERVER_PORT", "PORT")
	_ = v.BindEnv("auth.jwt_secret", "RATEX_AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("queue.node_id", "RATEX_QUEUE_NODE_ID", "SERVER_ID")
	_ = v.BindEnv("queue.consumer_id", "RATEX_QUEUE_CONSUMER_ID", "CONSUMER_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Hot reload is log-only: a running node keeps its listener and node id.
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info(context.Background(), "config file changed",
			logger.String("file", e.Name),
			logger.String("op", e.Op.String()),
		)
	})
	v.WatchConfig()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.pprof_enabled", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("queue.max_workers", constants.DefaultMaxWorkers)
	v.SetDefault("queue.max_queued_requests", constants.DefaultMaxQueuedRequests)
	v.SetDefault("queue.max_stream_length", constants.DefaultMaxStreamLength)
	v.SetDefault("queue.scale_interval", constants.DefaultScaleInterval)
	v.SetDefault("queue.worker_batch_size", constants.DefaultWorkerBatchSize)
	v.SetDefault("queue.worker_block", constants.DefaultWorkerBlock)
	v.SetDefault("queue.worker_grace", constants.DefaultWorkerGrace)

	v.SetDefault("store.max_retries", constants.DefaultMaxRetries)
	v.SetDefault("store.retry_delay", constants.DefaultRetryDelay)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.service_name", "ratex-gateway")
}
