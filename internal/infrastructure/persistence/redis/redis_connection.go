// Package redis provides connection management and typed access to the
// shared key-value store: the gateway's only shared mutable resource.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Largonarco/RateX/internal/config"
	"github.com/Largonarco/RateX/pkg/logger"
)

// Connection manages the Redis client lifecycle.
type Connection struct {
	config *config.Redis
	client goredis.UniversalClient
	logger logger.Logger
}

// NewConnection establishes a Redis connection from config. REDIS_URL takes
// precedence over the host/port pair when set.
func NewConnection(cfg *config.Redis, log logger.Logger) (*Connection, error) {
	var opts *goredis.Options

	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info(ctx, "redis connection established",
		logger.String("addr", opts.Addr),
		logger.Int("db", opts.DB),
	)

	return &Connection{config: cfg, client: client, logger: log}, nil
}

// NewConnectionFromClient wraps an existing client. Used by tests.
func NewConnectionFromClient(client goredis.UniversalClient, log logger.Logger) *Connection {
	return &Connection{client: client, logger: log}
}

// Client returns the underlying Redis client.
func (c *Connection) Client() goredis.UniversalClient {
	return c.client
}

// Ping checks server connectivity.
func (c *Connection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Connection) Close() error {
	if err := c.client.Close(); err != nil {
		c.logger.Error(context.Background(), "failed to close redis connection", err)
		return err
	}
	c.logger.Info(context.Background(), "redis connection closed")
	return nil
}
