// Package models defines the domain entities of the gateway: registered
// applications, their rate-limit configurations, deferred requests, and
// outcomes.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
)

// App is a registered upstream application. It is stored as a Redis hash
// under app:<id> by the external management API; the gateway only reads it.
type App struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	BaseURL   string           `json:"baseUrl"`
	UserID    string           `json:"userId"`
	RateLimit *RateLimitConfig `json:"rateLimit"`
}

// RateLimitConfig is the tagged strategy record attached to an App.
// Window is in seconds; Requests is the cap per window. Burst and RefillRate
// apply to token_bucket only; LeakRate applies to leaky_bucket only.
type RateLimitConfig struct {
	Strategy   constants.Strategy `json:"strategy"`
	Window     int64              `json:"window"`
	Requests   int64              `json:"requests"`
	Burst      int64              `json:"burst,omitempty"`
	RefillRate float64            `json:"refillRate,omitempty"`
	LeakRate   float64            `json:"leakRate,omitempty"`
}

// Validate checks that the config is well-formed. The management API calls
// this before writing an App; the engine calls it before deciding.
func (c *RateLimitConfig) Validate() error {
	if c == nil {
		return errors.ErrValidation("rate limit config is required")
	}
	if !c.Strategy.IsValid() {
		return errors.ErrInvalidStrategy(string(c.Strategy))
	}
	if c.Window <= 0 {
		return errors.ErrValidation(fmt.Sprintf("window must be positive, got %d", c.Window))
	}
	if c.Requests <= 0 {
		return errors.ErrValidation(fmt.Sprintf("requests must be positive, got %d", c.Requests))
	}
	if c.Strategy == constants.StrategyTokenBucket {
		if c.Burst < 0 {
			return errors.ErrValidation(fmt.Sprintf("burst must be positive, got %d", c.Burst))
		}
		if c.RefillRate < 0 {
			return errors.ErrValidation(fmt.Sprintf("refillRate must be positive, got %f", c.RefillRate))
		}
	}
	if c.Strategy == constants.StrategyLeakyBucket && c.LeakRate < 0 {
		return errors.ErrValidation(fmt.Sprintf("leakRate must be positive, got %f", c.LeakRate))
	}
	return nil
}

// EffectiveBurst returns the token-bucket capacity: Burst, defaulting to Requests.
func (c *RateLimitConfig) EffectiveBurst() int64 {
	if c.Burst > 0 {
		return c.Burst
	}
	return c.Requests
}

// EffectiveRefillRate returns the token refill rate, defaulting to 1 token/sec.
func (c *RateLimitConfig) EffectiveRefillRate() float64 {
	if c.RefillRate > 0 {
		return c.RefillRate
	}
	return 1
}

// EffectiveLeakRate returns the leak rate, defaulting to 1 unit/sec.
func (c *RateLimitConfig) EffectiveLeakRate() float64 {
	if c.LeakRate > 0 {
		return c.LeakRate
	}
	return 1
}

// MarshalString encodes the config to its JSON string form for the app hash.
func (c *RateLimitConfig) MarshalString() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.ErrValidation("failed to encode rate limit config").WithCause(err)
	}
	return string(b), nil
}

// ParseRateLimitConfig decodes the rateLimit field of an app hash.
func ParseRateLimitConfig(raw string) (*RateLimitConfig, error) {
	var cfg RateLimitConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, errors.ErrValidation("failed to decode rate limit config").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
