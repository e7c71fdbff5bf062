package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
)

func TestRateLimitConfig_Validate(t *testing.T) {
	valid := &models.RateLimitConfig{
		Strategy: constants.StrategyFixedWindow,
		Window:   60,
		Requests: 100,
	}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name string
		cfg  *models.RateLimitConfig
	}{
		{"nil config", nil},
		{"unknown strategy", &models.RateLimitConfig{Strategy: "round_robin", Window: 60, Requests: 10}},
		{"zero window", &models.RateLimitConfig{Strategy: constants.StrategyFixedWindow, Window: 0, Requests: 10}},
		{"negative requests", &models.RateLimitConfig{Strategy: constants.StrategyFixedWindow, Window: 60, Requests: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	cfg := &models.RateLimitConfig{
		Strategy: constants.StrategyTokenBucket,
		Window:   60,
		Requests: 10,
	}

	assert.Equal(t, int64(10), cfg.EffectiveBurst(), "burst defaults to requests")
	assert.Equal(t, float64(1), cfg.EffectiveRefillRate(), "refill rate defaults to 1")
	assert.Equal(t, float64(1), cfg.EffectiveLeakRate(), "leak rate defaults to 1")

	cfg.Burst = 5
	cfg.RefillRate = 2.5
	assert.Equal(t, int64(5), cfg.EffectiveBurst())
	assert.Equal(t, 2.5, cfg.EffectiveRefillRate())
}

func TestParseRateLimitConfig(t *testing.T) {
	cfg, err := models.ParseRateLimitConfig(`{"strategy":"sliding_log","window":2,"requests":2}`)
	require.NoError(t, err)
	assert.Equal(t, constants.StrategySlidingLog, cfg.Strategy)
	assert.Equal(t, int64(2), cfg.Window)

	_, err = models.ParseRateLimitConfig(`{"strategy":"nope","window":2,"requests":2}`)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = models.ParseRateLimitConfig(`not json`)
	require.Error(t, err)
}

func TestDeferredRequest_EncodeDecode(t *testing.T) {
	req := &models.DeferredRequest{
		TicketID:   "t-1",
		AppID:      "app-1",
		Method:     "POST",
		Path:       "v1/orders",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"qty":3}`),
		EnqueuedAt: 1700000000000,
	}

	raw, err := req.Encode()
	require.NoError(t, err)

	got, err := models.DecodeDeferredRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = models.DecodeDeferredRequest("{broken")
	assert.Error(t, err)
}
