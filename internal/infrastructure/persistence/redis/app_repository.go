package redis

import (
	"context"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// AppRepository reads and writes app:<id> hashes. The management API owns
// the write path; the gateway reads an app on every request so config
// updates take effect immediately.
type AppRepository struct {
	kv     *KVStore
	logger logger.Logger
}

var _ service.AppRepository = (*AppRepository)(nil)

// NewAppRepository builds an AppRepository over the KV store.
func NewAppRepository(kv *KVStore, log logger.Logger) *AppRepository {
	return &AppRepository{kv: kv, logger: log.WithComponent("apps")}
}

func appKey(appID string) string {
	return constants.KeyPrefixApp + appID
}

// Get loads an application by id.
func (r *AppRepository) Get(ctx context.Context, appID string) (*models.App, error) {
	fields, err := r.kv.HashGetAll(ctx, appKey(appID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.ErrAppNotFound(appID)
	}

	rateLimit, err := models.ParseRateLimitConfig(fields["rateLimit"])
	if err != nil {
		r.logger.Error(ctx, "stored rate limit config is malformed", err,
			logger.String("app_id", appID),
		)
		return nil, err
	}

	return &models.App{
		ID:        appID,
		Name:      fields["name"],
		BaseURL:   fields["baseUrl"],
		UserID:    fields["userId"],
		RateLimit: rateLimit,
	}, nil
}

// Save writes an application record. The config must be well-formed before
// it is written.
func (r *AppRepository) Save(ctx context.Context, app *models.App) error {
	if app.ID == "" {
		return errors.ErrValidation("app id is required")
	}
	if app.BaseURL == "" {
		return errors.ErrValidation("app base url is required")
	}
	if err := app.RateLimit.Validate(); err != nil {
		return err
	}

	rawConfig, err := app.RateLimit.MarshalString()
	if err != nil {
		return err
	}

	return r.kv.HashSet(ctx, appKey(app.ID), map[string]interface{}{
		"name":      app.Name,
		"baseUrl":   app.BaseURL,
		"userId":    app.UserID,
		"rateLimit": rawConfig,
	})
}

// Delete removes an application record.
func (r *AppRepository) Delete(ctx context.Context, appID string) error {
	return r.kv.Del(ctx, appKey(appID))
}
