package postgres_store

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/checkauth"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"gorm.io/gorm"
)

// ValidateAPIToken hashes the presented bearer token and looks up a matching,
// active, non-expired API token, returning the token and owning user.
func (ps PostgresDbStore) ValidateAPIToken(ctx context.Context, token string) (*models.APIToken, *models.User, error) {
	hash := checkauth.HashAPIToken(token)

	var apiToken models.APIToken
	if err := ps.getDB(ctx).Where("token_hash = ?", hash).First(&apiToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, store.ErrUnauthorized
		}
		return nil, nil, fmt.Errorf("looking up api token: %w", err)
	}

	if !apiToken.IsValid() {
		return nil, nil, store.ErrUnauthorized
	}

	user, err := ps.GetUserByID(ctx, apiToken.UserID)
	if err != nil {
		return nil, nil, err
	}

	return &apiToken, user, nil
}

// CreateAPIToken stores a newly-minted API token.
func (ps PostgresDbStore) CreateAPIToken(ctx context.Context, apiToken *models.APIToken) error {
	if err := ps.getDB(ctx).Create(apiToken).Error; err != nil {
		return fmt.Errorf("creating api token: %w", err)
	}
	return nil
}

// UpdateTokenLastUsed bumps an API token's last-used timestamp.
func (ps PostgresDbStore) UpdateTokenLastUsed(ctx context.Context, tokenID string, lastUsed time.Time) error {
	result := ps.getDB(ctx).Model(&models.APIToken{}).Where("token_id = ?", tokenID).
		Update("last_used_at", lastUsed)
	if result.Error != nil {
		return fmt.Errorf("updating api token last_used_at: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
