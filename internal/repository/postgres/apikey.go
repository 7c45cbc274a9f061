package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

type apiKeyRepository struct {
	db *sqlx.DB
}

func NewAPIKeyRepository(db *sqlx.DB) repository.APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) LookupByKey(ctx context.Context, key string) (*model.Caller, error) {
	const query = `
		SELECT app_id, is_active, allowed_tenants
		FROM api_keys
		WHERE key_hash = encode(digest($1, 'sha256'), 'hex')`

	var row struct {
		AppID          string         `db:"app_id"`
		IsActive       bool           `db:"is_active"`
		AllowedTenants pq.StringArray `db:"allowed_tenants"`
	}
	if err := r.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Unauthorized(err)
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	return &model.Caller{
		AppID:          row.AppID,
		IsActive:       row.IsActive,
		AllowedTenants: row.AllowedTenants,
	}, nil
}
