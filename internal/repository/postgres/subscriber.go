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

type subscriberRepository struct {
	db *sqlx.DB
}

func NewSubscriberRepository(db *sqlx.DB) repository.SubscriberRepository {
	return &subscriberRepository{db: db}
}

func (r *subscriberRepository) ResolveConfig(ctx context.Context, appID string) (*model.SubscriberConfig, error) {
	const query = `
		SELECT app_id, COALESCE(callback_url, '') AS callback_url, COALESCE(webhook_secret, '') AS secret, allowed_tenants
		FROM applications
		WHERE app_id = $1`

	var row struct {
		AppID          string         `db:"app_id"`
		CallbackURL    string         `db:"callback_url"`
		Secret         string         `db:"secret"`
		AllowedTenants pq.StringArray `db:"allowed_tenants"`
	}
	if err := r.db.GetContext(ctx, &row, query, appID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("subscriber", err)
		}
		return nil, fmt.Errorf("failed to resolve subscriber config: %w", err)
	}

	return &model.SubscriberConfig{
		AppID:          row.AppID,
		CallbackURL:    row.CallbackURL,
		Secret:         row.Secret,
		AllowedTenants: row.AllowedTenants,
	}, nil
}

func (r *subscriberRepository) AppendAttempt(ctx context.Context, attempt *model.WebhookAttempt, cap int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO webhook_attempts (app_id, event_type, status, attempt_number, http_status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.ExecContext(ctx, insert,
		attempt.AppID, attempt.EventType, attempt.Status, attempt.AttemptNumber,
		attempt.HTTPStatus, attempt.Error, attempt.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to record webhook attempt: %w", err)
	}

	// Evict oldest entries past the cap so the trail stays bounded.
	const trim = `
		DELETE FROM webhook_attempts
		WHERE app_id = $1
		AND id NOT IN (
			SELECT id FROM webhook_attempts
			WHERE app_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)`

	if _, err := tx.ExecContext(ctx, trim, attempt.AppID, cap); err != nil {
		return fmt.Errorf("failed to trim webhook attempts: %w", err)
	}

	return tx.Commit()
}

func (r *subscriberRepository) ListAttempts(ctx context.Context, appID string, limit int) ([]*model.WebhookAttempt, error) {
	const query = `
		SELECT app_id, event_type, status, attempt_number, http_status, COALESCE(error, '') AS error, created_at
		FROM webhook_attempts
		WHERE app_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	var attempts []*model.WebhookAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, appID, limit); err != nil {
		return nil, fmt.Errorf("failed to list webhook attempts: %w", err)
	}
	return attempts, nil
}
