package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository"
)

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) repository.NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, tenantID string, input *model.NotificationInput, provenance map[string]interface{}) (*model.NotificationRecord, error) {
	rec := &model.NotificationRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Title:     input.Title,
		Message:   input.Message,
		Type:      input.Type,
		Priority:  input.Priority,
		Metadata:  mergeMetadata(input.Metadata, provenance),
		CreatedAt: time.Now(),
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO notifications (id, tenant_id, title, message, type, priority, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.Title, rec.Message, rec.Type, rec.Priority, meta, rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return rec, nil
}

func (r *notificationRepository) CreateBulk(ctx context.Context, items []model.QueuedNotification) ([]*model.NotificationRecord, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO notifications (id, tenant_id, title, message, type, priority, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	now := time.Now()
	records := make([]*model.NotificationRecord, 0, len(items))
	for _, item := range items {
		rec := &model.NotificationRecord{
			ID:        uuid.New(),
			TenantID:  item.TenantID,
			Title:     item.Notification.Title,
			Message:   item.Notification.Message,
			Type:      item.Notification.Type,
			Priority:  item.Notification.Priority,
			Metadata:  mergeMetadata(item.Notification.Metadata, map[string]interface{}{"sending_app_id": item.AppID}),
			CreatedAt: now,
		}

		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query,
			rec.ID, rec.TenantID, rec.Title, rec.Message, rec.Type, rec.Priority, meta, rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to create notification: %w", err)
		}
		records = append(records, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return records, nil
}

func mergeMetadata(base, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		if v == nil || v == "" {
			continue
		}
		merged[k] = v
	}
	return merged
}
