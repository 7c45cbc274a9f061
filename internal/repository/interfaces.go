package repository

import (
	"context"

	"github.com/jwalitptl/notify-api/internal/model"
)

// NotificationRepository persists notification records. It may enforce
// its own tenant and validation rules; the delivery core treats it as
// an opaque collaborator.
type NotificationRepository interface {
	Create(ctx context.Context, tenantID string, input *model.NotificationInput, provenance map[string]interface{}) (*model.NotificationRecord, error)
	CreateBulk(ctx context.Context, items []model.QueuedNotification) ([]*model.NotificationRecord, error)
}

// SubscriberRepository is the application/webhook registry.
type SubscriberRepository interface {
	ResolveConfig(ctx context.Context, appID string) (*model.SubscriberConfig, error)
	// AppendAttempt adds one entry to the subscriber's delivery audit
	// trail, evicting entries past cap. Best-effort: callers log and
	// ignore errors.
	AppendAttempt(ctx context.Context, attempt *model.WebhookAttempt, cap int) error
	ListAttempts(ctx context.Context, appID string, limit int) ([]*model.WebhookAttempt, error)
}

// APIKeyRepository authenticates inbound callers by API key.
type APIKeyRepository interface {
	LookupByKey(ctx context.Context, key string) (*model.Caller, error)
}
