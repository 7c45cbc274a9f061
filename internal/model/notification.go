package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationInput carries the caller-supplied fields of a notification.
type NotificationInput struct {
	Title    string                 `json:"title" validate:"required,max=200"`
	Message  string                 `json:"message" validate:"required"`
	Type     string                 `json:"type,omitempty"`
	Priority int                    `json:"priority,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NotificationRecord is the durable notification created by the
// persistence collaborator. Immutable once created except for
// read/dismiss flags, which are owned by that collaborator.
type NotificationRecord struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	TenantID  string                 `db:"tenant_id" json:"tenant_id"`
	Title     string                 `db:"title" json:"title"`
	Message   string                 `db:"message" json:"message"`
	Type      string                 `db:"type" json:"type"`
	Priority  int                    `db:"priority" json:"priority"`
	Metadata  map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// QueuedNotification is one unit of work for the dispatcher: a single
// notification bound to its target tenant and originating application.
type QueuedNotification struct {
	TenantID     string             `json:"tenant_id"`
	AppID        string             `json:"app_id,omitempty"`
	Notification *NotificationInput `json:"notification"`

	// SourceJobID is stamped by the dispatcher before processing.
	// Delivery is at-least-once; consumers needing exactly-once can
	// dedup on it.
	SourceJobID string `json:"source_job_id,omitempty"`
}
