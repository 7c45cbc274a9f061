package model

import (
	"time"
)

// Webhook lifecycle event types.
const (
	WebhookEventSent      = "notification.sent"
	WebhookEventFailed    = "notification.failed"
	WebhookEventRead      = "notification.read"
	WebhookEventDismissed = "notification.dismissed"
)

// WebhookEnvelope is the signed payload posted to subscriber endpoints.
type WebhookEnvelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SubscriberConfig is the webhook registration of an application,
// resolved from the subscriber registry collaborator.
type SubscriberConfig struct {
	AppID          string   `db:"app_id" json:"app_id"`
	CallbackURL    string   `db:"callback_url" json:"callback_url"`
	Secret         string   `db:"secret" json:"-"`
	AllowedTenants []string `db:"-" json:"allowed_tenants,omitempty"`
}

type WebhookAttemptStatus string

const (
	WebhookAttemptSuccess WebhookAttemptStatus = "success"
	WebhookAttemptFailed  WebhookAttemptStatus = "failed"
)

// WebhookAttempt is one entry of the bounded delivery audit trail.
type WebhookAttempt struct {
	AppID         string               `db:"app_id" json:"app_id"`
	EventType     string               `db:"event_type" json:"event_type"`
	Status        WebhookAttemptStatus `db:"status" json:"status"`
	AttemptNumber int                  `db:"attempt_number" json:"attempt_number"`
	HTTPStatus    int                  `db:"http_status" json:"http_status,omitempty"`
	Error         string               `db:"error" json:"error,omitempty"`
	Timestamp     time.Time            `db:"created_at" json:"timestamp"`
}
