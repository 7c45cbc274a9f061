package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/realtime"
	"github.com/jwalitptl/notify-api/internal/repository"
	"github.com/jwalitptl/notify-api/internal/webhook"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
)

// Broadcaster is the realtime fan-out edge consumed by the service.
type Broadcaster interface {
	BroadcastToTenant(ctx context.Context, tenantID string, data interface{}) (realtime.BroadcastResult, error)
}

// Notifier delivers lifecycle webhooks to the originating application.
type Notifier interface {
	NotifySent(ctx context.Context, appID string, rec *model.NotificationRecord) (*webhook.Result, error)
}

// Service processes notifications: durable record creation, realtime
// fan-out, webhook notify. It implements the dispatcher's Sink and
// also serves the synchronous request path.
type Service struct {
	repo        repository.NotificationRepository
	broadcaster Broadcaster
	notifier    Notifier
	logger      *logger.Logger
}

func NewService(repo repository.NotificationRepository, broadcaster Broadcaster, notifier Notifier, log *logger.Logger) *Service {
	return &Service{
		repo:        repo,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      log,
	}
}

// Deliver processes one notification end to end. Realtime fan-out is
// best-effort and never fails the delivery; webhook delivery failures
// propagate so the caller (dispatcher or route handler) can retry the
// job.
func (s *Service) Deliver(ctx context.Context, n model.QueuedNotification) (*model.NotificationRecord, error) {
	if err := s.validate(n); err != nil {
		return nil, err
	}

	provenance := map[string]interface{}{
		"sending_app_id": n.AppID,
		"source_job_id":  n.SourceJobID,
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	}
	rec, err := s.repo.Create(ctx, n.TenantID, n.Notification, provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification record: %w", err)
	}

	s.broadcast(ctx, rec)

	if err := s.notifyWebhook(ctx, n.AppID, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// DeliverBulk persists a batch in one round trip and then fans out and
// notifies per record. Used by the synchronous bulk path; queued bulk
// jobs go through Deliver per item instead.
func (s *Service) DeliverBulk(ctx context.Context, items []model.QueuedNotification) ([]*model.NotificationRecord, error) {
	for _, item := range items {
		if err := s.validate(item); err != nil {
			return nil, err
		}
	}

	records, err := s.repo.CreateBulk(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification records: %w", err)
	}

	for i, rec := range records {
		s.broadcast(ctx, rec)
		if err := s.notifyWebhook(ctx, items[i].AppID, rec); err != nil {
			return records, err
		}
	}
	return records, nil
}

// broadcast is best-effort: a fan-out failure is logged and swallowed,
// never surfaced to the job.
func (s *Service) broadcast(ctx context.Context, rec *model.NotificationRecord) {
	if s.broadcaster == nil {
		return
	}
	res, err := s.broadcaster.BroadcastToTenant(ctx, rec.TenantID, rec)
	if err != nil {
		s.logger.Warn("realtime fan-out failed",
			"notification_id", rec.ID.String(), "tenant_id", rec.TenantID, "error", err.Error())
		return
	}
	s.logger.Debug("notification broadcast",
		"notification_id", rec.ID.String(), "tenant_id", rec.TenantID,
		"sent", res.Sent, "total", res.Total)
}

// notifyWebhook attempts webhook delivery independently of fan-out
// outcome. An app with no subscriber registration is not an error;
// exhausted delivery attempts are.
func (s *Service) notifyWebhook(ctx context.Context, appID string, rec *model.NotificationRecord) error {
	if s.notifier == nil || appID == "" {
		return nil
	}
	_, err := s.notifier.NotifySent(ctx, appID, rec)
	if err == nil {
		return nil
	}
	if apperrors.IsCode(err, apperrors.ErrConfiguration) || apperrors.IsCode(err, apperrors.ErrNotFound) {
		s.logger.Debug("no webhook subscriber for app", "app_id", appID)
		return nil
	}
	return fmt.Errorf("webhook delivery failed: %w", err)
}

func (s *Service) validate(n model.QueuedNotification) error {
	if n.TenantID == "" {
		return apperrors.BadRequest("tenant ID is required", nil)
	}
	if n.Notification == nil {
		return apperrors.BadRequest("notification is required", nil)
	}
	if n.Notification.Title == "" {
		return apperrors.BadRequest("title is required", nil)
	}
	if n.Notification.Message == "" {
		return apperrors.BadRequest("message is required", nil)
	}
	return nil
}
