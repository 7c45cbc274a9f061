package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

const (
	// Signature and event type travel in these headers.
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
)

type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
	AttemptLogCap  int
	RatePerSecond  int
	CacheTTL       time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.AttemptLogCap <= 0 {
		c.AttemptLogCap = 100
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 50
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
}

// Result reports the terminal outcome of one delivery.
type Result struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Attempt int  `json:"attempt"`
}

// Service delivers signed lifecycle events to subscriber endpoints.
type Service struct {
	subs    repository.SubscriberRepository
	client  *http.Client
	cache   *gocache.Cache
	limiter *rate.Limiter
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(subs repository.SubscriberRepository, cfg Config, log *logger.Logger, m *metrics.Metrics) *Service {
	cfg.withDefaults()
	return &Service{
		subs:    subs,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		cache:   gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		cfg:     cfg,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

func (s *Service) resolveConfig(ctx context.Context, appID string) (*model.SubscriberConfig, error) {
	if cached, ok := s.cache.Get(appID); ok {
		return cached.(*model.SubscriberConfig), nil
	}
	cfg, err := s.subs.ResolveConfig(ctx, appID)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(appID, cfg)
	return cfg, nil
}

// Send posts the event to the subscriber's callback URL, signed with
// its shared secret. Network failures and 5xx responses are retried
// with exponential backoff; any response below 500 is terminal for the
// delivery (success for 2xx, permanent rejection otherwise). A missing
// callback URL is a configuration error with no retry.
func (s *Service) Send(ctx context.Context, appID, eventType string, data interface{}) (*Result, error) {
	sub, err := s.resolveConfig(ctx, appID)
	if err != nil {
		return nil, err
	}
	if sub.CallbackURL == "" {
		return nil, apperrors.Configuration(fmt.Sprintf("no webhook callback URL configured for app %s", appID))
	}

	envelope := model.WebhookEnvelope{
		Event:     eventType,
		Timestamp: s.now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	signature := Sign(body, sub.Secret)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := s.cfg.BaseDelay * (1 << (attempt - 2))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		status, err := s.post(ctx, sub.CallbackURL, eventType, signature, body)
		terminal := err == nil && status < 500

		if terminal && status < 300 {
			s.recordAttempt(appID, eventType, model.WebhookAttemptSuccess, attempt, status, "")
			return &Result{Success: true, Status: status, Attempt: attempt}, nil
		}

		errMsg := fmt.Sprintf("received status %d", status)
		if err != nil {
			errMsg = err.Error()
		}
		s.recordAttempt(appID, eventType, model.WebhookAttemptFailed, attempt, status, errMsg)

		if terminal {
			// 4xx is a permanent rejection by the subscriber.
			return &Result{Success: false, Status: status, Attempt: attempt},
				apperrors.DeliveryFailed(attempt, fmt.Errorf("subscriber rejected event with status %d", status))
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("received status %d", status)
		}
		s.logger.Warn("webhook attempt failed",
			"app_id", appID, "event", eventType, "attempt", attempt, "error", errMsg)
	}

	return &Result{Success: false, Attempt: s.cfg.MaxRetries},
		apperrors.DeliveryFailed(s.cfg.MaxRetries, lastErr)
}

func (s *Service) post(ctx context.Context, url, eventType, signature string, body []byte) (int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, eventType)

	start := time.Now()
	resp, err := s.client.Do(req)
	if s.metrics != nil {
		s.metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// recordAttempt appends to the subscriber's bounded audit trail.
// Best-effort: a logging failure must never abort delivery.
func (s *Service) recordAttempt(appID, eventType string, status model.WebhookAttemptStatus, attempt, httpStatus int, errMsg string) {
	if s.metrics != nil {
		s.metrics.WebhookAttempts.WithLabelValues(eventType, string(status)).Inc()
	}

	entry := &model.WebhookAttempt{
		AppID:         appID,
		EventType:     eventType,
		Status:        status,
		AttemptNumber: attempt,
		HTTPStatus:    httpStatus,
		Error:         errMsg,
		Timestamp:     s.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.subs.AppendAttempt(ctx, entry, s.cfg.AttemptLogCap); err != nil {
		s.logger.Warn("failed to record webhook attempt", "app_id", appID, "error", err.Error())
	}
}

// Convenience wrappers per lifecycle event.

func (s *Service) NotifySent(ctx context.Context, appID string, rec *model.NotificationRecord) (*Result, error) {
	return s.Send(ctx, appID, model.WebhookEventSent, rec)
}

func (s *Service) NotifyFailed(ctx context.Context, appID string, data interface{}) (*Result, error) {
	return s.Send(ctx, appID, model.WebhookEventFailed, data)
}

func (s *Service) NotifyRead(ctx context.Context, appID string, rec *model.NotificationRecord) (*Result, error) {
	return s.Send(ctx, appID, model.WebhookEventRead, rec)
}

func (s *Service) NotifyDismissed(ctx context.Context, appID string, rec *model.NotificationRecord) (*Result, error) {
	return s.Send(ctx, appID, model.WebhookEventDismissed, rec)
}
