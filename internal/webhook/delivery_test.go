package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/internal/model"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
)

// stubSubscriberRepo serves a single registration and records the
// attempt trail in memory.
type stubSubscriberRepo struct {
	mu       sync.Mutex
	config   *model.SubscriberConfig
	err      error
	attempts []*model.WebhookAttempt
	lastCap  int
}

func (r *stubSubscriberRepo) ResolveConfig(_ context.Context, appID string) (*model.SubscriberConfig, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.config, nil
}

func (r *stubSubscriberRepo) AppendAttempt(_ context.Context, attempt *model.WebhookAttempt, cap int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	r.lastCap = cap
	return nil
}

func (r *stubSubscriberRepo) ListAttempts(_ context.Context, appID string, limit int) ([]*model.WebhookAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, nil
}

func (r *stubSubscriberRepo) recorded() []*model.WebhookAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.WebhookAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

func testService(repo *stubSubscriberRepo) *Service {
	return NewService(repo, Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	}, logger.Nop(), nil)
}

type receivedRequest struct {
	body      []byte
	signature string
	event     string
}

func TestSend_SignsAndDelivers(t *testing.T) {
	var mu sync.Mutex
	var got []receivedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, receivedRequest{
			body:      body,
			signature: r.Header.Get(HeaderSignature),
			event:     r.Header.Get(HeaderEvent),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &stubSubscriberRepo{config: &model.SubscriberConfig{
		AppID:       "app-1",
		CallbackURL: srv.URL,
		Secret:      "secret",
	}}
	svc := testService(repo)

	rec := &model.NotificationRecord{TenantID: "tenant-1", Title: "t"}
	res, err := svc.NotifySent(context.Background(), "app-1", rec)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, 1, res.Attempt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, model.WebhookEventSent, got[0].event)
	assert.True(t, VerifySignature(got[0].body, got[0].signature, "secret"))

	var env model.WebhookEnvelope
	require.NoError(t, json.Unmarshal(got[0].body, &env))
	assert.Equal(t, model.WebhookEventSent, env.Event)
	assert.False(t, env.Timestamp.IsZero())
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &stubSubscriberRepo{config: &model.SubscriberConfig{CallbackURL: srv.URL, Secret: "s"}}
	svc := testService(repo)

	res, err := svc.Send(context.Background(), "app-1", model.WebhookEventSent, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempt)

	// Two failures and the final success all land in the audit trail.
	attempts := repo.recorded()
	require.Len(t, attempts, 3)
	assert.Equal(t, model.WebhookAttemptFailed, attempts[0].Status)
	assert.Equal(t, model.WebhookAttemptFailed, attempts[1].Status)
	assert.Equal(t, model.WebhookAttemptSuccess, attempts[2].Status)
	assert.Equal(t, 100, repo.lastCap)
}

func TestSend_ClientErrorIsPermanent(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	repo := &stubSubscriberRepo{config: &model.SubscriberConfig{CallbackURL: srv.URL, Secret: "s"}}
	svc := testService(repo)

	res, err := svc.Send(context.Background(), "app-1", model.WebhookEventSent, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrDeliveryFailed))
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempt)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestSend_ExhaustsRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	repo := &stubSubscriberRepo{config: &model.SubscriberConfig{CallbackURL: srv.URL, Secret: "s"}}
	svc := testService(repo)

	_, err := svc.Send(context.Background(), "app-1", model.WebhookEventSent, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrDeliveryFailed))

	var delErr *apperrors.DeliveryError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, 3, delErr.Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestSend_MissingCallbackURL(t *testing.T) {
	repo := &stubSubscriberRepo{config: &model.SubscriberConfig{AppID: "app-1"}}
	svc := testService(repo)

	_, err := svc.Send(context.Background(), "app-1", model.WebhookEventSent, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConfiguration))
}

func TestSend_UnknownSubscriber(t *testing.T) {
	repo := &stubSubscriberRepo{err: apperrors.NotFound("subscriber", nil)}
	svc := testService(repo)

	_, err := svc.Send(context.Background(), "app-1", model.WebhookEventSent, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestSend_NetworkErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from the first attempt

	repo := &stubSubscriberRepo{config: &model.SubscriberConfig{CallbackURL: srv.URL, Secret: "s"}}
	svc := testService(repo)

	_, err := svc.Send(context.Background(), "app-1", model.WebhookEventSent, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrDeliveryFailed))
	assert.Len(t, repo.recorded(), 3)
}
