package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/realtime"
	"github.com/jwalitptl/notify-api/internal/webhook"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
)

type stubRepo struct {
	mu          sync.Mutex
	created     []*model.NotificationRecord
	provenances []map[string]interface{}
	err         error
}

func (r *stubRepo) Create(_ context.Context, tenantID string, input *model.NotificationInput, provenance map[string]interface{}) (*model.NotificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rec := &model.NotificationRecord{
		ID:       uuid.New(),
		TenantID: tenantID,
		Title:    input.Title,
		Message:  input.Message,
	}
	r.created = append(r.created, rec)
	r.provenances = append(r.provenances, provenance)
	return rec, nil
}

func (r *stubRepo) CreateBulk(ctx context.Context, items []model.QueuedNotification) ([]*model.NotificationRecord, error) {
	records := make([]*model.NotificationRecord, 0, len(items))
	for _, item := range items {
		rec, err := r.Create(ctx, item.TenantID, item.Notification, nil)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

type stubBroadcaster struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (b *stubBroadcaster) BroadcastToTenant(_ context.Context, tenantID string, data interface{}) (realtime.BroadcastResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return realtime.BroadcastResult{}, b.err
	}
	return realtime.BroadcastResult{Sent: 1, Total: 1}, nil
}

type stubNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (n *stubNotifier) NotifySent(_ context.Context, appID string, rec *model.NotificationRecord) (*webhook.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return nil, n.err
	}
	return &webhook.Result{Success: true, Status: 200, Attempt: 1}, nil
}

func queued(title string) model.QueuedNotification {
	return model.QueuedNotification{
		TenantID:     "tenant-1",
		AppID:        "app-1",
		SourceJobID:  "job-1",
		Notification: &model.NotificationInput{Title: title, Message: "m"},
	}
}

func TestDeliver_CreatesRecordWithProvenance(t *testing.T) {
	repo := &stubRepo{}
	bc := &stubBroadcaster{}
	nt := &stubNotifier{}
	svc := NewService(repo, bc, nt, logger.Nop())

	rec, err := svc.Deliver(context.Background(), queued("hello"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "tenant-1", rec.TenantID)
	assert.Equal(t, "hello", rec.Title)

	require.Len(t, repo.provenances, 1)
	assert.Equal(t, "app-1", repo.provenances[0]["sending_app_id"])
	assert.Equal(t, "job-1", repo.provenances[0]["source_job_id"])
	assert.NotEmpty(t, repo.provenances[0]["sent_at"])

	assert.Equal(t, 1, bc.calls)
	assert.Equal(t, 1, nt.calls)
}

func TestDeliver_BroadcastFailureIsSwallowed(t *testing.T) {
	repo := &stubRepo{}
	bc := &stubBroadcaster{err: errors.New("bus down")}
	svc := NewService(repo, bc, &stubNotifier{}, logger.Nop())

	rec, err := svc.Deliver(context.Background(), queued("hello"))
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestDeliver_NoSubscriberIsNotAnError(t *testing.T) {
	for _, subErr := range []error{
		apperrors.Configuration("no callback URL"),
		apperrors.NotFound("subscriber", nil),
	} {
		svc := NewService(&stubRepo{}, nil, &stubNotifier{err: subErr}, logger.Nop())
		rec, err := svc.Deliver(context.Background(), queued("hello"))
		require.NoError(t, err)
		assert.NotNil(t, rec)
	}
}

func TestDeliver_WebhookFailurePropagates(t *testing.T) {
	repo := &stubRepo{}
	nt := &stubNotifier{err: apperrors.DeliveryFailed(3, errors.New("status 500"))}
	svc := NewService(repo, &stubBroadcaster{}, nt, logger.Nop())

	rec, err := svc.Deliver(context.Background(), queued("hello"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrDeliveryFailed))
	// The record survives; a retried job creates another one, which is
	// the documented at-least-once trade-off.
	assert.NotNil(t, rec)
	assert.Len(t, repo.created, 1)
}

func TestDeliver_SkipsWebhookWithoutApp(t *testing.T) {
	nt := &stubNotifier{}
	svc := NewService(&stubRepo{}, nil, nt, logger.Nop())

	n := queued("hello")
	n.AppID = ""
	_, err := svc.Deliver(context.Background(), n)
	require.NoError(t, err)
	assert.Zero(t, nt.calls)
}

func TestDeliver_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, logger.Nop())
	ctx := context.Background()

	cases := []model.QueuedNotification{
		{},
		{TenantID: "t"},
		{TenantID: "t", Notification: &model.NotificationInput{Message: "m"}},
		{TenantID: "t", Notification: &model.NotificationInput{Title: "x"}},
	}
	for _, c := range cases {
		_, err := svc.Deliver(ctx, c)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
	}
}

func TestDeliver_RepoErrorPropagates(t *testing.T) {
	repo := &stubRepo{err: errors.New("db down")}
	bc := &stubBroadcaster{}
	svc := NewService(repo, bc, nil, logger.Nop())

	_, err := svc.Deliver(context.Background(), queued("hello"))
	require.Error(t, err)
	assert.Zero(t, bc.calls)
}

func TestDeliverBulk(t *testing.T) {
	repo := &stubRepo{}
	bc := &stubBroadcaster{}
	nt := &stubNotifier{}
	svc := NewService(repo, bc, nt, logger.Nop())

	records, err := svc.DeliverBulk(context.Background(), []model.QueuedNotification{
		queued("a"), queued("b"), queued("c"),
	})
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 3, bc.calls)
	assert.Equal(t, 3, nt.calls)
}

func TestDeliverBulk_ValidatesBeforePersisting(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, logger.Nop())

	_, err := svc.DeliverBulk(context.Background(), []model.QueuedNotification{
		queued("a"), {TenantID: "t"},
	})
	require.Error(t, err)
	assert.Empty(t, repo.created)
}
