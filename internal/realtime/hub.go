package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/messaging"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

// Envelope is the wire format for realtime push.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Envelope types.
const (
	TypeConnected    = "connected"
	TypeNotification = "notification"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// Channel is one live push connection. Implementations must be safe
// for concurrent Send calls.
type Channel interface {
	Send(Envelope) error
	Close() error
}

// BroadcastResult counts recipients of a tenant broadcast.
type BroadcastResult struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

// busMessage is the cross-process fan-out frame published to the bus.
type busMessage struct {
	InstanceID string   `json:"instance_id"`
	TenantID   string   `json:"tenant_id"`
	Envelope   Envelope `json:"envelope"`
}

const busChannel = "realtime:broadcast"

// Hub is the process-local connection registry: tenant -> users ->
// live channels. State is ephemeral; an optional bus sink extends
// tenant broadcasts to sibling processes holding other connections.
type Hub struct {
	mu          sync.RWMutex
	userConns   map[string]map[Channel]struct{}
	tenantUsers map[string]map[string]struct{}

	instanceID string
	bus        messaging.Broker
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option customizes a Hub.
type Option func(*Hub)

// WithBus attaches the shared fan-out bus.
func WithBus(bus messaging.Broker) Option {
	return func(h *Hub) { h.bus = bus }
}

// WithInstanceID overrides the generated bus identity. Operators set a
// stable id per process so bus frames are attributable in logs.
func WithInstanceID(id string) Option {
	return func(h *Hub) {
		if id != "" {
			h.instanceID = id
		}
	}
}

func NewHub(log *logger.Logger, m *metrics.Metrics, opts ...Option) *Hub {
	h := &Hub{
		userConns:   make(map[string]map[Channel]struct{}),
		tenantUsers: make(map[string]map[string]struct{}),
		instanceID:  uuid.NewString(),
		logger:      log,
		metrics:     m,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a channel to the user's connection set and the user to
// the tenant's user set.
func (h *Hub) Register(userID, tenantID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.userConns[userID]
	if !ok {
		conns = make(map[Channel]struct{})
		h.userConns[userID] = conns
	}
	conns[ch] = struct{}{}

	users, ok := h.tenantUsers[tenantID]
	if !ok {
		users = make(map[string]struct{})
		h.tenantUsers[tenantID] = users
	}
	users[userID] = struct{}{}

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}
	h.logger.Debug("connection registered", "user_id", userID, "tenant_id", tenantID)
}

// Unregister removes the channel. Closing the user's last connection
// removes the user from the tenant set, and an emptied tenant entry is
// removed entirely; no orphaned mappings survive. The whole cleanup
// runs under one lock so interleaved connects cannot observe partial
// state.
func (h *Hub) Unregister(userID, tenantID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.userConns[userID]
	if !ok {
		return
	}
	if _, ok := conns[ch]; !ok {
		return
	}
	delete(conns, ch)

	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
	}

	if len(conns) > 0 {
		return
	}
	delete(h.userConns, userID)
	if users, ok := h.tenantUsers[tenantID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(h.tenantUsers, tenantID)
		}
	}
	h.logger.Debug("last connection closed", "user_id", userID, "tenant_id", tenantID)
}

func (h *Hub) envelope(data interface{}) Envelope {
	return Envelope{Type: TypeNotification, Data: data, Timestamp: h.now().UTC()}
}

// SendToUser pushes to all of the user's open channels, best-effort.
// One broken channel never blocks delivery to the others.
func (h *Hub) SendToUser(userID string, data interface{}) bool {
	return h.sendEnvelope(userID, h.envelope(data))
}

// BroadcastToTenant pushes to every connected user of the tenant and,
// when a bus is attached, publishes the event for sibling processes.
// Zero connected users is a normal outcome.
func (h *Hub) BroadcastToTenant(ctx context.Context, tenantID string, data interface{}) (BroadcastResult, error) {
	env := h.envelope(data)
	result := h.deliverLocal(tenantID, env)

	if h.bus != nil {
		msg := busMessage{InstanceID: h.instanceID, TenantID: tenantID, Envelope: env}
		if err := h.bus.Publish(ctx, busChannel, msg); err != nil {
			// Local delivery already happened; remote fan-out is
			// best-effort like every other push.
			h.logger.Warn("failed to publish broadcast to bus", "tenant_id", tenantID, "error", err.Error())
		}
	}
	return result, nil
}

// BroadcastToTenants fans out over a set of tenants, aggregating
// counts.
func (h *Hub) BroadcastToTenants(ctx context.Context, tenantIDs []string, data interface{}) (BroadcastResult, error) {
	var agg BroadcastResult
	for _, tenantID := range tenantIDs {
		res, err := h.BroadcastToTenant(ctx, tenantID, data)
		if err != nil {
			return agg, err
		}
		agg.Sent += res.Sent
		agg.Total += res.Total
	}
	return agg, nil
}

func (h *Hub) deliverLocal(tenantID string, env Envelope) BroadcastResult {
	h.mu.RLock()
	users := make([]string, 0, len(h.tenantUsers[tenantID]))
	for userID := range h.tenantUsers[tenantID] {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	result := BroadcastResult{Total: len(users)}
	for _, userID := range users {
		if h.sendEnvelope(userID, env) {
			result.Sent++
		}
	}
	return result
}

func (h *Hub) sendEnvelope(userID string, env Envelope) bool {
	h.mu.RLock()
	channels := make([]Channel, 0, len(h.userConns[userID]))
	for ch := range h.userConns[userID] {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	delivered := false
	for _, ch := range channels {
		if err := ch.Send(env); err != nil {
			h.logger.Warn("failed to push to channel", "user_id", userID, "error", err.Error())
			if h.metrics != nil {
				h.metrics.BroadcastsDropped.Inc()
			}
			continue
		}
		delivered = true
		if h.metrics != nil {
			h.metrics.BroadcastsSent.Inc()
		}
	}
	return delivered
}

// Start subscribes to the fan-out bus and delivers events published by
// sibling processes to local connections. No-op without a bus.
func (h *Hub) Start(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	msgs, err := h.bus.Subscribe(ctx, busChannel)
	if err != nil {
		return err
	}
	go func() {
		for raw := range msgs {
			var msg busMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				h.logger.Warn("failed to decode bus message", "error", err.Error())
				continue
			}
			if msg.InstanceID == h.instanceID {
				continue
			}
			h.deliverLocal(msg.TenantID, msg.Envelope)
		}
	}()
	return nil
}

// ConnectionCount returns the number of open channels across all
// users.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.userConns {
		total += len(conns)
	}
	return total
}

// TenantUserCount returns how many users of the tenant hold at least
// one open connection.
func (h *Hub) TenantUserCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenantUsers[tenantID])
}
