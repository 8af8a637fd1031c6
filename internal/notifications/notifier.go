package notifications

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
)

// Event types published after a state change commits
const (
	EventOrderCreated          = "order.created"
	EventOrderStatusChanged    = "order.status_changed"
	EventOrderDisputed         = "order.disputed"
	EventOrderDisputeResolved  = "order.dispute_resolved"
	EventSponsorshipCreated    = "sponsorship.created"
	EventSponsorshipStatus     = "sponsorship.status_changed"
	EventCertificateIssued     = "sponsorship.certificate_issued"
	EventInvestmentCreated     = "investment.created"
	EventInvestmentStatus      = "investment.status_changed"
	EventInvestmentReturnAdded = "investment.return_added"
)

// Event describes a committed change. Recipients lists the user ids that
// should see it on their live channels.
type Event struct {
	Type       string         `json:"type"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	ProjectID  string         `json:"projectId,omitempty"`
	Status     string         `json:"status,omitempty"`
	Recipients []string       `json:"recipients,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Notifier delivers events to one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

const (
	queueSize       = 256
	deliveryTimeout = 5 * time.Second
)

// Dispatcher fans an event out to every configured notifier on a background
// worker. Delivery is best effort: failures are logged and counted, never
// returned, because the state change they describe has already committed.
type Dispatcher struct {
	notifiers []Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	done   chan struct{}
}

type envelope struct {
	ctx   context.Context
	event Event
}

func NewDispatcher(logger *zap.Logger, m *metrics.Metrics, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		metrics:   m,
		logger:    logger,
		timeout:   deliveryTimeout,
		queue:     make(chan envelope, queueSize),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues event and returns without waiting for delivery. The caller's
// cancellation does not reach the notifiers; each delivery gets its own timeout.
// When the queue is full the event is dropped.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("Notification dropped after shutdown", zap.String("event", event.Type))
		return
	}
	select {
	case d.queue <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		d.metrics.NotificationFailed("queue")
		d.logger.Warn("Notification queue full, event dropped",
			zap.String("event", event.Type),
			zap.String("entity_id", event.EntityID),
		)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for env := range d.queue {
		d.deliver(env)
	}
}

func (d *Dispatcher) deliver(env envelope) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(env.ctx, d.timeout)
		err := n.Notify(ctx, env.event)
		cancel()
		if err != nil {
			d.metrics.NotificationFailed(n.Name())
			d.logger.Warn("Notification delivery failed",
				zap.String("channel", n.Name()),
				zap.String("event", env.event.Type),
				zap.String("entity_id", env.event.EntityID),
				zap.Error(err),
			)
		}
	}
}

// LogNotifier writes every event to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info("Marketplace event",
		zap.String("event", event.Type),
		zap.String("entity_type", event.EntityType),
		zap.String("entity_id", event.EntityID),
		zap.String("status", event.Status),
		zap.Strings("recipients", event.Recipients),
	)
	return nil
}
