package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/vircore/controlplane/internal/log"
	"github.com/vircore/controlplane/internal/metrics"
	"github.com/vircore/controlplane/internal/types"
)

// Delivery is the outcome of one attempt (successful or exhausted) to
// notify a subscription of an event.
type Delivery struct {
	SubscriptionID string
	EventKind      types.EventKind
	Attempts       int
	Delivered      bool
	Error          string
	Timestamp      time.Time
}

// Sender performs the actual delivery: an HTTP POST in production, a
// fake in tests.
type Sender interface {
	Send(ctx context.Context, endpoint string, event types.AuditEvent) error
}

// Subscription is one registered endpoint interested in a subset of
// event kinds. An empty Kinds set matches every event.
type Subscription struct {
	ID       string
	Endpoint string
	Kinds    map[types.EventKind]bool
}

func (s Subscription) matches(kind types.EventKind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	return s.Kinds[kind]
}

// Config tunes delivery retry and history retention.
type Config struct {
	MaxAttempts  int
	MaxHistory   int
	InitialDelay time.Duration
}

// Dispatcher owns the subscription set and delivery history, and hands
// off each event to its own goroutine per subscriber.
type Dispatcher struct {
	cfg    Config
	sender Sender
	logger zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[string]Subscription
	history       []Delivery
}

// New constructs a Dispatcher. MaxAttempts defaults to 5, MaxHistory to 1000.
func New(cfg Config, sender Sender) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	return &Dispatcher{
		cfg:           cfg,
		sender:        sender,
		logger:        log.WithComponent("webhook"),
		subscriptions: make(map[string]Subscription),
	}
}

// Subscribe registers sub, replacing any prior subscription with the same ID.
func (d *Dispatcher) Subscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscriptions[sub.ID] = sub
}

// Unsubscribe removes a subscription by id.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscriptions, id)
}

// Dispatch fans e out to every matching subscription, each retried
// independently with exponential backoff. It returns once every
// subscriber has either succeeded or exhausted its attempts; callers
// that want fire-and-forget semantics should invoke it in a goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, e types.AuditEvent) {
	d.mu.RLock()
	subs := make([]Subscription, 0, len(d.subscriptions))
	for _, s := range d.subscriptions {
		if s.matches(e.Kind) {
			subs = append(subs, s)
		}
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			d.deliver(ctx, sub, e)
		}(sub)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, e types.AuditEvent) {
	attempts := 0

	op := func() (struct{}, error) {
		attempts++
		err := d.sender.Send(ctx, sub.Endpoint, e)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialDelay

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(d.cfg.MaxAttempts)))

	rec := Delivery{SubscriptionID: sub.ID, EventKind: e.Kind, Attempts: attempts, Delivered: err == nil, Timestamp: time.Now()}
	if err != nil {
		rec.Error = err.Error()
		d.logger.Warn().Str("subscription_id", sub.ID).Int("attempts", attempts).Err(err).Msg("webhook delivery exhausted retries")
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	}
	metrics.WebhookDeliveryAttempts.Observe(float64(attempts))
	d.record(rec)
}

func (d *Dispatcher) record(rec Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, rec)
	if len(d.history) > d.cfg.MaxHistory {
		d.history = d.history[len(d.history)-d.cfg.MaxHistory:]
	}
}

// History returns recorded deliveries, oldest first.
func (d *Dispatcher) History() []Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Delivery, len(d.history))
	copy(out, d.history)
	return out
}
