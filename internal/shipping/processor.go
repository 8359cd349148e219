// Package shipping turns OrderCreated events into ShippingScheduled events,
// at most once per order id.
package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/redstone/orderflow/internal/deadletter"
	"github.com/redstone/orderflow/internal/eventlog"
	"github.com/redstone/orderflow/internal/fault"
	"github.com/redstone/orderflow/internal/idempotency"
	"github.com/redstone/orderflow/internal/logger"
)

var tracer = otel.Tracer("github.com/redstone/orderflow/internal/shipping")

// Processor consumes order-created messages and publishes one shipping
// schedule per order, routing failures to the dead-letter topic.
type Processor struct {
	store    idempotency.Store
	pub      eventlog.Publisher
	dlq      *deadletter.Router
	topic    string
	log      *logger.Logger
	address  AddressResolver
	tracking func() string
	now      func() time.Time
	delay    time.Duration
	delivery time.Duration
}

// Option customises a Processor built by NewProcessor.
type Option func(*Processor)

// WithAddressResolver replaces the default static shipping address.
func WithAddressResolver(r AddressResolver) Option {
	return func(p *Processor) { p.address = r }
}

// WithProcessingDelay simulates the latency of the downstream shipping work.
func WithProcessingDelay(d time.Duration) Option {
	return func(p *Processor) { p.delay = d }
}

// WithDeliveryOffset sets how far past scheduling the estimated delivery lands.
func WithDeliveryOffset(d time.Duration) Option {
	return func(p *Processor) { p.delivery = d }
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithTrackingNumbers overrides the tracking number generator.
func WithTrackingNumbers(gen func() string) Option {
	return func(p *Processor) { p.tracking = gen }
}

// NewProcessor returns a Processor that publishes schedules to topic.
func NewProcessor(
	store idempotency.Store,
	pub eventlog.Publisher,
	dlq *deadletter.Router,
	topic string,
	log *logger.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		store:    store,
		pub:      pub,
		dlq:      dlq,
		topic:    topic,
		log:      log,
		address:  StaticAddress(DefaultAddress),
		tracking: NewTrackingNumber,
		now:      time.Now,
		delivery: 72 * time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle is the subscription handler for OrderCreated. Failures are routed
// to the dead-letter topic and reported as handled so the offset moves on;
// only cancellation is returned, which leaves the message for redelivery.
func (p *Processor) Handle(ctx context.Context, msg eventlog.Message) error {
	ctx = eventlog.ExtractTrace(ctx, msg)
	ctx, span := tracer.Start(ctx, "shipping.handle", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.partition", msg.Partition),
			attribute.Int64("messaging.offset", msg.Offset),
		))
	defer span.End()

	err := p.process(ctx, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.log.Error("order processing failed", map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       string(msg.Key),
		"kind":      fault.KindOf(err).String(),
		"err":       err,
	})
	p.dlq.Route(ctx, msg, err)
	return nil
}

func (p *Processor) process(ctx context.Context, msg eventlog.Message) error {
	ev, err := decode(msg.Value)
	if err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.id", ev.OrderID))

	done, err := p.store.HasProcessed(ctx, ev.OrderID)
	if err != nil {
		return fault.New(fault.KindProcessing, "check processed", err)
	}
	if done {
		p.log.Info("order already processed, skipping", map[string]any{"order_id": ev.OrderID})
		return nil
	}

	scheduled, err := p.schedule(ctx, ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(scheduled)
	if err != nil {
		return fault.New(fault.KindProcessing, "encode shipping event", err)
	}

	out := eventlog.Message{Topic: p.topic, Key: []byte(ev.OrderID), Value: payload}
	eventlog.InjectTrace(ctx, &out)
	if err := p.pub.Publish(ctx, out); err != nil {
		if fault.KindOf(err) != fault.KindPublish {
			err = fault.New(fault.KindPublish, "publish shipping scheduled", err)
		}
		return err
	}

	if err := p.store.MarkProcessed(ctx, ev.OrderID); err != nil {
		return fault.New(fault.KindProcessing, "mark processed", err)
	}

	p.log.Info("shipping scheduled", map[string]any{
		"order_id":        ev.OrderID,
		"tracking_number": scheduled.TrackingNumber,
	})
	return nil
}

func decode(value []byte) (orderCreated, error) {
	var ev orderCreated
	if len(value) == 0 {
		return ev, fault.New(fault.KindProcessing, "decode order created", errors.New("empty payload"))
	}
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, fault.New(fault.KindProcessing, "decode order created", err)
	}
	if ev.OrderID == "" {
		return ev, fault.New(fault.KindProcessing, "decode order created", errors.New("missing orderId"))
	}
	return ev, nil
}

// schedule does the shipping work for one order.
func (p *Processor) schedule(ctx context.Context, ev orderCreated) (ScheduledEvent, error) {
	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ScheduledEvent{}, ctx.Err()
		case <-t.C:
		}
	}

	addr, err := p.address.Resolve(ctx, ev.OrderID, ev.CustomerID)
	if err != nil {
		if ctx.Err() != nil {
			return ScheduledEvent{}, ctx.Err()
		}
		return ScheduledEvent{}, fault.New(fault.KindProcessing, "resolve address", fmt.Errorf("order %s: %w", ev.OrderID, err))
	}

	now := p.now().UTC()
	return ScheduledEvent{
		OrderID:               ev.OrderID,
		ShippingAddress:       addr,
		EstimatedDeliveryDate: now.Add(p.delivery),
		TrackingNumber:        p.tracking(),
		ScheduledAt:           now,
	}, nil
}
