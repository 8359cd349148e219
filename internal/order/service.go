package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/redstone/orderflow/internal/eventlog"
	"github.com/redstone/orderflow/internal/fault"
	"github.com/redstone/orderflow/internal/logger"
)

var tracer = otel.Tracer("github.com/redstone/orderflow/internal/order")

// Service accepts orders and announces them on the OrderCreated topic.
type Service struct {
	repo  Repository
	pub   eventlog.Publisher
	topic string
	log   *logger.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func NewService(repo Repository, pub eventlog.Publisher, topic string, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		pub:   pub,
		topic: topic,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req, stores the order and publishes OrderCreated keyed
// by the new order id. The order only counts as created once the publish
// has succeeded.
func (s *Service) Submit(ctx context.Context, req CreateRequest) (Order, error) {
	ctx, span := tracer.Start(ctx, "order.submit")
	defer span.End()

	if violations := req.Validate(); len(violations) > 0 {
		span.SetStatus(codes.Error, "validation failed")
		return Order{}, fault.Validation("create order", violations)
	}

	items := req.items()
	o := Order{
		OrderID:     s.newID(),
		CustomerID:  req.CustomerID,
		Items:       items,
		TotalAmount: Total(items),
		Status:      StatusCreated,
		CreatedAt:   s.now().UTC(),
	}
	span.SetAttributes(attribute.String("order.id", o.OrderID))

	payload, err := json.Marshal(o)
	if err != nil {
		return Order{}, fault.New(fault.KindPublish, "encode order", err)
	}
	if err := s.repo.Save(ctx, o); err != nil {
		span.RecordError(err)
		return Order{}, fmt.Errorf("failed to save order %s: %w", o.OrderID, err)
	}

	msg := eventlog.Message{Topic: s.topic, Key: []byte(o.OrderID), Value: payload}
	eventlog.InjectTrace(ctx, &msg)
	if err := s.pub.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		if derr := s.repo.Delete(context.WithoutCancel(ctx), o.OrderID); derr != nil {
			s.log.Error("failed to discard unpublished order", map[string]any{"order_id": o.OrderID, "err": derr})
		}
		if fault.KindOf(err) != fault.KindPublish {
			err = fault.New(fault.KindPublish, "publish order created", err)
		}
		return Order{}, err
	}

	s.log.Info("order created", map[string]any{
		"order_id":     o.OrderID,
		"customer_id":  o.CustomerID,
		"total_amount": o.TotalAmount,
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.Get(ctx, id)
}
