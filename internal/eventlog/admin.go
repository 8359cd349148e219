package eventlog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/redstone/orderflow/internal/fault"
)

// DefaultRetention matches how long shipping keeps idempotency records.
const DefaultRetention = 72 * time.Hour

// Dial checks that at least one broker accepts a connection within timeout.
func Dial(ctx context.Context, brokers []string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := &kafka.Dialer{Timeout: timeout}
	var errs []error
	for _, b := range brokers {
		conn, err := d.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b, err))
			continue
		}
		_ = conn.Close()
		return nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no brokers configured"))
	}
	return fault.New(fault.KindTransportConnect, "dial brokers", errors.Join(errs...))
}

// Ping is Dial with a short timeout, used by health checks.
func Ping(ctx context.Context, brokers []string) error {
	return Dial(ctx, brokers, 3*time.Second)
}

type TopicSpec struct {
	Name       string
	Partitions int
	Retention  time.Duration
}

// Specs describes single-partition topics sharing one retention.
func Specs(retention time.Duration, names ...string) []TopicSpec {
	out := make([]TopicSpec, 0, len(names))
	for _, n := range names {
		out = append(out, TopicSpec{Name: n, Retention: retention})
	}
	return out
}

// EnsureTopics creates missing topics through the cluster controller.
// Existing topics are left untouched.
func EnsureTopics(ctx context.Context, brokers []string, specs []TopicSpec) error {
	if len(brokers) == 0 {
		return fault.New(fault.KindTransportConnect, "ensure topics", errors.New("no brokers configured"))
	}
	d := &kafka.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fault.New(fault.KindTransportConnect, "ensure topics", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find controller: %w", err)
	}
	ctrl, err := d.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fault.New(fault.KindTransportConnect, "dial controller", err)
	}
	defer ctrl.Close()

	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, s := range specs {
		configs = append(configs, topicConfig(s))
	}
	if err := ctrl.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	return nil
}

func topicConfig(s TopicSpec) kafka.TopicConfig {
	partitions := s.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	retention := s.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return kafka.TopicConfig{
		Topic:             s.Name,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
		ConfigEntries: []kafka.ConfigEntry{
			{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(retention.Milliseconds(), 10)},
		},
	}
}
