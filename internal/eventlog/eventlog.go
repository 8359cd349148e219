// Package eventlog is the durable, partitioned channel the services talk
// through. Messages with the same key keep their relative order; delivery
// is at-least-once and an offset is committed only after its handler
// returns nil.
package eventlog

import (
	"context"
	"time"
)

type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Time      time.Time
}

// Header returns the value of a header, or "" when absent.
func (m Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber blocks delivering messages of topic to h, one at a time, until
// ctx is done or h fails. A failed message is left uncommitted and the
// handler error is returned.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, groupID string, h Handler) error
}
