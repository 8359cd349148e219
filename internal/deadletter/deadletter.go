// Package deadletter moves messages that cannot be processed onto a
// dead-letter topic so the consumer can commit past them.
package deadletter

import (
	"context"
	"strconv"
	"time"

	"github.com/redstone/orderflow/internal/eventlog"
	"github.com/redstone/orderflow/internal/fault"
	"github.com/redstone/orderflow/internal/logger"
)

const (
	HeaderOriginalTopic     = "original-topic"
	HeaderErrorMessage      = "error-message"
	HeaderErrorKind         = "error-kind"
	HeaderOriginalPartition = "original-partition"
	HeaderOriginalOffset    = "original-offset"
	HeaderFailedAt          = "failed-at"
)

type Router struct {
	pub   eventlog.Publisher
	topic string
	log   *logger.Logger
	now   func() time.Time
}

func NewRouter(pub eventlog.Publisher, topic string, log *logger.Logger) *Router {
	return &Router{pub: pub, topic: topic, log: log, now: time.Now}
}

// Envelope builds the dead-letter message for msg. The key and payload are
// carried over unchanged.
func (r *Router) Envelope(msg eventlog.Message, cause error) eventlog.Message {
	headers := map[string]string{
		HeaderOriginalTopic:     msg.Topic,
		HeaderErrorMessage:      errorMessage(cause),
		HeaderErrorKind:         fault.KindOf(cause).String(),
		HeaderOriginalPartition: strconv.Itoa(msg.Partition),
		HeaderOriginalOffset:    strconv.FormatInt(msg.Offset, 10),
		HeaderFailedAt:          r.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range msg.Headers {
		if _, taken := headers[k]; !taken {
			headers[k] = v
		}
	}
	return eventlog.Message{
		Topic:   r.topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

// Route publishes the envelope. A failed publish is logged and swallowed:
// the consumer must keep going either way.
func (r *Router) Route(ctx context.Context, msg eventlog.Message, cause error) {
	env := r.Envelope(msg, cause)
	if err := r.pub.Publish(ctx, env); err != nil {
		err = fault.New(fault.KindDeadLetterPublish, "route to "+r.topic, err)
		r.log.Critical("dead-letter publish failed, message dropped", map[string]any{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"key":       string(msg.Key),
			"cause":     errorMessage(cause),
			"err":       err,
		})
		return
	}
	r.log.Warn("message routed to dead-letter topic", map[string]any{
		"topic":     msg.Topic,
		"dlq_topic": r.topic,
		"key":       string(msg.Key),
		"cause":     errorMessage(cause),
	})
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
