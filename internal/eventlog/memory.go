package eventlog

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redstone/orderflow/internal/fault"
)

// Memory is an in-process partitioned log with consumer-group offsets.
// It keeps the ordering and redelivery rules of the Kafka implementation
// and is what tests and broker-less local runs use.
type Memory struct {
	mu         sync.Mutex
	partitions int
	logs       map[string][][]entry
	seq        uint64
	published  map[string][]Message
	offsets    map[groupTopic][]int64
	failures   map[string]error
	wake       chan struct{}
}

type entry struct {
	msg Message
	seq uint64
}

type groupTopic struct {
	group string
	topic string
}

func NewMemory(partitions int) *Memory {
	if partitions <= 0 {
		partitions = 1
	}
	return &Memory{
		partitions: partitions,
		logs:       map[string][][]entry{},
		published:  map[string][]Message{},
		offsets:    map[groupTopic][]int64{},
		failures:   map[string]error{},
		wake:       make(chan struct{}),
	}
}

// FailPublish makes every publish to topic return err until cleared with nil.
func (m *Memory) FailPublish(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, topic)
		return
	}
	m.failures[topic] = err
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fault.New(fault.KindPublish, "publish to "+msg.Topic, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[msg.Topic]; err != nil {
		return fault.New(fault.KindPublish, "publish to "+msg.Topic, err)
	}

	parts := m.partitionsFor(msg.Topic)
	p := m.partitionOf(msg.Key)
	msg.Partition = p
	msg.Offset = int64(len(parts[p]))
	msg.Time = time.Now()
	msg.Headers = cloneHeaders(msg.Headers)
	m.seq++
	parts[p] = append(parts[p], entry{msg: msg, seq: m.seq})
	m.published[msg.Topic] = append(m.published[msg.Topic], msg)

	close(m.wake)
	m.wake = make(chan struct{})
	return nil
}

// Messages returns everything published to topic, in publish order.
func (m *Memory) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.published[topic]))
	copy(out, m.published[topic])
	return out
}

// Committed returns how many messages of topic the group has committed.
func (m *Memory) Committed(topic, groupID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, off := range m.offsets[groupTopic{groupID, topic}] {
		n += off
	}
	return n
}

func (m *Memory) Subscribe(ctx context.Context, topic, groupID string, h Handler) error {
	for {
		msg, wake, ok := m.next(topic, groupID)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
				continue
			}
		}
		if err := h(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		m.commit(topic, groupID, msg)
	}
}

// next returns the oldest uncommitted message across partitions, or the
// channel that closes on the next publish.
func (m *Memory) next(topic, groupID string) (Message, <-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := m.partitionsFor(topic)
	offs := m.offsetsFor(topic, groupID)

	var (
		best  entry
		found bool
	)
	for p := range parts {
		if offs[p] >= int64(len(parts[p])) {
			continue
		}
		cand := parts[p][offs[p]]
		if !found || cand.seq < best.seq {
			best, found = cand, true
		}
	}
	return best.msg, m.wake, found
}

func (m *Memory) commit(topic, groupID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offs := m.offsetsFor(topic, groupID)
	if offs[msg.Partition] == msg.Offset {
		offs[msg.Partition] = msg.Offset + 1
	}
}

func (m *Memory) partitionsFor(topic string) [][]entry {
	parts, ok := m.logs[topic]
	if !ok {
		parts = make([][]entry, m.partitions)
		m.logs[topic] = parts
	}
	return parts
}

func (m *Memory) offsetsFor(topic, groupID string) []int64 {
	k := groupTopic{groupID, topic}
	offs, ok := m.offsets[k]
	if !ok {
		offs = make([]int64, m.partitions)
		m.offsets[k] = offs
	}
	return offs
}

func (m *Memory) partitionOf(key []byte) int {
	if len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(m.partitions))
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
