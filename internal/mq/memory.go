package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// retryDelay spaces redeliveries of a failed message.
const retryDelay = 50 * time.Millisecond

// DefaultMemoryBacklog is the per-queue cap used by NewMemory.
const DefaultMemoryBacklog = 1000

// ErrClosed is returned by a Memory backend after Close.
var ErrClosed = errors.New("mq: backend closed")

// Memory is an in-process Backend. Every published message is logged and
// kept per queue; subscribers receive the backlog first and then live
// messages. It is the backend used when no broker URL is configured.
//
// Each queue holds at most limit undelivered messages. Past that the oldest
// one is dropped with a warning, so Publish always succeeds while nothing
// consumes the queue.
type Memory struct {
	mu      sync.Mutex
	queues  map[string][]Message
	wake    map[string]chan struct{}
	limit   int
	dropped map[string]int
	closed  bool
}

// NewMemory returns an empty Memory backend capped at DefaultMemoryBacklog.
func NewMemory() *Memory {
	return NewMemoryWithLimit(DefaultMemoryBacklog)
}

// NewMemoryWithLimit returns an empty Memory backend keeping at most limit
// messages per queue. limit <= 0 means DefaultMemoryBacklog.
func NewMemoryWithLimit(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultMemoryBacklog
	}
	return &Memory{
		queues:  map[string][]Message{},
		wake:    map[string]chan struct{}{},
		limit:   limit,
		dropped: map[string]int{},
	}
}

// Publish appends the message to queue.
func (m *Memory) Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(queue) == "" {
		return "", errors.New("mq: queue is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := Message{ID: uuid.NewString(), Data: append([]byte(nil), data...), Attributes: attrs}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	q := append(m.queues[queue], msg)
	if over := len(q) - m.limit; over > 0 {
		for _, old := range q[:over] {
			log.Warn().Str("queue", queue).Str("message_id", old.ID).Int("limit", m.limit).Msg("mq backlog full, dropping oldest message")
		}
		m.dropped[queue] += over
		q = append([]Message(nil), q[over:]...)
	}
	m.queues[queue] = q
	if ch, ok := m.wake[queue]; ok {
		close(ch)
		delete(m.wake, queue)
	}
	log.Debug().Str("queue", queue).Str("message_id", msg.ID).Int("bytes", len(data)).Msg("mq publish")
	return msg.ID, nil
}

// Subscribe drains queue into handler until ctx is done. A message whose
// handler fails is put back at the head and retried.
func (m *Memory) Subscribe(ctx context.Context, queue string, handler Handler) error {
	for {
		msg, wait, err := m.next(queue)
		if err != nil {
			return err
		}
		if wait != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
			continue
		}
		if err := handler(ctx, msg); err != nil {
			log.Warn().Err(err).Str("queue", queue).Str("message_id", msg.ID).Msg("mq handler failed, requeued")
			m.requeue(queue, msg)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
}

func (m *Memory) next(queue string) (Message, <-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Message{}, nil, ErrClosed
	}
	if q := m.queues[queue]; len(q) > 0 {
		msg := q[0]
		m.queues[queue] = q[1:]
		return msg, nil, nil
	}
	ch, ok := m.wake[queue]
	if !ok {
		ch = make(chan struct{})
		m.wake[queue] = ch
	}
	return Message{}, ch, nil
}

func (m *Memory) requeue(queue string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = append([]Message{msg}, m.queues[queue]...)
}

// Pending returns a copy of the undelivered messages on queue.
func (m *Memory) Pending(queue string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.queues[queue]...)
}

// Dropped reports how many messages queue has lost to the backlog cap.
func (m *Memory) Dropped(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[queue]
}

// Close wakes all subscribers, which then return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for q, ch := range m.wake {
		close(ch)
		delete(m.wake, q)
	}
	return nil
}
