// Package mq carries outbound traffic (channel publications and direct
// notifications) to whatever transport actually talks to the messaging
// platform. The engine only ever sees the Backend interface; RabbitMQ is the
// production backend and Memory serves local runs and tests.
package mq

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/postgate/internal/config"
)

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Returning an error asks the backend to
// redeliver it.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker operations used by the app.
type Backend interface {
	Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, queue string, handler Handler) error
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish sends a message to the named queue and returns its id.
func (m *MQ) Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, queue, data, attrs)
}

// Subscribe consumes the named queue until ctx is done.
func (m *MQ) Subscribe(ctx context.Context, queue string, handler Handler) error {
	return m.backend.Subscribe(ctx, queue, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}

// Open returns the RabbitMQ backend when cfg.URL is set and an in-process
// Memory backend otherwise.
func Open(cfg config.RabbitMQConfig) (Backend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		log.Warn().Msg("RABBITMQ_URL not set, outbound messages stay in process")
		return NewMemoryWithLimit(cfg.MemoryBacklog), nil
	}
	return NewRabbitMQClient(cfg)
}
