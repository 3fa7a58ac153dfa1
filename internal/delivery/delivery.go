// Package delivery implements the engine's outbound collaborators on top of
// the message queue. ChannelPublisher hands approved posts to the channel
// transport and Notifier hands direct messages to the chat transport; both
// encode a JSON envelope and treat a broker acknowledgement as delivered.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/mq"
)

// Envelope kinds.
const (
	KindPublication  = "publication"
	KindNotification = "notification"
)

// Publication is the payload sent to the channel transport.
type Publication struct {
	Kind          string             `json:"kind"`
	Channel       string             `json:"channel"`
	PostID        uint64             `json:"post_id,omitempty"`
	AuthorID      int64              `json:"author_id"`
	Author        string             `json:"author"`
	Tier          domain.Tier        `json:"tier"`
	ContentType   domain.ContentType `json:"content_type"`
	Text          string             `json:"text,omitempty"`
	MediaRef      *string            `json:"media_ref,omitempty"`
	AutoPublished bool               `json:"auto_published"`
	SentAt        time.Time          `json:"sent_at"`
}

// Notification is the payload sent to the chat transport.
type Notification struct {
	Kind      string    `json:"kind"`
	AccountID int64     `json:"account_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// Publisher is the subset of mq.MQ used here.
type Publisher interface {
	Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error)
}

var _ Publisher = (*mq.MQ)(nil)

// ChannelPublisher implements services.Publisher.
type ChannelPublisher struct {
	q       Publisher
	queue   string
	limiter *rate.Limiter
	now     func() time.Time
}

// NewChannelPublisher publishes to queue, at most rps messages per second.
// rps <= 0 disables throttling.
func NewChannelPublisher(q Publisher, queue string, rps float64) *ChannelPublisher {
	return &ChannelPublisher{q: q, queue: queue, limiter: newLimiter(rps), now: time.Now}
}

// Publish encodes p for channel and waits for the broker to accept it. A
// post submitted by a privileged user is published before it is stored, so
// its PostID is zero in the envelope.
func (c *ChannelPublisher) Publish(ctx context.Context, channel string, author *domain.User, p *domain.Post) error {
	if author == nil || p == nil {
		return errors.New("delivery: author and post are required")
	}
	ctx, span := otel.Tracer("delivery/ChannelPublisher").Start(ctx, "Publish",
		trace.WithAttributes(
			attribute.String("channel", channel),
			attribute.Int64("post.id", int64(p.ID)),
		),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("publish throttled: %w", err)
	}
	body, err := json.Marshal(Publication{
		Kind:          KindPublication,
		Channel:       channel,
		PostID:        p.ID,
		AuthorID:      author.AccountID,
		Author:        author.DisplayName(),
		Tier:          author.Tier,
		ContentType:   p.ContentType,
		Text:          p.Text,
		MediaRef:      p.MediaRef,
		AutoPublished: p.ID == 0,
		SentAt:        c.now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = c.q.Publish(ctx, c.queue, body, map[string]string{
		"kind":    KindPublication,
		"channel": channel,
	})
	return err
}

// Notifier implements services.Notifier.
type Notifier struct {
	q     Publisher
	queue string
	now   func() time.Time
}

// NewNotifier publishes direct messages to queue.
func NewNotifier(q Publisher, queue string) *Notifier {
	return &Notifier{q: q, queue: queue, now: time.Now}
}

// Notify enqueues msg for accountID.
func (n *Notifier) Notify(ctx context.Context, accountID int64, msg string) error {
	body, err := json.Marshal(Notification{
		Kind:      KindNotification,
		AccountID: accountID,
		Text:      msg,
		SentAt:    n.now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = n.q.Publish(ctx, n.queue, body, map[string]string{"kind": KindNotification})
	return err
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
