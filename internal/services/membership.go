package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
)

// MembershipChecker reports whether an account has joined a channel.
type MembershipChecker interface {
	IsMember(ctx context.Context, channel string, accountID int64) (bool, error)
}

// MembershipGate admits only accounts that have joined the destination
// channel. The owner is always admitted. A failed lookup counts as not a
// member. Positive answers are remembered for TTL; negative ones are not,
// so joining takes effect on the next request.
type MembershipGate struct {
	Checker  MembershipChecker
	Channels *ChannelService
	Clock    clock.Clock
	TTL      time.Duration

	mu     sync.Mutex
	admits map[memberKey]time.Time
}

type memberKey struct {
	channel string
	account int64
}

// Allow reports whether u may use the service. The error is non-nil only
// when the destination channel cannot be read.
func (g *MembershipGate) Allow(ctx context.Context, u *domain.User) (bool, error) {
	if u.IsOwner {
		return true, nil
	}
	ctx, span := otel.Tracer("services/MembershipGate").Start(ctx, "Allow",
		trace.WithAttributes(attribute.Int64("user.id", u.AccountID)),
	)
	defer span.End()

	channel, err := g.Channels.Destination(ctx)
	if err != nil {
		return false, err
	}
	if channel == "" {
		// Nothing to join yet.
		return true, nil
	}

	key := memberKey{channel: channel, account: u.AccountID}
	now := g.Clock.Now()
	if g.cached(key, now) {
		return true, nil
	}

	member, err := g.Checker.IsMember(ctx, channel, u.AccountID)
	if err != nil {
		log.Warn().Err(err).Int64("account_id", u.AccountID).Str("channel", channel).Msg("membership lookup failed")
		return false, nil
	}
	span.SetAttributes(attribute.Bool("member", member))
	if member {
		g.remember(key, now)
	}
	return member, nil
}

func (g *MembershipGate) cached(k memberKey, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.admits[k]
	if ok && now.Before(until) {
		return true
	}
	if ok {
		delete(g.admits, k)
	}
	return false
}

func (g *MembershipGate) remember(k memberKey, now time.Time) {
	if g.TTL <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.admits == nil {
		g.admits = make(map[memberKey]time.Time)
	}
	g.admits[k] = now.Add(g.TTL)
}
