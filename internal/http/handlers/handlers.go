// Package handlers provides the HTTP handlers for the postgate API.
//
// Handlers are transport-thin: they bind and validate input, resolve the
// caller placed in the context by middleware.Identify, delegate to the
// services and map service sentinels to stable error codes (see errors.go).
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/services"
)

// PostService is the post lifecycle engine.
type PostService interface {
	SubmitOnce(ctx context.Context, accountID int64, key string, c services.Content) (p *domain.Post, replayed bool, err error)
	NextPending(ctx context.Context) (*domain.Post, error)
	PendingCount(ctx context.Context) (int64, error)
	Get(ctx context.Context, id uint64) (*domain.Post, error)
	Approve(ctx context.Context, postID uint64, moderatorID int64) (*domain.Post, error)
	Reject(ctx context.Context, postID uint64, moderatorID int64, reason string) (*domain.Post, error)
}

// UserService covers lookups and the owner's role management.
type UserService interface {
	Lookup(ctx context.Context, q string) (*domain.User, error)
	GrantAdmin(ctx context.Context, actorID, targetID int64) error
	RevokeAdmin(ctx context.Context, actorID, targetID int64) error
	SetTrust(ctx context.Context, actorID, targetID int64, trust domain.Trust) error
	ListPage(ctx context.Context, actorID int64, page int) (*services.UsersPage, error)
	ListModerators(ctx context.Context, actorID int64) ([]domain.User, error)
}

// SubscriptionService grants and revokes paid tiers.
type SubscriptionService interface {
	Grant(ctx context.Context, actorID, targetID int64, tier domain.Tier, days *int) (*domain.User, error)
	Revoke(ctx context.Context, actorID, targetID int64) (*domain.User, error)
}

// ChannelService owns the publication destination.
type ChannelService interface {
	Destination(ctx context.Context) (string, error)
	Set(ctx context.Context, actorID int64, raw string) (string, error)
}

// StatsService computes the admin dashboard.
type StatsService interface {
	Collect(ctx context.Context) (*services.Stats, error)
}

// IdempotencyStore finds the post an earlier submission with the same
// (user, key) produced.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID int64, key string) (postID uint64, found bool, err error)
}

// QuotaView reports a user's remaining submissions today.
type QuotaView interface {
	Remaining(u *domain.User) int
}

// Deps bundles the services the handlers depend on.
type Deps struct {
	Posts         PostService
	Users         UserService
	Subscriptions SubscriptionService
	Channels      ChannelService
	Stats         StatsService
	Idempotency   IdempotencyStore
	Quota         QuotaView
	Clock         clock.Clock
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	posts PostService
	users UserService
	subs  SubscriptionService
	chans ChannelService
	stats StatsService
	idem  IdempotencyStore
	quota QuotaView
	clock clock.Clock
}

// New builds Handlers. Idempotency may be nil, which disables replay; a nil
// Clock means the system clock in UTC.
func New(d Deps) *Handlers {
	clk := d.Clock
	if clk == nil {
		clk = clock.NewSystem(time.UTC)
	}
	return &Handlers{
		posts: d.Posts,
		users: d.Users,
		subs:  d.Subscriptions,
		chans: d.Channels,
		stats: d.Stats,
		idem:  d.Idempotency,
		quota: d.Quota,
		clock: clk,
	}
}
