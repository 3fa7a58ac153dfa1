// Package services – SubscriptionService
//
// This file implements the subscription engine: the pure privilege check,
// lazy expiry normalization and the owner-only grant/revoke operations.
// There is no timer per user; a lapsed tier is reset the next time the user
// is read through NormalizeIfExpired.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/observability"
	"github.com/tbourn/postgate/internal/repo"
)

// IsPrivileged reports whether u holds a paid tier that has not lapsed at
// now. An expiry equal to now still counts as active.
func IsPrivileged(u *domain.User, now time.Time) bool {
	if u == nil || !u.Tier.Paid() {
		return false
	}
	return u.ExpiresAt == nil || !now.After(*u.ExpiresAt)
}

// isStale reports whether u carries a paid tier whose expiry has passed.
func isStale(u *domain.User, now time.Time) bool {
	return u.Tier != domain.TierFree && u.ExpiresAt != nil && now.After(*u.ExpiresAt)
}

// SubscriptionService grants, revokes and lazily expires paid tiers.
type SubscriptionService struct {
	DB            *gorm.DB
	Clock         clock.Clock
	Notifier      Notifier
	NotifyTimeout time.Duration

	// RenewContact is appended to the expiry notice when set.
	RenewContact string
}

// NormalizeIfExpired resets a lapsed subscription to (free, nil) and returns
// the fresh snapshot. Non-stale users are returned unchanged without I/O.
//
// The reset is a conditional UPDATE keyed on the stale state, so when several
// requests race only the one that applies it sends the downgrade notice.
func (s *SubscriptionService) NormalizeIfExpired(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u == nil || !isStale(u, s.Clock.Now()) {
		return u, nil
	}
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "NormalizeIfExpired",
		trace.WithAttributes(attribute.Int64("user.id", u.AccountID), attribute.String("tier", string(u.Tier))),
	)
	defer span.End()

	applied, err := repo.DowngradeExpired(ctx, s.DB, u.AccountID, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	if applied {
		observability.SubscriptionsDowngraded.Inc()
		msg := "Your " + u.Tier.Label() + " subscription has expired."
		if s.RenewContact != "" {
			msg += " To renew, contact " + s.RenewContact + "."
		}
		_ = notifyOne(ctx, s.Notifier, s.NotifyTimeout, u.AccountID, "subscription_expired", msg)
	}
	fresh, err := repo.GetUser(ctx, s.DB, u.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fresh, nil
}

// MaxGrantDays bounds a timed grant. Longer grants should use forever.
const MaxGrantDays = 36500

// Grant sets targetID's tier. days == nil grants it forever; otherwise the
// expiry is now + days. Any earlier grant is replaced, never extended.
func (s *SubscriptionService) Grant(ctx context.Context, actorID, targetID int64, tier domain.Tier, days *int) (*domain.User, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Grant",
		trace.WithAttributes(
			attribute.Int64("actor.id", actorID),
			attribute.Int64("user.id", targetID),
			attribute.String("tier", string(tier)),
		),
	)
	defer span.End()

	if !tier.Paid() {
		return nil, ErrInvalidTier
	}
	if days != nil && (*days <= 0 || *days > MaxGrantDays) {
		return nil, ErrInvalidDuration
	}
	if _, err := requireOwner(ctx, s.DB, actorID); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	var expiresAt *time.Time
	extra := string(tier) + ":forever"
	if days != nil {
		exp := now.AddDate(0, 0, *days)
		expiresAt = &exp
		extra = string(tier) + ":" + strconv.Itoa(*days) + "d"
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetSubscription(ctx, tx, targetID, tier, expiresAt); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, tx, actorID, repo.ActionGrantSub, &targetID, extra, now)
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	msg := "You now have " + tier.Label() + " forever."
	if expiresAt != nil {
		msg = fmt.Sprintf("You now have %s until %s.", tier.Label(), expiresAt.Format("2006-01-02 15:04 MST"))
	}
	_ = notifyOne(ctx, s.Notifier, s.NotifyTimeout, targetID, "subscription_granted", msg)

	return s.load(ctx, targetID)
}

// Revoke resets targetID to (free, nil) regardless of the current tier.
func (s *SubscriptionService) Revoke(ctx context.Context, actorID, targetID int64) (*domain.User, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Revoke",
		trace.WithAttributes(attribute.Int64("actor.id", actorID), attribute.Int64("user.id", targetID)),
	)
	defer span.End()

	if _, err := requireOwner(ctx, s.DB, actorID); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetSubscription(ctx, tx, targetID, domain.TierFree, nil); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, tx, actorID, repo.ActionRevokeSub, &targetID, "", now)
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = notifyOne(ctx, s.Notifier, s.NotifyTimeout, targetID, "subscription_revoked", "Your subscription has been cancelled.")
	return s.load(ctx, targetID)
}

func (s *SubscriptionService) load(ctx context.Context, id int64) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// requireOwner loads actorID and fails with ErrForbidden unless it is the owner.
func requireOwner(ctx context.Context, db *gorm.DB, actorID int64) (*domain.User, error) {
	u, err := repo.GetUser(ctx, db, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if !u.IsOwner {
		return nil, ErrForbidden
	}
	return u, nil
}

// requireModerator is requireOwner for the admin role.
func requireModerator(ctx context.Context, db *gorm.DB, actorID int64) (*domain.User, error) {
	u, err := repo.GetUser(ctx, db, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if !u.IsModerator() {
		return nil, ErrForbidden
	}
	return u, nil
}
