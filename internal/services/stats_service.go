package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/repo"
)

// Stats is the admin dashboard snapshot.
type Stats struct {
	Users         int64      `json:"users"`
	VIP           int64      `json:"vip"`
	Platinum      int64      `json:"platinum"`
	Extra         int64      `json:"extra"`
	ApprovedDay   int64      `json:"approved_1d"`
	ApprovedWeek  int64      `json:"approved_7d"`
	ApprovedMonth int64      `json:"approved_30d"`
	Rejected      int64      `json:"rejected"`
	Pending       int64      `json:"pending"`
	LastPostAt    *time.Time `json:"last_post_at,omitempty"`
}

// StatsService computes Stats.
type StatsService struct {
	DB    *gorm.DB
	Clock clock.Clock
}

// Collect gathers the counters. Tier counts reflect stored tiers; lapsed
// subscriptions not yet normalized still count under their tier.
func (s *StatsService) Collect(ctx context.Context) (*Stats, error) {
	ctx, span := otel.Tracer("services/StatsService").Start(ctx, "Collect")
	defer span.End()

	var (
		st  Stats
		err error
	)
	byTier, err := repo.CountUsersByTier(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	for _, n := range byTier {
		st.Users += n
	}
	st.VIP = byTier[domain.TierVIP]
	st.Platinum = byTier[domain.TierPlatinum]
	st.Extra = byTier[domain.TierExtra]

	now := s.Clock.Now()
	windows := []struct {
		days int
		dst  *int64
	}{
		{1, &st.ApprovedDay},
		{7, &st.ApprovedWeek},
		{30, &st.ApprovedMonth},
	}
	for _, w := range windows {
		if *w.dst, err = repo.CountApprovedSince(ctx, s.DB, now.AddDate(0, 0, -w.days)); err != nil {
			return nil, err
		}
	}
	if st.Rejected, err = repo.CountPostsByStatus(ctx, s.DB, domain.StatusRejected); err != nil {
		return nil, err
	}
	if st.Pending, err = repo.CountPostsByStatus(ctx, s.DB, domain.StatusPending); err != nil {
		return nil, err
	}
	if st.LastPostAt, err = repo.LatestPostAt(ctx, s.DB); err != nil {
		return nil, err
	}
	return &st, nil
}
