package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/postgate/internal/domain"
)

func TestCountUsersByTier(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := int64(1); i <= 5; i++ {
		_, _ = TouchUser(ctx, db, i, nil, now)
	}
	_ = SetSubscription(ctx, db, 1, domain.TierVIP, nil)
	_ = SetSubscription(ctx, db, 2, domain.TierVIP, nil)
	_ = SetSubscription(ctx, db, 3, domain.TierExtra, nil)

	got, err := CountUsersByTier(ctx, db)
	if err != nil {
		t.Fatalf("CountUsersByTier: %v", err)
	}
	if got[domain.TierVIP] != 2 || got[domain.TierExtra] != 1 || got[domain.TierFree] != 2 {
		t.Fatalf("by tier = %v", got)
	}
	if _, ok := got[domain.TierPlatinum]; ok {
		t.Fatalf("empty tier should be absent: %v", got)
	}
}

func TestCountUsersByTier_ErrorNoTable(t *testing.T) {
	db := newTestDB(t, nil)
	if _, err := CountUsersByTier(context.Background(), db); err == nil {
		t.Fatalf("expected error due to missing users table")
	}
}

func TestPostCounts_AndLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

	if at, err := LatestPostAt(ctx, db); err != nil || at != nil {
		t.Fatalf("LatestPostAt on empty = %v, %v", at, err)
	}

	recent := seedPost(t, db, 1, now.Add(-2*time.Hour))
	week := seedPost(t, db, 1, now.Add(-3*24*time.Hour))
	month := seedPost(t, db, 1, now.Add(-20*24*time.Hour))
	ancient := seedPost(t, db, 1, now.Add(-90*24*time.Hour))
	rejected := seedPost(t, db, 1, now.Add(-time.Hour))
	pending := seedPost(t, db, 1, now.Add(-30*time.Minute))

	for _, p := range []*domain.Post{recent, week, month, ancient} {
		_, _ = ResolvePost(ctx, db, p.ID, Resolution{Status: domain.StatusApproved, ModeratorID: 1, At: now})
	}
	_, _ = ResolvePost(ctx, db, rejected.ID, Resolution{Status: domain.StatusRejected, ModeratorID: 1, At: now})

	checks := []struct {
		since time.Time
		want  int64
	}{
		{now.Add(-24 * time.Hour), 1},
		{now.Add(-7 * 24 * time.Hour), 2},
		{now.Add(-30 * 24 * time.Hour), 3},
	}
	for _, c := range checks {
		n, err := CountApprovedSince(ctx, db, c.since)
		if err != nil || n != c.want {
			t.Fatalf("CountApprovedSince(%v) = %d, %v; want %d", c.since, n, err, c.want)
		}
	}

	if n, _ := CountPostsByStatus(ctx, db, domain.StatusRejected); n != 1 {
		t.Fatalf("rejected = %d", n)
	}
	if n, _ := CountPostsByStatus(ctx, db, domain.StatusPending); n != 1 {
		t.Fatalf("pending = %d", n)
	}

	at, err := LatestPostAt(ctx, db)
	if err != nil || at == nil || !at.Equal(pending.CreatedAt) {
		t.Fatalf("LatestPostAt = %v, %v; want %v", at, err, pending.CreatedAt)
	}
}
