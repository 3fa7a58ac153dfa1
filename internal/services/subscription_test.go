package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/observability"
	"github.com/tbourn/postgate/internal/repo"
)

func TestIsPrivileged(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		u    *domain.User
		want bool
	}{
		{"nil user", nil, false},
		{"free", &domain.User{Tier: domain.TierFree}, false},
		{"vip forever", &domain.User{Tier: domain.TierVIP}, true},
		{"platinum future", &domain.User{Tier: domain.TierPlatinum, ExpiresAt: &future}, true},
		{"extra expires now", &domain.User{Tier: domain.TierExtra, ExpiresAt: &now}, true},
		{"vip lapsed", &domain.User{Tier: domain.TierVIP, ExpiresAt: &past}, false},
		{"unknown tier", &domain.User{Tier: "gold"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsPrivileged(c.u, now))
		})
	}
}

func TestNormalizeIfExpired_DowngradesOnceAndNotifiesOnce(t *testing.T) {
	e := newEnv(t)
	e.Subs.RenewContact = "@sales"
	ctx := context.Background()
	u := e.user(t, 10)

	exp := e.Clock.Now().Add(-time.Second)
	require.NoError(t, repo.SetSubscription(ctx, e.DB, u.AccountID, domain.TierPlatinum, &exp))
	stale := e.reload(t, u.AccountID)
	before := testutil.ToFloat64(observability.SubscriptionsDowngraded)

	var wg sync.WaitGroup
	results := make([]*domain.User, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := *stale
			got, err := e.Subs.NormalizeIfExpired(ctx, &snap)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.NotNil(t, got)
		assert.Equal(t, domain.TierFree, got.Tier)
		assert.Nil(t, got.ExpiresAt)
	}
	notes := e.Notes.to(u.AccountID)
	require.Len(t, notes, 1, "exactly one downgrade notice")
	assert.Contains(t, notes[0], "Platinum")
	assert.Contains(t, notes[0], "@sales")
	assert.Equal(t, before+1, testutil.ToFloat64(observability.SubscriptionsDowngraded))

	stored := e.reload(t, u.AccountID)
	assert.Equal(t, domain.TierFree, stored.Tier)
	assert.Nil(t, stored.ExpiresAt)
}

func TestNormalizeIfExpired_ActiveIsUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 11)
	exp := e.Clock.Now().Add(time.Hour)
	require.NoError(t, repo.SetSubscription(ctx, e.DB, u.AccountID, domain.TierVIP, &exp))
	u = e.reload(t, u.AccountID)

	got, err := e.Subs.NormalizeIfExpired(ctx, u)
	require.NoError(t, err)
	assert.Same(t, u, got)
	assert.Empty(t, e.Notes.to(u.AccountID))
}

func TestNormalizeIfExpired_NotificationFailureStillDowngrades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 12)
	exp := e.Clock.Now()
	require.NoError(t, repo.SetSubscription(ctx, e.DB, u.AccountID, domain.TierVIP, &exp))
	e.Clock.Advance(time.Minute)
	e.Notes.failFor[u.AccountID] = true

	got, err := e.Subs.NormalizeIfExpired(ctx, e.reload(t, u.AccountID))
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, got.Tier)
}

func TestEnter_NormalizesExpiredSubscription(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 13)
	exp := e.Clock.Now().Add(24 * time.Hour)
	require.NoError(t, repo.SetSubscription(ctx, e.DB, u.AccountID, domain.TierExtra, &exp))

	e.Clock.Advance(25 * time.Hour)
	got, err := e.Users.Enter(ctx, u.AccountID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, got.Tier)
	assert.Nil(t, got.ExpiresAt)
	assert.Len(t, e.Notes.to(u.AccountID), 1)
}

func TestGrant_ReplacesAndIsOwnerOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 20)

	_, err := e.Subs.Grant(ctx, adminID, u.AccountID, domain.TierVIP, nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.Subs.Grant(ctx, 999, u.AccountID, domain.TierVIP, nil)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierVIP, intptr(30))
	require.NoError(t, err)
	assert.Equal(t, domain.TierVIP, got.Tier)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(e.Clock.Now().Add(30*24*time.Hour)))

	// A second grant overwrites instead of stacking.
	e.Clock.Advance(24 * time.Hour)
	got, err = e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierPlatinum, intptr(7))
	require.NoError(t, err)
	assert.Equal(t, domain.TierPlatinum, got.Tier)
	assert.True(t, got.ExpiresAt.Equal(e.Clock.Now().Add(7*24*time.Hour)))

	got, err = e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierExtra, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierExtra, got.Tier)
	assert.Nil(t, got.ExpiresAt)

	assert.Len(t, e.Notes.to(u.AccountID), 3)
	logs, err := repo.ListAudit(ctx, e.DB, 10)
	require.NoError(t, err)
	grants := 0
	for _, l := range logs {
		if l.Action == repo.ActionGrantSub {
			grants++
		}
	}
	assert.Equal(t, 3, grants)
}

func TestGrant_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 21)

	_, err := e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierFree, nil)
	assert.ErrorIs(t, err, ErrInvalidTier)
	_, err = e.Subs.Grant(ctx, ownerID, u.AccountID, "gold", nil)
	assert.ErrorIs(t, err, ErrInvalidTier)
	_, err = e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierVIP, intptr(0))
	assert.ErrorIs(t, err, ErrInvalidDuration)
	_, err = e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierVIP, intptr(MaxGrantDays+1))
	assert.ErrorIs(t, err, ErrInvalidDuration)
	_, err = e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierVIP, intptr(200000))
	assert.ErrorIs(t, err, ErrInvalidDuration)
	_, err = e.Subs.Grant(ctx, ownerID, 4040, domain.TierVIP, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	stored := e.reload(t, u.AccountID)
	assert.Equal(t, domain.TierFree, stored.Tier, "rejected grants write nothing")
}

func TestGrant_LongestTimedGrantStaysInFuture(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 23)

	got, err := e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierVIP, intptr(MaxGrantDays))
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(e.Clock.Now().AddDate(0, 0, MaxGrantDays)))
	assert.True(t, IsPrivileged(got, e.Clock.Now()))

	again, err := e.Users.Enter(ctx, u.AccountID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierVIP, again.Tier, "not downgraded on the next request")
}

func TestRevoke(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 22)
	_, err := e.Subs.Grant(ctx, ownerID, u.AccountID, domain.TierVIP, intptr(10))
	require.NoError(t, err)

	_, err = e.Subs.Revoke(ctx, adminID, u.AccountID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := e.Subs.Revoke(ctx, ownerID, u.AccountID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, got.Tier)
	assert.Nil(t, got.ExpiresAt)

	// unconditional: revoking a free user is fine
	_, err = e.Subs.Revoke(ctx, ownerID, u.AccountID)
	require.NoError(t, err)

	_, err = e.Subs.Revoke(ctx, ownerID, 5050)
	assert.ErrorIs(t, err, ErrNotFound)
}
