package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/postgate/internal/repo"
)

func waiting(msgs []string) []string {
	var out []string
	for _, m := range msgs {
		if strings.Contains(m, "waiting") {
			out = append(out, m)
		}
	}
	return out
}

func TestSweep_UserReminderIsOneShot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 200)
	p, err := e.Posts.Submit(ctx, u.AccountID, textContent("x"))
	require.NoError(t, err)

	e.Clock.Advance(23 * time.Hour)
	rep, err := e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.UserDue, "not old enough yet")

	e.Clock.Advance(time.Hour) // exactly at the threshold
	rep, err = e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.UserDue)
	assert.Equal(t, 1, rep.UserNotified)
	msgs := waiting(e.Notes.to(u.AccountID))
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "#")

	stored, _ := e.Posts.Get(ctx, p.ID)
	assert.True(t, stored.UserReminded)

	e.Clock.Advance(48 * time.Hour)
	rep, err = e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.UserDue)
	assert.Len(t, waiting(e.Notes.to(u.AccountID)), 1)
}

func TestSweep_UserReminderRetriesAfterFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 201)
	_, err := e.Posts.Submit(ctx, u.AccountID, textContent("x"))
	require.NoError(t, err)
	e.Clock.Advance(25 * time.Hour)

	e.Notes.failFor[u.AccountID] = true
	rep, err := e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.UserFailed)
	assert.Zero(t, rep.UserNotified)

	delete(e.Notes.failFor, u.AccountID)
	rep, err = e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.UserNotified)
	assert.Len(t, waiting(e.Notes.to(u.AccountID)), 1)
}

func TestSweep_ResolvedPostsAreIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, 202)
	p, _ := e.Posts.Submit(ctx, u.AccountID, textContent("x"))
	_, err := e.Posts.Reject(ctx, p.ID, adminID, "")
	require.NoError(t, err)

	e.Clock.Advance(72 * time.Hour)
	rep, err := e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.UserDue)
	assert.Zero(t, rep.AdminDue)
}

func TestSweep_AdminAlertAggregatesAndMarks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, id := range []int64{210, 211, 212} {
		_, err := e.Posts.Submit(ctx, e.user(t, id).AccountID, textContent("x"))
		require.NoError(t, err)
	}
	e.Clock.Advance(13 * time.Hour)

	rep, err := e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.AdminDue)
	assert.Equal(t, 2, rep.AdminReached)
	assert.Equal(t, int64(3), rep.AdminMarked)
	assert.Zero(t, rep.UserDue)

	for _, id := range []int64{ownerID, adminID} {
		msgs := waiting(e.Notes.to(id))
		require.Len(t, msgs, 1, "one aggregate alert per moderator")
		assert.Contains(t, msgs[0], "3 post(s)")
		assert.Contains(t, msgs[0], "12h")
	}

	// Covered posts do not trigger a second alert.
	e.Clock.Advance(13 * time.Hour)
	rep, err = e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.AdminDue)
	assert.Equal(t, 3, rep.UserDue, "user threshold reached independently")

	// A newer post starts a new batch.
	_, err = e.Posts.Submit(ctx, e.user(t, 213).AccountID, textContent("late"))
	require.NoError(t, err)
	e.Clock.Advance(12 * time.Hour)
	rep, err = e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AdminDue)
	assert.Len(t, waiting(e.Notes.to(ownerID)), 2)
}

func TestSweep_AdminBatchStaysEligibleWhenNobodyHeard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.Posts.Submit(ctx, e.user(t, 220).AccountID, textContent("x"))
	require.NoError(t, err)
	e.Clock.Advance(13 * time.Hour)

	e.Notes.setFailAll(true)
	rep, err := e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AdminDue)
	assert.Zero(t, rep.AdminReached)
	assert.Zero(t, rep.AdminMarked)

	e.Notes.setFailAll(false)
	rep, err = e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AdminDue)
	assert.Equal(t, int64(1), rep.AdminMarked)
}

func TestSweep_PartialModeratorDeliveryStillMarks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.Posts.Submit(ctx, e.user(t, 221).AccountID, textContent("x"))
	require.NoError(t, err)
	e.Clock.Advance(13 * time.Hour)

	e.Notes.failFor[adminID] = true
	rep, err := e.Remind.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AdminReached)
	assert.Equal(t, int64(1), rep.AdminMarked)
}

func TestSweep_QueryErrorsAreReported(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.DB.Migrator().DropTable("posts"))

	_, err := e.Remind.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user sweep")
	assert.Contains(t, err.Error(), "admin sweep")
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	e := newEnv(t)
	e.Remind.Interval = 10 * time.Millisecond
	u := e.user(t, 230)
	_, err := e.Posts.Submit(context.Background(), u.AccountID, textContent("x"))
	require.NoError(t, err)
	e.Clock.Advance(25 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Remind.Run(ctx) }()

	require.Eventually(t, func() bool {
		p, err := repo.OldestPending(context.Background(), e.DB)
		return err == nil && p.UserReminded && p.AdminReminded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Len(t, waiting(e.Notes.to(u.AccountID)), 1, "repeated sweeps do not repeat the nudge")
}

func TestHumanHours(t *testing.T) {
	assert.Equal(t, "12h", humanHours(12*time.Hour))
	assert.Equal(t, "36h", humanHours(36*time.Hour))
	assert.Equal(t, "1h30m0s", humanHours(90*time.Minute))
}
