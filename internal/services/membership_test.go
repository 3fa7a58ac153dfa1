package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembers struct {
	mu      sync.Mutex
	members map[int64]bool
	err     error
	calls   int
	channel string
}

func (f *fakeMembers) IsMember(_ context.Context, channel string, accountID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.channel = channel
	if f.err != nil {
		return false, f.err
	}
	return f.members[accountID], nil
}

func TestMembershipGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	members := &fakeMembers{members: map[int64]bool{400: true}}
	gate := &MembershipGate{Checker: members, Channels: e.Channels, Clock: e.Clock, TTL: time.Minute}

	owner := e.reload(t, ownerID)
	ok, err := gate.Allow(ctx, owner)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, members.calls, "the owner is never looked up")

	in := e.user(t, 400)
	ok, err = gate.Allow(ctx, in)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "@postgate_news", members.channel)

	ok, _ = gate.Allow(ctx, in)
	assert.True(t, ok)
	assert.Equal(t, 1, members.calls, "a positive answer is cached")

	e.Clock.Advance(time.Minute)
	_, _ = gate.Allow(ctx, in)
	assert.Equal(t, 2, members.calls, "the cache expires")

	out := e.user(t, 401)
	ok, err = gate.Allow(ctx, out)
	require.NoError(t, err)
	assert.False(t, ok)
	members.members[401] = true
	ok, _ = gate.Allow(ctx, out)
	assert.True(t, ok, "a negative answer is not cached")
}

func TestMembershipGate_LookupFailureDenies(t *testing.T) {
	e := newEnv(t)
	gate := &MembershipGate{
		Checker:  &fakeMembers{err: errors.New("front end down")},
		Channels: e.Channels,
		Clock:    e.Clock,
	}
	ok, err := gate.Allow(context.Background(), e.user(t, 402))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMembershipGate_NoChannelAdmitsEveryone(t *testing.T) {
	e := newEnv(t)
	e.Channels.Default = ""
	members := &fakeMembers{}
	gate := &MembershipGate{Checker: members, Channels: e.Channels, Clock: e.Clock}
	ok, err := gate.Allow(context.Background(), e.user(t, 403))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, members.calls)
}

func TestMembershipGate_FollowsChannelChange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	members := &fakeMembers{members: map[int64]bool{404: true}}
	gate := &MembershipGate{Checker: members, Channels: e.Channels, Clock: e.Clock, TTL: time.Hour}
	u := e.user(t, 404)

	_, _ = gate.Allow(ctx, u)
	_, err := e.Channels.Set(ctx, ownerID, "t.me/another_board")
	require.NoError(t, err)
	_, _ = gate.Allow(ctx, u)
	assert.Equal(t, 2, members.calls, "membership is cached per channel")
	assert.Equal(t, "@another_board", members.channel)
}
