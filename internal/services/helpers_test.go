package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/repo"
)

// ---------- test helpers ----------

const (
	ownerID = int64(1)
	adminID = int64(2)
)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps concurrent tests deterministic on SQLite.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

type published struct {
	Channel  string
	AuthorID int64
	PostID   uint64
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
	delay time.Duration
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, author *domain.User, p *domain.Post) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, published{Channel: channel, AuthorID: author.AccountID, PostID: p.ID})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sentNote struct {
	To  int64
	Msg string
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentNote
	failFor map[int64]bool
	failAll bool
}

func (f *fakeNotifier) Notify(_ context.Context, accountID int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failFor[accountID] {
		return errors.New("recipient unreachable")
	}
	f.sent = append(f.sent, sentNote{To: accountID, Msg: msg})
	return nil
}

func (f *fakeNotifier) to(accountID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.sent {
		if n.To == accountID {
			out = append(out, n.Msg)
		}
	}
	return out
}

func (f *fakeNotifier) setFailAll(v bool) {
	f.mu.Lock()
	f.failAll = v
	f.mu.Unlock()
}

// env wires every service over one database, a fake clock and fake
// collaborators. The owner (1) and an admin (2) exist from the start.
type env struct {
	DB       *gorm.DB
	Clock    *clock.Fake
	Pub      *fakePublisher
	Notes    *fakeNotifier
	Subs     *SubscriptionService
	Users    *UserService
	Posts    *PostService
	Idem     *IdempotencyService
	Channels *ChannelService
	Remind   *ReminderService
	Stats    *StatsService
}

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *env {
	t.Helper()
	db := newSvcDB(t)
	clk := clock.NewFake(testStart, time.UTC)
	pub := &fakePublisher{}
	notes := &fakeNotifier{failFor: map[int64]bool{}}

	subs := &SubscriptionService{DB: db, Clock: clk, Notifier: notes, NotifyTimeout: time.Second}
	channels := &ChannelService{DB: db, Clock: clk, Default: "t.me/postgate_news"}
	idem := &IdempotencyService{DB: db, Clock: clk, TTL: 24 * time.Hour}
	e := &env{
		DB:       db,
		Clock:    clk,
		Pub:      pub,
		Notes:    notes,
		Subs:     subs,
		Channels: channels,
		Idem:     idem,
		Users:    &UserService{DB: db, Clock: clk, Subs: subs, Notifier: notes, NotifyTimeout: time.Second},
		Posts: &PostService{
			DB:             db,
			Clock:          clk,
			Quota:          &QuotaTracker{Limit: 30, Clock: clk},
			Channels:       channels,
			Publisher:      pub,
			Notifier:       notes,
			PublishTimeout: time.Second,
			NotifyTimeout:  time.Second,
			Idempotency:    idem,
		},
		Remind: &ReminderService{
			DB:            db,
			Clock:         clk,
			Notifier:      notes,
			UserAfter:     24 * time.Hour,
			AdminAfter:    12 * time.Hour,
			Interval:      time.Hour,
			NotifyTimeout: time.Second,
		},
		Stats: &StatsService{DB: db, Clock: clk},
	}

	ctx := context.Background()
	require.NoError(t, e.Users.EnsureOwner(ctx, ownerID))
	_, err := e.Users.Enter(ctx, adminID, nil)
	require.NoError(t, err)
	require.NoError(t, e.Users.GrantAdmin(ctx, ownerID, adminID))
	e.Notes.sent = nil
	return e
}

func (e *env) user(t *testing.T, id int64) *domain.User {
	t.Helper()
	u, err := e.Users.Enter(context.Background(), id, nil)
	require.NoError(t, err)
	return u
}

func (e *env) reload(t *testing.T, id int64) *domain.User {
	t.Helper()
	u, err := repo.GetUser(context.Background(), e.DB, id)
	require.NoError(t, err)
	return u
}

func (e *env) countPosts(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.DB.Model(&domain.Post{}).Count(&n).Error)
	return n
}

func textContent(s string) Content {
	return Content{Type: domain.ContentText, Text: s}
}

func intptr(v int) *int { return &v }
