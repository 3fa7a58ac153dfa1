package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/postgate/internal/domain"
)

// Publisher delivers an approved post to the broadcast channel. A nil error
// means the content is public; anything else keeps the post out of approved.
type Publisher interface {
	Publish(ctx context.Context, channel string, author *domain.User, p *domain.Post) error
}

// Notifier sends a short direct message to one account.
type Notifier interface {
	Notify(ctx context.Context, accountID int64, msg string) error
}

// notifyOne sends msg to accountID bounded by timeout. Failures are logged
// and returned wrapped in ErrNotificationFailed; callers decide whether the
// outcome gates anything.
func notifyOne(ctx context.Context, n Notifier, timeout time.Duration, accountID int64, kind, msg string) error {
	if n == nil {
		return nil
	}
	nctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := n.Notify(nctx, accountID, msg); err != nil {
		log.Warn().Err(err).Int64("account_id", accountID).Str("kind", kind).Msg("notification failed")
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	return nil
}

// notifyMany fans msg out to every recipient and reports how many were
// reached. One failing recipient never stops the rest.
func notifyMany(ctx context.Context, n Notifier, timeout time.Duration, recipients []domain.User, kind, msg string) int {
	sent := 0
	for i := range recipients {
		if notifyOne(ctx, n, timeout, recipients[i].AccountID, kind, msg) == nil {
			sent++
		}
	}
	return sent
}

// keyedMutex serializes work per key. Entries are dropped once no goroutine
// holds or waits for them.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[uint64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key uint64) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[uint64]*keyedEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
