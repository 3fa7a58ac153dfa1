package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/observability"
	"github.com/tbourn/postgate/internal/repo"
)

// DefaultDailyLimit is the per-day submission cap for free users.
const DefaultDailyLimit = 30

// QuotaTracker enforces the daily submission cap for non-privileged users.
// The day boundary is local midnight in the clock's location.
type QuotaTracker struct {
	Limit int
	Clock clock.Clock
}

func (q *QuotaTracker) limit() int {
	if q.Limit <= 0 {
		return DefaultDailyLimit
	}
	return q.Limit
}

// CheckAndConsume takes one unit of today's allowance for u inside tx.
// The reset, the comparison and the increment are a single UPDATE, so two
// submissions racing at the boundary cannot both pass. It returns
// ErrQuotaExceeded without writing anything when the cap is reached; if tx
// later rolls back, the unit is returned with it.
func (q *QuotaTracker) CheckAndConsume(ctx context.Context, tx *gorm.DB, u *domain.User) error {
	ok, err := repo.ConsumeQuota(ctx, tx, u.AccountID, q.Clock.Today(), q.limit())
	if err != nil {
		return err
	}
	if !ok {
		observability.QuotaRejections.Inc()
		return ErrQuotaExceeded
	}
	return nil
}

// Remaining reports how many submissions u has left today, based on the
// snapshot. A stored day other than today counts as unused.
func (q *QuotaTracker) Remaining(u *domain.User) int {
	if u.QuotaDay != q.Clock.Today() {
		return q.limit()
	}
	if left := q.limit() - u.QuotaCount; left > 0 {
		return left
	}
	return 0
}
