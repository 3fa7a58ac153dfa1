// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. Mutations that race with other requests
// are written as conditional UPDATEs and report whether they applied, so the
// service layer can tell a winning writer from a stale one.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound.
//   - On DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/postgate/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Counter names one of the lifetime post counters on users.
type Counter string

const (
	CounterTotal    Counter = "posts_total"
	CounterApproved Counter = "posts_approved"
	CounterRejected Counter = "posts_rejected"
)

var handleFolder = cases.Fold()

// HandleKey folds a handle for case-insensitive lookup. A leading '@' is
// ignored.
func HandleKey(handle string) string {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	return handleFolder.String(h)
}

// GetUser fetches a user by account id.
func GetUser(ctx context.Context, db *gorm.DB, accountID int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("account_id = ?", accountID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByHandle looks a user up by handle, ignoring case and a leading '@'.
func FindUserByHandle(ctx context.Context, db *gorm.DB, handle string) (*domain.User, error) {
	key := HandleKey(handle)
	if key == "" {
		return nil, ErrNotFound
	}
	var u domain.User
	if err := db.WithContext(ctx).Where("handle_key = ?", key).Order("last_seen_at DESC").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// TouchUser creates the user on first contact or refreshes last-seen (and
// the handle, when one is supplied) on every later one.
func TouchUser(ctx context.Context, db *gorm.DB, accountID int64, handle *string, now time.Time) (*domain.User, error) {
	u := domain.User{
		AccountID:  accountID,
		Trust:      domain.TrustNeutral,
		Tier:       domain.TierFree,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	cols := []string{"last_seen_at"}
	if handle != nil {
		h := strings.TrimPrefix(strings.TrimSpace(*handle), "@")
		if h != "" {
			key := HandleKey(h)
			u.Handle, u.HandleKey = &h, &key
			cols = append(cols, "handle", "handle_key")
		}
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&u).Error
	if err != nil {
		return nil, err
	}
	return GetUser(ctx, db, accountID)
}

// EnsureOwner makes accountID the single owner. The owner is always an admin.
func EnsureOwner(ctx context.Context, db *gorm.DB, accountID int64, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.User{}).
			Where("is_owner = ? AND account_id <> ?", true, accountID).
			Update("is_owner", false).Error; err != nil {
			return err
		}
		u := domain.User{
			AccountID:  accountID,
			IsOwner:    true,
			IsAdmin:    true,
			Trust:      domain.TrustNeutral,
			Tier:       domain.TierFree,
			CreatedAt:  now,
			LastSeenAt: now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.Assignments(map[string]any{"is_owner": true, "is_admin": true}),
		}).Create(&u).Error
	})
}

// DowngradeExpired resets a lapsed subscription to (free, NULL). It only
// touches the row while it is still stale at now, so among concurrent callers
// exactly one observes applied == true.
func DowngradeExpired(ctx context.Context, db *gorm.DB, accountID int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("account_id = ? AND tier <> ? AND expires_at IS NOT NULL AND expires_at < ?", accountID, domain.TierFree, now).
		Updates(map[string]any{"tier": domain.TierFree, "expires_at": nil})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetSubscription overwrites tier and expiry. A nil expiresAt means the tier
// never lapses.
func SetSubscription(ctx context.Context, db *gorm.DB, accountID int64, tier domain.Tier, expiresAt *time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{"tier": tier, "expires_at": expiresAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementCounters bumps each named counter by one in a single statement.
func IncrementCounters(ctx context.Context, db *gorm.DB, accountID int64, counters ...Counter) error {
	if len(counters) == 0 {
		return nil
	}
	upd := make(map[string]any, len(counters))
	for _, c := range counters {
		col := string(c)
		upd[col] = gorm.Expr(col + " + 1")
	}
	res := db.WithContext(ctx).Model(&domain.User{}).Where("account_id = ?", accountID).UpdateColumns(upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeQuota takes one submission from the user's allowance for day.
//
// The check and the increment are one conditional UPDATE: a stored day other
// than day counts as zero and is reset to (day, 1), otherwise the counter is
// incremented only while it is below limit. consumed == false means the
// allowance for day is exhausted and nothing was written.
func ConsumeQuota(ctx context.Context, db *gorm.DB, accountID int64, day string, limit int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("account_id = ? AND (quota_day <> ? OR quota_count < ?)", accountID, day, limit).
		UpdateColumns(map[string]any{
			"quota_count": gorm.Expr("CASE WHEN quota_day = ? THEN quota_count + 1 ELSE 1 END", day),
			"quota_day":   day,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetAdmin grants or revokes moderator rights. The owner row is never
// demoted: revoking on the owner affects zero rows and reports applied=false.
func SetAdmin(ctx context.Context, db *gorm.DB, accountID int64, admin bool) (bool, error) {
	q := db.WithContext(ctx).Model(&domain.User{}).Where("account_id = ?", accountID)
	if !admin {
		q = q.Where("is_owner = ?", false)
	}
	res := q.Update("is_admin", admin)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetTrust stores the informational trust label.
func SetTrust(ctx context.Context, db *gorm.DB, accountID int64, trust domain.Trust) error {
	res := db.WithContext(ctx).Model(&domain.User{}).Where("account_id = ?", accountID).Update("trust", trust)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListModerators returns the owner and every admin, ordered by account id.
func ListModerators(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("is_admin = ? OR is_owner = ?", true, true).
		Order("account_id ASC").
		Find(&out).Error
	return out, err
}

// CountUsers returns the number of known users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&n).Error
	return n, err
}

// ListUsersPage returns users ordered by most recent activity.
func ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("last_seen_at DESC").
		Order("account_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
