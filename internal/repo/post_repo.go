// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Post model:
// creation, the FIFO moderation queue, guarded status transitions and the
// one-shot reminder flags.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/domain"
)

// CreatePost inserts p and fills in its id.
func CreatePost(ctx context.Context, db *gorm.DB, p *domain.Post) error {
	return db.WithContext(ctx).Create(p).Error
}

// GetPost fetches a post by id.
func GetPost(ctx context.Context, db *gorm.DB, id uint64) (*domain.Post, error) {
	var p domain.Post
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// OldestPending returns the pending post with the lowest id.
func OldestPending(ctx context.Context, db *gorm.DB) (*domain.Post, error) {
	var p domain.Post
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("id ASC").
		Limit(1).
		Take(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPending returns the length of the moderation queue.
func CountPending(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Post{}).Where("status = ?", domain.StatusPending).Count(&n).Error
	return n, err
}

// Resolution carries the terminal fields written when a post leaves pending.
type Resolution struct {
	Status      domain.PostStatus
	ModeratorID int64
	Reason      *string
	At          time.Time
}

// ResolvePost moves a pending post to a terminal state. The UPDATE is keyed
// on status = pending, so among concurrent resolvers exactly one sees
// applied == true; the others lost the race.
func ResolvePost(ctx context.Context, db *gorm.DB, id uint64, r Resolution) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Post{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":        r.Status,
			"moderator_id":  r.ModeratorID,
			"reject_reason": r.Reason,
			"resolved_at":   r.At,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PendingAwaitingUserReminder lists pending posts created before cutoff whose
// author has not been nudged yet, oldest first.
func PendingAwaitingUserReminder(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.Post, error) {
	var out []domain.Post
	err := db.WithContext(ctx).
		Where("status = ? AND user_reminded = ? AND created_at <= ?", domain.StatusPending, false, cutoff).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// PendingAwaitingAdminReminder lists pending posts created before cutoff that
// have not been part of a moderator alert yet, oldest first.
func PendingAwaitingAdminReminder(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.Post, error) {
	var out []domain.Post
	err := db.WithContext(ctx).
		Where("status = ? AND admin_reminded = ? AND created_at <= ?", domain.StatusPending, false, cutoff).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// MarkUserReminded sets user_reminded once. It is a no-op when the post was
// resolved or already flagged in the meantime.
func MarkUserReminded(ctx context.Context, db *gorm.DB, id uint64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Post{}).
		Where("id = ? AND status = ? AND user_reminded = ?", id, domain.StatusPending, false).
		Update("user_reminded", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkAdminReminded flags a batch of posts as covered by a moderator alert.
// Posts resolved since the batch was read are left untouched.
func MarkAdminReminded(ctx context.Context, db *gorm.DB, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Post{}).
		Where("id IN ? AND status = ? AND admin_reminded = ?", ids, domain.StatusPending, false).
		Update("admin_reminded", true)
	return res.RowsAffected, res.Error
}
