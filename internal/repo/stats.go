// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries behind the admin
// statistics view. Each function is context-aware and safe to call from
// services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/domain"
)

// CountUsersByTier returns user counts keyed by tier. Tiers with no users
// are absent from the map.
func CountUsersByTier(ctx context.Context, db *gorm.DB) (map[domain.Tier]int64, error) {
	var rows []struct {
		Tier  domain.Tier
		Count int64
	}
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Select("tier, COUNT(*) AS count").
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Tier]int64, len(rows))
	for _, r := range rows {
		out[r.Tier] = r.Count
	}
	return out, nil
}

// CountApprovedSince counts approved posts created at or after since.
func CountApprovedSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Post{}).
		Where("status = ? AND created_at >= ?", domain.StatusApproved, since).
		Count(&n).Error
	return n, err
}

// CountPostsByStatus counts every post in status.
func CountPostsByStatus(ctx context.Context, db *gorm.DB, status domain.PostStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Post{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// LatestPostAt returns the creation time of the newest post, or nil when
// there are none.
func LatestPostAt(ctx context.Context, db *gorm.DB) (*time.Time, error) {
	// Ordered select instead of MAX(), which comes back as TEXT on SQLite.
	var row struct {
		CreatedAt time.Time
	}
	res := db.WithContext(ctx).Model(&domain.Post{}).Select("created_at").Order("id DESC").Limit(1).Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row.CreatedAt, nil
}
