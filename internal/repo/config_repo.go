package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/postgate/internal/domain"
)

// ConfigChannelID is the key holding the destination channel address.
const ConfigChannelID = "channel_id"

// GetConfig returns the value stored under key, or ErrNotFound.
func GetConfig(ctx context.Context, db *gorm.DB, key string) (string, error) {
	var e domain.ConfigEntry
	if err := db.WithContext(ctx).Where("key = ?", key).First(&e).Error; err != nil {
		return "", err
	}
	return e.Value, nil
}

// PutConfig upserts key.
func PutConfig(ctx context.Context, db *gorm.DB, key, value string, now time.Time) error {
	e := domain.ConfigEntry{Key: key, Value: value, UpdatedAt: now}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

// SeedConfig stores value under key only when the key is absent.
func SeedConfig(ctx context.Context, db *gorm.DB, key, value string, now time.Time) error {
	e := domain.ConfigEntry{Key: key, Value: value, UpdatedAt: now}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&e).Error
}
