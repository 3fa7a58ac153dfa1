package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/domain"
)

// Audit actions.
const (
	ActionApprove     = "approve"
	ActionReject      = "reject"
	ActionGrantSub    = "grant_subscription"
	ActionRevokeSub   = "revoke_subscription"
	ActionGrantAdmin  = "grant_admin"
	ActionRevokeAdmin = "revoke_admin"
	ActionSetTrust    = "set_trust"
	ActionSetChannel  = "set_channel"
)

// AppendAudit writes one admin_logs row.
func AppendAudit(ctx context.Context, db *gorm.DB, actorID int64, action string, targetID *int64, extra string, now time.Time) error {
	return db.WithContext(ctx).Create(&domain.AuditLog{
		ActorID:   actorID,
		Action:    action,
		TargetID:  targetID,
		Extra:     extra,
		CreatedAt: now,
	}).Error
}

// ListAudit returns the most recent entries first.
func ListAudit(ctx context.Context, db *gorm.DB, limit int) ([]domain.AuditLog, error) {
	var out []domain.AuditLog
	err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}
