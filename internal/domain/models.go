// Package domain defines the persistence models for users, posts, channel
// configuration and the audit trail. These types are mapped with GORM and
// shared across the repository, service and HTTP layers.
package domain

import (
	"strconv"
	"time"
)

// Tier is a user's subscription level. Only free vs. non-free affects the
// engine; the paid tiers differ in presentation only.
type Tier string

const (
	TierFree     Tier = "free"
	TierVIP      Tier = "vip"
	TierPlatinum Tier = "platinum"
	TierExtra    Tier = "extra"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierVIP, TierPlatinum, TierExtra:
		return true
	}
	return false
}

// Paid reports whether t is one of the subscription tiers.
func (t Tier) Paid() bool { return t.Valid() && t != TierFree }

// Label is the human-facing tier name.
func (t Tier) Label() string {
	switch t {
	case TierVIP:
		return "VIP"
	case TierPlatinum:
		return "Platinum"
	case TierExtra:
		return "Extra"
	default:
		return "Free"
	}
}

// Trust is an informational label set by the owner.
type Trust string

const (
	TrustVerified Trust = "verified"
	TrustNeutral  Trust = "neutral"
	TrustScammer  Trust = "scammer"
)

func (t Trust) Valid() bool {
	return t == TrustVerified || t == TrustNeutral || t == TrustScammer
}

// PostStatus is the lifecycle state of a Post.
type PostStatus string

const (
	StatusPending  PostStatus = "pending"
	StatusApproved PostStatus = "approved"
	StatusRejected PostStatus = "rejected"
)

// Terminal reports whether no further transition is defined out of s.
func (s PostStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ContentType tags the opaque payload carried by a Post.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentPhoto    ContentType = "photo"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentPhoto, ContentVideo, ContentDocument:
		return true
	}
	return false
}

// User is an account known to the service, keyed by the externally issued
// numeric account id.
//
// Fields:
//   - AccountID: immutable external identifier (primary key).
//   - Handle / HandleKey: optional display handle and its case-folded lookup key.
//   - IsOwner / IsAdmin: role flags. The owner is always an admin.
//   - Trust: informational label, no effect on the engine.
//   - Tier / ExpiresAt: subscription. A free user never carries ExpiresAt.
//   - QuotaDay / QuotaCount: submissions consumed on the given local day.
//   - PostsTotal / PostsApproved / PostsRejected: lifetime counters.
type User struct {
	AccountID     int64      `json:"account_id"           gorm:"primaryKey;autoIncrement:false"`
	Handle        *string    `json:"handle,omitempty"     gorm:"type:varchar(64)"`
	HandleKey     *string    `json:"-"                    gorm:"type:varchar(64);index:idx_users_handle_key"`
	IsOwner       bool       `json:"is_owner"             gorm:"not null;default:false"`
	IsAdmin       bool       `json:"is_admin"             gorm:"not null;default:false;index"`
	Trust         Trust      `json:"trust"                gorm:"type:varchar(16);not null;default:'neutral'"`
	Tier          Tier       `json:"tier"                 gorm:"type:varchar(16);not null;default:'free';index"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	QuotaDay      string     `json:"quota_day"            gorm:"type:varchar(10);not null;default:''"`
	QuotaCount    int        `json:"quota_count"          gorm:"not null;default:0"`
	PostsTotal    int64      `json:"posts_total"          gorm:"not null;default:0"`
	PostsApproved int64      `json:"posts_approved"       gorm:"not null;default:0"`
	PostsRejected int64      `json:"posts_rejected"       gorm:"not null;default:0"`
	CreatedAt     time.Time  `json:"created_at"           gorm:"not null"`
	LastSeenAt    time.Time  `json:"last_seen_at"         gorm:"not null;index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// DisplayName renders the handle as @name, falling back to the numeric id.
func (u *User) DisplayName() string {
	if u.Handle != nil && *u.Handle != "" {
		return "@" + *u.Handle
	}
	return "id:" + strconv.FormatInt(u.AccountID, 10)
}

// IsModerator reports whether u may work the moderation queue.
func (u *User) IsModerator() bool { return u.IsAdmin || u.IsOwner }

// Post is a submission moving through the moderation lifecycle.
//
// A pending post has neither ModeratorID nor RejectReason. A rejected post
// always names its moderator. An approved post names its moderator unless it
// was published directly on submission (AutoPublished). Once terminal, only
// the reminder flags may still change, and in practice they are frozen too.
type Post struct {
	ID            uint64      `json:"id"                      gorm:"primaryKey;autoIncrement"`
	UserID        int64       `json:"user_id"                 gorm:"not null;index"`
	ContentType   ContentType `json:"content_type"            gorm:"type:varchar(16);not null"`
	Text          string      `json:"text"                    gorm:"type:text;not null;default:''"`
	MediaRef      *string     `json:"media_ref,omitempty"     gorm:"type:varchar(255)"`
	Status        PostStatus  `json:"status"                  gorm:"type:varchar(16);not null;index:idx_posts_status_created,priority:1"`
	ModeratorID   *int64      `json:"moderator_id,omitempty"`
	RejectReason  *string     `json:"reject_reason,omitempty" gorm:"type:text"`
	AutoPublished bool        `json:"auto_published"          gorm:"not null;default:false"`
	UserReminded  bool        `json:"user_reminded"           gorm:"not null;default:false"`
	AdminReminded bool        `json:"admin_reminded"          gorm:"not null;default:false"`
	CreatedAt     time.Time   `json:"created_at"              gorm:"not null;index:idx_posts_status_created,priority:2"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string { return "posts" }

// ConfigEntry is one key of the small runtime configuration map.
type ConfigEntry struct {
	Key       string    `json:"key"        gorm:"type:varchar(64);primaryKey"`
	Value     string    `json:"value"      gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ConfigEntry.
func (ConfigEntry) TableName() string { return "config" }

// AuditLog records a privileged action.
type AuditLog struct {
	ID        uint64    `json:"id"                  gorm:"primaryKey;autoIncrement"`
	ActorID   int64     `json:"actor_id"            gorm:"not null;index"`
	Action    string    `json:"action"              gorm:"type:varchar(32);not null"`
	TargetID  *int64    `json:"target_id,omitempty" gorm:"index"`
	Extra     string    `json:"extra"               gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `json:"created_at"          gorm:"not null;index"`
}

// TableName returns the database table name for AuditLog.
func (AuditLog) TableName() string { return "admin_logs" }
