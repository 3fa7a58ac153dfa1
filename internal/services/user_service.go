// Package services – UserService
//
// This file implements account entry, role management and the owner's user
// views. Enter is the single point where a request's user is created or
// refreshed and where lazy subscription expiry runs.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/repo"
)

// DefaultUsersPageSize is the owner user list page size.
const DefaultUsersPageSize = 12

// UserService manages accounts and roles.
type UserService struct {
	DB            *gorm.DB
	Clock         clock.Clock
	Subs          *SubscriptionService
	Notifier      Notifier
	NotifyTimeout time.Duration
	PageSize      int
}

// Enter records an interaction by accountID (creating the user on first
// contact), then normalizes an expired subscription.
func (s *UserService) Enter(ctx context.Context, accountID int64, handle *string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Enter", trace.WithAttributes(attribute.Int64("user.id", accountID)))
	defer span.End()

	u, err := repo.TouchUser(ctx, s.DB, accountID, handle, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	return s.Subs.NormalizeIfExpired(ctx, u)
}

// EnsureOwner makes ownerID the single owner and an admin.
func (s *UserService) EnsureOwner(ctx context.Context, ownerID int64) error {
	return repo.EnsureOwner(ctx, s.DB, ownerID, s.Clock.Now())
}

// Get returns the user with accountID.
func (s *UserService) Get(ctx context.Context, accountID int64) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// Lookup finds a user by numeric id or by handle (with or without '@').
func (s *UserService) Lookup(ctx context.Context, q string) (*domain.User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrNotFound
	}
	var (
		u   *domain.User
		err error
	)
	if id, perr := strconv.ParseInt(q, 10, 64); perr == nil {
		u, err = repo.GetUser(ctx, s.DB, id)
	} else {
		u, err = repo.FindUserByHandle(ctx, s.DB, q)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// GrantAdmin gives targetID moderator rights. Owner only.
func (s *UserService) GrantAdmin(ctx context.Context, actorID, targetID int64) error {
	return s.setAdmin(ctx, actorID, targetID, true)
}

// RevokeAdmin removes moderator rights from targetID. Owner only; the owner
// itself cannot be demoted.
func (s *UserService) RevokeAdmin(ctx context.Context, actorID, targetID int64) error {
	return s.setAdmin(ctx, actorID, targetID, false)
}

func (s *UserService) setAdmin(ctx context.Context, actorID, targetID int64, admin bool) error {
	if _, err := requireOwner(ctx, s.DB, actorID); err != nil {
		return err
	}
	target, err := s.Get(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsOwner {
		return ErrOwnerImmutable
	}
	action := repo.ActionRevokeAdmin
	if admin {
		action = repo.ActionGrantAdmin
	}
	now := s.Clock.Now()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := repo.SetAdmin(ctx, tx, targetID, admin)
		if err != nil {
			return err
		}
		if !applied {
			return ErrNotFound
		}
		return repo.AppendAudit(ctx, tx, actorID, action, &targetID, "", now)
	})
	if err != nil {
		return err
	}
	msg := "Your moderator rights have been removed."
	if admin {
		msg = "You have been granted moderator rights."
	}
	_ = notifyOne(ctx, s.Notifier, s.NotifyTimeout, targetID, action, msg)
	return nil
}

// SetTrust stores an informational trust label on targetID. Owner only.
func (s *UserService) SetTrust(ctx context.Context, actorID, targetID int64, trust domain.Trust) error {
	if !trust.Valid() {
		return ErrInvalidTrust
	}
	if _, err := requireOwner(ctx, s.DB, actorID); err != nil {
		return err
	}
	now := s.Clock.Now()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetTrust(ctx, tx, targetID, trust); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, tx, actorID, repo.ActionSetTrust, &targetID, string(trust), now)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// UsersPage is one page of the owner's user list.
type UsersPage struct {
	Items    []domain.User
	Page     int
	PageSize int
	Total    int64
}

// ListPage returns users ordered by most recent activity. Owner only. Pages
// start at 1; out-of-range values are clamped to 1.
func (s *UserService) ListPage(ctx context.Context, actorID int64, page int) (*UsersPage, error) {
	if _, err := requireOwner(ctx, s.DB, actorID); err != nil {
		return nil, err
	}
	size := s.PageSize
	if size <= 0 {
		size = DefaultUsersPageSize
	}
	if page < 1 {
		page = 1
	}
	total, err := repo.CountUsers(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := &UsersPage{Items: []domain.User{}, Page: page, PageSize: size, Total: total}
	if total == 0 {
		return out, nil
	}
	items, err := repo.ListUsersPage(ctx, s.DB, (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	out.Items = items
	return out, nil
}

// ListModerators returns the owner and every admin. Owner only.
func (s *UserService) ListModerators(ctx context.Context, actorID int64) ([]domain.User, error) {
	if _, err := requireOwner(ctx, s.DB, actorID); err != nil {
		return nil, err
	}
	return repo.ListModerators(ctx, s.DB)
}
