// Package services – PostService
//
// This file implements the post lifecycle engine. A submission from a
// privileged user is published at once and stored as approved; any other
// submission consumes one unit of the daily quota and enters the moderation
// queue as pending. Moderators pull the oldest pending post and resolve it.
//
// State machine:
//
//	pending -> approved   (Approve, only after a successful publish)
//	pending -> rejected   (Reject)
//
// Terminal posts never change again; a second resolution returns
// ErrStaleOperation. Resolutions of the same post are serialized in process
// and the store write is additionally keyed on status = pending.
//
// Observability: public methods are OpenTelemetry-instrumented and feed the
// postgate_posts_* counters.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/observability"
	"github.com/tbourn/postgate/internal/repo"
)

// Content is the inert payload of a submission.
type Content struct {
	Type     domain.ContentType
	Text     string
	MediaRef *string
}

// Validate checks the type tag and that there is something to post. Media
// types require a media reference; text posts require text.
func (c *Content) Validate() error {
	if !c.Type.Valid() {
		return ErrInvalidContentType
	}
	hasMedia := c.MediaRef != nil && strings.TrimSpace(*c.MediaRef) != ""
	if c.Type == domain.ContentText {
		if strings.TrimSpace(c.Text) == "" {
			return ErrEmptyContent
		}
		return nil
	}
	if !hasMedia {
		return ErrInvalidContentType
	}
	return nil
}

// PostService drives the post lifecycle.
type PostService struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Quota     *QuotaTracker
	Channels  *ChannelService
	Publisher Publisher
	Notifier  Notifier

	// Idempotency claims keys for SubmitOnce. Nil disables key handling.
	Idempotency *IdempotencyService

	PublishTimeout time.Duration
	NotifyTimeout  time.Duration

	locks keyedMutex
}

// Submit creates a post for accountID.
//
// Privileged users skip the queue: the content is published first and only
// then stored as an approved, auto-published post; a failed publish returns
// ErrPublicationFailed and writes nothing. Everyone else goes through the
// quota inside the same transaction that creates the pending post, so a
// refused or failed submission never consumes quota.
func (s *PostService) Submit(ctx context.Context, accountID int64, c Content) (*domain.Post, error) {
	return s.submit(ctx, accountID, "", c)
}

// SubmitOnce is Submit guarded by an idempotency key. The key is claimed in
// the transaction that stores the post, so concurrent requests with the same
// key create at most one post; the others get that post back with
// replayed = true, or ErrSubmissionInProgress while the first is still
// publishing. An empty key is a plain Submit.
func (s *PostService) SubmitOnce(ctx context.Context, accountID int64, key string, c Content) (*domain.Post, bool, error) {
	if key == "" || s.Idempotency == nil {
		p, err := s.Submit(ctx, accountID, c)
		return p, false, err
	}
	p, err := s.submit(ctx, accountID, key, c)
	if !errors.Is(err, repo.ErrDuplicate) {
		return p, false, err
	}

	rec, err := s.Idempotency.find(ctx, accountID, key)
	if err != nil {
		return nil, false, err
	}
	if rec == nil || rec.PostID == 0 {
		return nil, false, ErrSubmissionInProgress
	}
	prev, err := s.Get(ctx, rec.PostID)
	if err != nil {
		return nil, false, err
	}
	return prev, true, nil
}

func (s *PostService) submit(ctx context.Context, accountID int64, key string, c Content) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.Int64("user.id", accountID),
			attribute.String("content.type", string(c.Type)),
			attribute.Bool("idempotent", key != ""),
		),
	)
	defer span.End()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	u, err := repo.GetUser(ctx, s.DB, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	now := s.Clock.Now()
	p := &domain.Post{
		UserID:      u.AccountID,
		ContentType: c.Type,
		Text:        c.Text,
		MediaRef:    c.MediaRef,
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}

	if IsPrivileged(u, now) {
		span.SetAttributes(attribute.Bool("post.auto_published", true))
		if err := s.autoPublish(ctx, u, p, key); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return p, nil
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claim *domain.Idempotency
		if key != "" {
			var err error
			if claim, err = s.Idempotency.reserve(ctx, tx, u.AccountID, key); err != nil {
				return err
			}
		}
		if err := s.Quota.CheckAndConsume(ctx, tx, u); err != nil {
			return err
		}
		if err := repo.CreatePost(ctx, tx, p); err != nil {
			return err
		}
		if err := repo.IncrementCounters(ctx, tx, u.AccountID, repo.CounterTotal); err != nil {
			return err
		}
		if claim != nil {
			return s.Idempotency.bind(ctx, tx, claim, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.PostsSubmitted.WithLabelValues(observability.PathModerated).Inc()
	span.SetAttributes(attribute.Int64("post.id", int64(p.ID)))
	s.alertModerators(ctx, fmt.Sprintf("New post #%d from %s awaits review.", p.ID, u.DisplayName()))
	return p, nil
}

// autoPublish publishes p for a privileged author and stores it as approved.
// The idempotency claim is committed before publishing so a concurrent
// duplicate cannot publish too; it is released only when the publish fails.
// When the store fails after a successful publish the claim stays, so a
// retry with the same key cannot publish again.
func (s *PostService) autoPublish(ctx context.Context, u *domain.User, p *domain.Post, key string) error {
	var claim *domain.Idempotency
	if key != "" {
		var err error
		if claim, err = s.Idempotency.reserve(ctx, s.DB, u.AccountID, key); err != nil {
			return err
		}
	}
	if err := s.publish(ctx, u, p); err != nil {
		if claim != nil {
			s.Idempotency.release(ctx, claim)
		}
		return err
	}

	now := p.CreatedAt
	p.Status = domain.StatusApproved
	p.AutoPublished = true
	p.ResolvedAt = &now
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreatePost(ctx, tx, p); err != nil {
			return err
		}
		if err := repo.IncrementCounters(ctx, tx, u.AccountID, repo.CounterTotal, repo.CounterApproved); err != nil {
			return err
		}
		if claim != nil {
			return s.Idempotency.bind(ctx, tx, claim, p.ID)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("account_id", u.AccountID).Msg("auto-published post not recorded")
		return fmt.Errorf("%w: %v", ErrPublishedNotRecorded, err)
	}
	observability.PostsSubmitted.WithLabelValues(observability.PathAutoPublished).Inc()
	s.alertModerators(ctx, fmt.Sprintf("Paid post #%d from %s (%s) is already public.", p.ID, u.DisplayName(), u.Tier.Label()))
	return nil
}

// NextPending returns the oldest pending post, or (nil, nil) when the queue
// is empty. It reserves nothing: concurrent moderators may see the same post.
func (s *PostService) NextPending(ctx context.Context) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "NextPending")
	defer span.End()

	p, err := repo.OldestPending(ctx, s.DB)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := CheckPost(p); err != nil {
		return nil, err
	}
	return p, nil
}

// PendingCount returns the queue length.
func (s *PostService) PendingCount(ctx context.Context) (int64, error) {
	return repo.CountPending(ctx, s.DB)
}

// Get returns a post by id.
func (s *PostService) Get(ctx context.Context, id uint64) (*domain.Post, error) {
	p, err := repo.GetPost(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// Approve publishes a pending post and, only once the publish succeeded,
// marks it approved by moderatorID. A failed publish leaves the post pending
// and returns ErrPublicationFailed.
func (s *PostService) Approve(ctx context.Context, postID uint64, moderatorID int64) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "Approve",
		trace.WithAttributes(attribute.Int64("post.id", int64(postID)), attribute.Int64("moderator.id", moderatorID)),
	)
	defer span.End()

	unlock := s.locks.Lock(postID)
	defer unlock()

	p, author, err := s.loadPending(ctx, postID, moderatorID)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, author, p); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.Clock.Now()
	err = s.resolve(ctx, p, repo.Resolution{Status: domain.StatusApproved, ModeratorID: moderatorID, At: now},
		repo.CounterApproved, repo.ActionApprove, "")
	if err != nil {
		if errors.Is(err, ErrStaleOperation) {
			log.Warn().Uint64("post_id", postID).Msg("post published but resolved elsewhere")
		}
		return nil, err
	}
	observability.PostsResolved.WithLabelValues(string(domain.StatusApproved)).Inc()
	_ = notifyOne(ctx, s.Notifier, s.NotifyTimeout, author.AccountID, "post_approved",
		fmt.Sprintf("Your post #%d has been published.", p.ID))
	return p, nil
}

// Reject marks a pending post rejected by moderatorID with reason, which may
// be empty. The author is told best-effort.
func (s *PostService) Reject(ctx context.Context, postID uint64, moderatorID int64, reason string) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "Reject",
		trace.WithAttributes(attribute.Int64("post.id", int64(postID)), attribute.Int64("moderator.id", moderatorID)),
	)
	defer span.End()

	unlock := s.locks.Lock(postID)
	defer unlock()

	p, author, err := s.loadPending(ctx, postID, moderatorID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	now := s.Clock.Now()
	err = s.resolve(ctx, p, repo.Resolution{Status: domain.StatusRejected, ModeratorID: moderatorID, Reason: &reason, At: now},
		repo.CounterRejected, repo.ActionReject, "reason="+reason)
	if err != nil {
		return nil, err
	}
	observability.PostsResolved.WithLabelValues(string(domain.StatusRejected)).Inc()
	msg := fmt.Sprintf("Your post #%d was rejected.", p.ID)
	if reason != "" {
		msg += "\nReason: " + reason
	}
	_ = notifyOne(ctx, s.Notifier, s.NotifyTimeout, author.AccountID, "post_rejected", msg)
	return p, nil
}

// loadPending checks the moderator, loads the post and its author and makes
// sure the post can still be resolved.
func (s *PostService) loadPending(ctx context.Context, postID uint64, moderatorID int64) (*domain.Post, *domain.User, error) {
	if _, err := requireModerator(ctx, s.DB, moderatorID); err != nil {
		return nil, nil, err
	}
	p, err := repo.GetPost(ctx, s.DB, postID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if err := CheckPost(p); err != nil {
		return nil, nil, err
	}
	if p.Status != domain.StatusPending {
		return nil, nil, ErrStaleOperation
	}
	author, err := repo.GetUser(ctx, s.DB, p.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: post %d references missing user %d", ErrCorruptRecord, p.ID, p.UserID)
		}
		return nil, nil, err
	}
	return p, author, nil
}

// resolve writes the terminal state, the author's counter and the audit entry
// in one transaction and mirrors the change onto p.
func (s *PostService) resolve(ctx context.Context, p *domain.Post, r repo.Resolution, counter repo.Counter, action, extra string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := repo.ResolvePost(ctx, tx, p.ID, r)
		if err != nil {
			return err
		}
		if !applied {
			return ErrStaleOperation
		}
		if err := repo.IncrementCounters(ctx, tx, p.UserID, counter); err != nil {
			return err
		}
		detail := fmt.Sprintf("post_id=%d", p.ID)
		if extra != "" {
			detail += ";" + extra
		}
		author := p.UserID
		return repo.AppendAudit(ctx, tx, r.ModeratorID, action, &author, detail, r.At)
	})
	if err != nil {
		return err
	}
	mod := r.ModeratorID
	p.Status = r.Status
	p.ModeratorID = &mod
	p.RejectReason = r.Reason
	p.ResolvedAt = &r.At
	return nil
}

// publish sends p to the configured channel within PublishTimeout.
func (s *PostService) publish(ctx context.Context, author *domain.User, p *domain.Post) error {
	channel, err := s.Channels.Destination(ctx)
	if err != nil {
		return err
	}
	if channel == "" {
		return fmt.Errorf("%w: no destination channel configured", ErrPublicationFailed)
	}
	pctx := ctx
	if s.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.PublishTimeout)
		defer cancel()
	}
	if err := s.Publisher.Publish(pctx, channel, author, p); err != nil {
		return fmt.Errorf("%w: %v", ErrPublicationFailed, err)
	}
	return nil
}

// alertModerators notifies every admin and the owner. Best-effort.
func (s *PostService) alertModerators(ctx context.Context, msg string) {
	mods, err := repo.ListModerators(ctx, s.DB)
	if err != nil {
		log.Warn().Err(err).Msg("list moderators")
		return
	}
	notifyMany(ctx, s.Notifier, s.NotifyTimeout, mods, "moderator_alert", msg)
}

// CheckPost verifies the stored post invariants:
//
//	pending:  no moderator, no reason, not auto-published, not resolved
//	approved: no reason, and a moderator unless auto-published
//	rejected: a moderator, not auto-published
//
// Any other status is corrupt as well.
func CheckPost(p *domain.Post) error {
	bad := func(why string) error {
		return fmt.Errorf("%w: post %d %s", ErrCorruptRecord, p.ID, why)
	}
	switch p.Status {
	case domain.StatusPending:
		if p.ModeratorID != nil {
			return bad("is pending but has a moderator")
		}
		if p.RejectReason != nil {
			return bad("is pending but has a reject reason")
		}
		if p.AutoPublished || p.ResolvedAt != nil {
			return bad("is pending but marked resolved")
		}
	case domain.StatusApproved:
		if p.RejectReason != nil {
			return bad("is approved but has a reject reason")
		}
		if p.ModeratorID == nil && !p.AutoPublished {
			return bad("is approved without a moderator")
		}
	case domain.StatusRejected:
		if p.ModeratorID == nil {
			return bad("is rejected without a moderator")
		}
		if p.AutoPublished {
			return bad("is rejected but auto-published")
		}
	default:
		return bad(fmt.Sprintf("has unknown status %q", p.Status))
	}
	return nil
}
