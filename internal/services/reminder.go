// Package services – ReminderService
//
// This file implements the periodic reminder sweep. Each run nudges the
// author of every pending post older than UserAfter exactly once, and sends
// moderators one aggregate alert when a post older than AdminAfter has not
// been covered by an earlier alert. Both flags are one-shot; a failed user
// nudge leaves its flag unset so the next run retries it.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/observability"
	"github.com/tbourn/postgate/internal/repo"
)

// Reminder kinds, used as metric labels.
const (
	ReminderUser  = "user"
	ReminderAdmin = "admin"
)

// SweepReport summarizes one run.
type SweepReport struct {
	UserDue      int   // pending posts past the user threshold
	UserNotified int   // authors reached and flagged
	UserFailed   int   // authors not reached, retried next run
	AdminDue     int   // pending posts past the admin threshold
	AdminReached int   // moderators who received the alert
	AdminMarked  int64 // posts flagged as covered by the alert
}

// ReminderService runs the reminder sweeps.
type ReminderService struct {
	DB       *gorm.DB
	Clock    clock.Clock
	Notifier Notifier

	UserAfter     time.Duration
	AdminAfter    time.Duration
	Interval      time.Duration
	InitialDelay  time.Duration
	NotifyTimeout time.Duration
}

// Sweep performs one user sweep and one admin sweep. A failure in one does
// not skip the other; query errors from both are joined.
func (s *ReminderService) Sweep(ctx context.Context) (SweepReport, error) {
	tr := otel.Tracer("services/ReminderService")
	ctx, span := tr.Start(ctx, "Sweep")
	defer span.End()

	var rep SweepReport
	now := s.Clock.Now()
	errUser := s.sweepUsers(ctx, now, &rep)
	errAdmin := s.sweepAdmins(ctx, now, &rep)

	span.SetAttributes(
		attribute.Int("reminders.user_due", rep.UserDue),
		attribute.Int("reminders.user_notified", rep.UserNotified),
		attribute.Int("reminders.admin_due", rep.AdminDue),
	)
	return rep, errors.Join(errUser, errAdmin)
}

func (s *ReminderService) sweepUsers(ctx context.Context, now time.Time, rep *SweepReport) error {
	due, err := repo.PendingAwaitingUserReminder(ctx, s.DB, now.Add(-s.UserAfter))
	if err != nil {
		return fmt.Errorf("user sweep: %w", err)
	}
	rep.UserDue = len(due)
	for i := range due {
		p := &due[i]
		msg := fmt.Sprintf("Your post #%d is still waiting for review.", p.ID)
		if err := notifyOne(ctx, s.Notifier, s.NotifyTimeout, p.UserID, "user_reminder", msg); err != nil {
			rep.UserFailed++
			observability.Reminders.WithLabelValues(ReminderUser, observability.OutcomeFailed).Inc()
			continue
		}
		ok, err := repo.MarkUserReminded(ctx, s.DB, p.ID)
		if err != nil {
			// Sent but not flagged: the author may be nudged once more.
			log.Error().Err(err).Uint64("post_id", p.ID).Msg("mark user reminded")
			rep.UserFailed++
			continue
		}
		if !ok {
			// Resolved between the query and now.
			observability.Reminders.WithLabelValues(ReminderUser, observability.OutcomeSkipped).Inc()
			continue
		}
		rep.UserNotified++
		observability.Reminders.WithLabelValues(ReminderUser, observability.OutcomeSent).Inc()
	}
	return nil
}

func (s *ReminderService) sweepAdmins(ctx context.Context, now time.Time, rep *SweepReport) error {
	due, err := repo.PendingAwaitingAdminReminder(ctx, s.DB, now.Add(-s.AdminAfter))
	if err != nil {
		return fmt.Errorf("admin sweep: %w", err)
	}
	rep.AdminDue = len(due)
	if len(due) == 0 {
		return nil
	}
	mods, err := repo.ListModerators(ctx, s.DB)
	if err != nil {
		return fmt.Errorf("admin sweep: %w", err)
	}
	msg := fmt.Sprintf("%d post(s) have been waiting for review for more than %s.", len(due), humanHours(s.AdminAfter))
	rep.AdminReached = notifyMany(ctx, s.Notifier, s.NotifyTimeout, mods, "admin_reminder", msg)
	if rep.AdminReached == 0 {
		// Nobody heard it; keep the batch eligible for the next run.
		log.Warn().Int("moderators", len(mods)).Int("due", len(due)).Msg("moderator alert not delivered")
		observability.Reminders.WithLabelValues(ReminderAdmin, observability.OutcomeFailed).Inc()
		return nil
	}
	observability.Reminders.WithLabelValues(ReminderAdmin, observability.OutcomeSent).Inc()

	ids := make([]uint64, len(due))
	for i := range due {
		ids[i] = due[i].ID
	}
	n, err := repo.MarkAdminReminded(ctx, s.DB, ids)
	if err != nil {
		return fmt.Errorf("admin sweep: %w", err)
	}
	rep.AdminMarked = n
	return nil
}

// Run sweeps after InitialDelay and then every Interval until ctx is done.
// Sweep errors are logged; the loop keeps going.
func (s *ReminderService) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	timer := time.NewTimer(s.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		rep, err := s.Sweep(ctx)
		ev := log.Info()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Int("user_due", rep.UserDue).
			Int("user_notified", rep.UserNotified).
			Int("user_failed", rep.UserFailed).
			Int("admin_due", rep.AdminDue).
			Int("admin_reached", rep.AdminReached).
			Int64("admin_marked", rep.AdminMarked).
			Msg("reminder sweep")
		timer.Reset(interval)
	}
}

func humanHours(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
