package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/config"
	"github.com/tbourn/postgate/internal/delivery"
	httpapi "github.com/tbourn/postgate/internal/http"
	"github.com/tbourn/postgate/internal/http/handlers"
	"github.com/tbourn/postgate/internal/mq"
	"github.com/tbourn/postgate/internal/repo"
	"github.com/tbourn/postgate/internal/services"
)

// App is the wired application: store, outbound queue and services.
type App struct {
	Cfg   config.Config
	DB    *gorm.DB
	MQ    *mq.MQ
	Clock clock.Clock

	Users       *services.UserService
	Subs        *services.SubscriptionService
	Posts       *services.PostService
	Channels    *services.ChannelService
	Stats       *services.StatsService
	Reminders   *services.ReminderService
	Idempotency *services.IdempotencyService
	Quota       *services.QuotaTracker
	// Membership is nil unless MEMBERSHIP_URL is set.
	Membership *services.MembershipGate
}

// Build opens the store and the broker and wires every service.
func Build(cfg config.Config) (*App, error) {
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	backend, err := mq.Open(cfg.MQ)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("open broker: %w", err)
	}
	q := mq.New(backend)
	return wire(cfg, db, q, clock.NewSystem(cfg.Engine.QuotaLocation)), nil
}

func wire(cfg config.Config, db *gorm.DB, q *mq.MQ, clk clock.Clock) *App {
	e := cfg.Engine
	pub := delivery.NewChannelPublisher(q, cfg.MQ.PublishQueue, cfg.MQ.PublishRPS)
	notes := delivery.NewNotifier(q, cfg.MQ.NotifyQueue)

	subs := &services.SubscriptionService{
		DB: db, Clock: clk, Notifier: notes,
		NotifyTimeout: e.NotifyTimeout,
		RenewContact:  e.RenewContact,
	}
	chans := &services.ChannelService{DB: db, Clock: clk, Default: e.DefaultChannel}
	quota := &services.QuotaTracker{Limit: e.DailyPostLimit, Clock: clk}
	idem := &services.IdempotencyService{DB: db, Clock: clk, TTL: cfg.IdempotencyTTL}

	var gate *services.MembershipGate
	if cfg.Membership.URL != "" {
		gate = &services.MembershipGate{
			Checker:  delivery.NewMembershipClient(cfg.Membership.URL, cfg.Membership.Timeout),
			Channels: chans,
			Clock:    clk,
			TTL:      cfg.Membership.CacheTTL,
		}
	}

	return &App{
		Cfg:   cfg,
		DB:    db,
		MQ:    q,
		Clock: clk,
		Subs:  subs,
		Users: &services.UserService{
			DB: db, Clock: clk, Subs: subs, Notifier: notes,
			NotifyTimeout: e.NotifyTimeout,
			PageSize:      e.UsersPageSize,
		},
		Posts: &services.PostService{
			DB: db, Clock: clk, Quota: quota, Channels: chans,
			Publisher: pub, Notifier: notes,
			PublishTimeout: e.PublishTimeout,
			NotifyTimeout:  e.NotifyTimeout,
			Idempotency:    idem,
		},
		Channels: chans,
		Stats:    &services.StatsService{DB: db, Clock: clk},
		Reminders: &services.ReminderService{
			DB: db, Clock: clk, Notifier: notes,
			UserAfter:     e.UserRemindAfter,
			AdminAfter:    e.AdminRemindAfter,
			Interval:      e.ReminderInterval,
			InitialDelay:  e.ReminderDelay,
			NotifyTimeout: e.NotifyTimeout,
		},
		Idempotency: idem,
		Quota:       quota,
		Membership:  gate,
	}
}

// Migrate applies the schema, seeds the owner (when configured) and the
// destination channel. Safe to run on every start.
func (a *App) Migrate(ctx context.Context) error {
	if err := repo.AutoMigrate(a.DB.WithContext(ctx)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if a.Cfg.Engine.OwnerID > 0 {
		if err := a.Users.EnsureOwner(ctx, a.Cfg.Engine.OwnerID); err != nil {
			return fmt.Errorf("seed owner: %w", err)
		}
	} else {
		log.Warn().Msg("OWNER_ID not set; no account can manage admins or subscriptions")
	}
	if err := a.Channels.Seed(ctx); err != nil {
		return fmt.Errorf("seed channel: %w", err)
	}
	return nil
}

// HTTPServices exposes the services to the HTTP layer.
func (a *App) HTTPServices() httpapi.Services {
	s := httpapi.Services{
		Deps: handlers.Deps{
			Posts:         a.Posts,
			Users:         a.Users,
			Subscriptions: a.Subs,
			Channels:      a.Channels,
			Stats:         a.Stats,
			Idempotency:   a.Idempotency,
			Quota:         a.Quota,
			Clock:         a.Clock,
		},
		Enter:             a.Users.Enter,
		IdempotencyExists: a.Idempotency.Exists,
	}
	if a.Membership != nil {
		s.Member = a.Membership.Allow
	}
	return s
}

// Close releases the broker and the database.
func (a *App) Close() error {
	var errs []error
	if a.MQ != nil {
		errs = append(errs, a.MQ.Close())
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
