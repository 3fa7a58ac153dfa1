package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/postgate/internal/http"
	"github.com/tbourn/postgate/internal/observability"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var noReminders bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reminder loop",
		Long: `Run the HTTP API and the reminder loop.

The store is migrated and the owner and channel are seeded on start.
SIGINT or SIGTERM drains in-flight requests and stops the reminder loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rootOpts, !noReminders)
		},
	}
	cmd.Flags().BoolVar(&noReminders, "no-reminders", false, "do not run the reminder loop in this process")
	return cmd
}

func serve(ctx context.Context, opts *RootOptions, reminders bool) error {
	cfg := opts.Config()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	app, err := Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn().Err(err).Msg("close app")
		}
	}()
	if err := app.Migrate(ctx); err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, app.HTTPServices(), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	var background []func(context.Context)
	if reminders {
		background = append(background, func(ctx context.Context) {
			if err := app.Reminders.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("reminder loop stopped")
			}
		})
	}
	return runServer(ctx, srv, background...)
}

// runServer serves srv and runs each background loop until ctx ends or the
// listener fails. Either way the loops are cancelled and waited for, and the
// server is drained, before it returns.
func runServer(ctx context.Context, srv *http.Server, background ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, loop := range background {
		wg.Add(1)
		go func(loop func(context.Context)) {
			defer wg.Done()
			loop(ctx)
		}(loop)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", Version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, failed := <-errCh:
		if failed {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("http server failed")
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	cancel()
	sctx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return srv.Shutdown(sctx)
}
