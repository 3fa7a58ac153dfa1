package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/postgate/internal/mq"
)

// NewTailCommand creates the tail command.
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	var queues []string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print outbound publications and notifications",
		Long: `Subscribe to the outbound queues and print every envelope.

Stands in for the messaging transport during local development. Messages
are acknowledged once printed. Needs RABBITMQ_URL: without it every process
gets its own in-memory queue and there is nothing to tail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config()
			if len(queues) == 0 {
				queues = []string{cfg.MQ.PublishQueue, cfg.MQ.NotifyQueue}
			}
			if cfg.MQ.URL == "" {
				return errors.New("tail: RABBITMQ_URL is not set")
			}
			backend, err := mq.Open(cfg.MQ)
			if err != nil {
				return err
			}
			q := mq.New(backend)
			defer q.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			g, gctx := errgroup.WithContext(ctx)
			for _, name := range queues {
				name := name
				g.Go(func() error {
					return q.Subscribe(gctx, name, func(_ context.Context, msg mq.Message) error {
						_, err := fmt.Fprintf(out, "%s\t%s\n", name, msg.Data)
						return err
					})
				})
			}
			log.Info().Strs("queues", queues).Msg("tailing")
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&queues, "queue", nil, "queue to tail (repeatable; default publish and notify queues)")
	return cmd
}
