package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/afms/internal/messaging"
	"example.com/afms/internal/service"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that consumes device scans from Azure Service Bus and runs maintenance jobs`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	go a.watchDeadLetters(ctx)

	serviceBus, err := messaging.NewServiceBus(a.cfg.Azure)
	if err != nil {
		return err
	}
	defer serviceBus.Close()

	// Consume device scans from the queue
	g.Go(func() error {
		log.Info().Str("queue", a.cfg.Azure.QueueName).Msg("Starting Service Bus processor")
		return serviceBus.ProcessMessages(ctx, func(ctx context.Context, body []byte) error {
			var payload service.ScanPayload
			if err := json.Unmarshal(body, &payload); err != nil {
				return errors.Wrap(err, "invalid scan message")
			}
			_, err := a.attendance.ProcessScan(ctx, &payload)
			return err
		})
	})

	// Periodic cleanup of expired idempotency keys
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(a.cfg.Pipeline.CleanupInterval),
			gocron.NewTask(func() {
				if _, err := a.idem.CleanupExpired(ctx); err != nil {
					log.Error().Err(err).Msg("Idempotency cleanup failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	a.bus.Drain()

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
