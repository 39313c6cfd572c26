package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/afms/internal/api"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server that accepts device scans and serves attendance summaries`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}

	go a.watchDeadLetters(ctx)

	server := api.NewServer(a.cfg, a.attendance, a.engine, a.readModels, a.collector, a.health, a.tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Let in-flight event retries settle before exiting
	a.bus.Drain()

	log.Info().Msg("Shutting down API server")
	return nil
}
