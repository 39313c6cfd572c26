package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/afms/config"
	"example.com/afms/internal/models"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Runs database migrations to ensure the schema is up-to-date.
Useful for CI/CD pipelines or initial setup.`,
	RunE: runMigration,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	log.Info().Msg("Connecting to database")
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}

	log.Info().Msg("Running database migrations")
	if err := models.SetupModels(db); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}
