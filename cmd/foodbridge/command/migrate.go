package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"foodbridge/internal/infra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the users, donations and event tables",
	Long: `Apply the embedded schema to the database named by db.dsn.
Statements are idempotent, so running migrate twice is harmless.`,
	Args: cobra.NoArgs,
	RunE: migrate,
}

func migrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()
	return infra.Migrate(ctx, pool)
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
