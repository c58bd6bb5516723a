// Package command provides the foodbridge CLI. The root command prints
// help; sub-commands run the API server, apply the schema and seed
// development data.
//
//	./foodbridge serve [-c /path/of/config.yaml]
//	./foodbridge migrate [-c /path/of/config.yaml]
//	./foodbridge seed --drivers 200 [-c /path/of/config.yaml]
package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"foodbridge/internal/config"
	"foodbridge/internal/log"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "foodbridge",
	Short: "Matches food donations with drivers and tracks their delivery",
	Long: `foodbridge runs the donation matching API: donors publish surplus
food, receivers reserve it, and the matching engine assigns the nearest
suitable driver, whose occupancy is kept in step with the donation
lifecycle.`,
	SilenceUsage: true,
}

// Execute runs the rootCmd and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadDotEnv, fixConfigPath)
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "", "config file path (yaml)",
	)
}

// loadDotEnv exports variables from ./.env when present; real environment
// variables win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "ignoring .env:", err)
	}
}

func fixConfigPath() {
	if cfgPath != "" {
		return
	}
	cfgPath = os.Getenv("FOODBRIDGE_CONFIG")
}

// loadConfig is shared by every sub-command.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	log.Setup(os.Stderr, cfg.Log.Level)
	return cfg, nil
}
