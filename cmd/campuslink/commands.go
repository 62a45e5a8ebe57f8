package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"campuslink/internal/app"
	"campuslink/internal/auth"
	"campuslink/internal/config"
	"campuslink/internal/observability"
)

// configFileEnv names the config file when --config is not given.
const configFileEnv = "CAMPUSLINK_CONFIG_FILE"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", os.Getenv(configFileEnv),
		"Path to a YAML or JSON configuration file")
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay",
		Long: `Start the relay: websocket endpoint, notification API, presence,
health and metrics on one HTTP listener. Shuts down gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			application, err := app.NewApplication(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			return application.Run(cmd.Context())
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending directory migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := app.OpenDirectory(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			applied, err := store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "directory schema is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied migration %s\n", version)
			}
			return nil
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

// buildTokenCmd issues a handshake token signed with the configured secret,
// for local testing against a relay that requires one.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a handshake token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(configPath)
			if err != nil {
				return err
			}
			verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Required)
			token, err := verifier.Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "campuslink %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
