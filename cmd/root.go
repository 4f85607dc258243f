// Package cmd defines and implements the CLI commands for the linkpreview executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkpreview/internal/app"
	"github.com/JakeFAU/linkpreview/internal/config"
	"github.com/JakeFAU/linkpreview/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const closeTimeout = 10 * time.Second

// newApp is the application factory. It's a variable so tests can swap in a
// differently wired App.
var newApp = app.New

// newRootCmd creates the root command. Running it without a subcommand serves
// the API.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "linkpreview",
		Short: "Link preview and screenshot cache service.",
		Long: `linkpreview answers GET /api/preview with Open Graph metadata for a URL,
falling back to cached screenshots from an external capture worker, and keeps
those screenshots fresh on demand and on schedule.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			for _, warning := range cfg.Warnings {
				logger.Warn("config value ignored", zap.String("detail", warning))
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil //nolint:nilerr // nothing was built
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			closeErr := appInstance.Close(ctx)
			_ = appInstance.Logger().Sync()
			return closeErr
		},

		RunE: runServe,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRefreshCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, errors.New("missing command context")
	}
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "linkpreview:", err)
		os.Exit(1)
	}
}
