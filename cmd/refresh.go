package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkpreview/internal/logging"
	"github.com/JakeFAU/linkpreview/internal/screenshot"
)

// newRefreshCmd runs one scheduled refresh pass without starting the server,
// for use from cron or a platform scheduler.
func newRefreshCmd() *cobra.Command {
	var urlsPath string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh every screenshot in the URL list once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if !cfg.CaptureEnabled() {
				return errors.New("screenshot.worker_url is not configured")
			}
			path := urlsPath
			if path == "" {
				path = cfg.Screenshot.URLsConfigPath
			}
			urls, err := screenshot.ReadURLList(path)
			if err != nil {
				return err
			}

			requestID := appInstance.NewRequestID()
			logger := appInstance.Logger().With(logging.RequestID(requestID))
			logger.Info("refresh_request_start", zap.String("source", "cli"), zap.Int("requested_urls", len(urls)))

			summary := appInstance.Engine().RefreshBatch(cmd.Context(), urls, requestID)
			logger.Info("refresh_request_complete",
				zap.Int("requested_urls", summary.RequestedURLs),
				zap.Int("refreshed", summary.Refreshed),
				zap.Int("invalid", summary.Invalid),
				zap.Int("failed", summary.Failed),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&urlsPath, "urls", "", "URL list file (defaults to screenshot.urls_config_path)")
	return cmd
}
