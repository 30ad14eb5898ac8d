// Package commands implements the landctl CLI commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"landvalue/config"
	"landvalue/internal/database"
	"landvalue/internal/geocoding"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "landctl",
		Short: "Operate the land valuation store from the command line",
		Long: `landctl values parcels, imports listings and maintains the property
store configured through the same environment as the server.

Examples:
  # Value a 2 acre residential lot near Austin
  landctl estimate --lat 30.27 --lng -97.74 --area 87120 --category residential

  # Import a JSON array of listings
  landctl import --file listings.json

  # Scrape one configured site now
  landctl scrape --site example-land

  # Fill in missing coordinates (SQLite store)
  landctl geocode`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "env file(s) to load before reading the environment")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	cmd.AddCommand(newEstimateCmd(), newImportCmd(), newScrapeCmd(), newGeocodeCmd())
	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// runtime holds what every command needs: configuration, a logger and an open
// store.
type runtime struct {
	cfg        *config.Config
	logger     *logrus.Logger
	store      database.Store
	closeStore func(context.Context) error
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(logrus.WarnLevel)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	store, closeStore, err := database.Open(commandContext(cmd), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open property store: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, store: store, closeStore: closeStore}, nil
}

func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.closeStore(ctx); err != nil {
		r.logger.WithError(err).Error("Failed to close property store")
	}
}

func (r *runtime) geocoder() *geocoding.Geocoder {
	return geocoding.NewGeocoder(r.logger, geocoding.Options{
		BaseURL:     r.cfg.Geocoding.BaseURL,
		UserAgent:   r.cfg.Geocoding.UserAgent,
		CacheDir:    r.cfg.Geocoding.CacheDir,
		Timeout:     r.cfg.Geocoding.Timeout,
		MinInterval: r.cfg.Geocoding.MinInterval,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
