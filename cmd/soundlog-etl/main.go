// Command soundlog-etl runs one pass of the Spotify listening-history ETL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/mckinlee/soundlog/internal/auth"
	"github.com/mckinlee/soundlog/internal/config"
	"github.com/mckinlee/soundlog/internal/pipeline"
	"github.com/mckinlee/soundlog/internal/spotify"
	"github.com/mckinlee/soundlog/internal/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "soundlog-etl",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The database must be reachable before anything is fetched.
	store, err := warehouse.New(ctx, cfg.DatabaseURL, cfg.SchemaName, logger)
	if err != nil {
		return fmt.Errorf("connecting to warehouse: %w", err)
	}
	defer store.Close()

	authenticator, err := auth.New(cfg.SpotifyID, cfg.SpotifySecret)
	if err != nil {
		return err
	}

	client, err := authenticator.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticating with Spotify: %w", err)
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("verifying Spotify identity: %w", err)
	}
	logger.Info("authenticated", "user", user.DisplayName, "id", user.ID)

	httpClient, err := authenticator.HTTPClient(ctx)
	if err != nil {
		return err
	}

	source := spotify.New(httpClient, spotify.WithRequestsPerSecond(cfg.SpotifyRPS))

	driver := pipeline.NewDriver(source, store, logger,
		pipeline.WithHistoryWindow(cfg.HistoryWindow),
		pipeline.WithKeepRawTables(cfg.KeepRawTables),
	)
	return driver.Run(ctx)
}
