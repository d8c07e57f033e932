// Command soundlog-api serves the paginated read API over the formatted
// warehouse tables.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/mckinlee/soundlog/internal/api"
	"github.com/mckinlee/soundlog/internal/config"
	"github.com/mckinlee/soundlog/internal/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "soundlog-api",
	})

	store, err := warehouse.New(context.Background(), cfg.DatabaseURL, cfg.SchemaName, logger)
	if err != nil {
		return fmt.Errorf("connecting to warehouse: %w", err)
	}
	defer store.Close()

	server := api.NewServer(api.ServerConfig{Addr: cfg.ServerAddr}, store, logger)
	return server.Run()
}
