// Package pipeline runs the ETL: for each entity type, fetch raw records
// from the upstream API, flatten them, persist the raw table, project the
// formatted table, and create its indexes. One declarative entity list
// drives a single loop; the entities differ only in their descriptors.
package pipeline

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mckinlee/soundlog/internal/spotify"
	"github.com/mckinlee/soundlog/internal/table"
	"github.com/mckinlee/soundlog/internal/warehouse"
)

// Source is the upstream capability the pipeline consumes: paginated
// list endpoints and per-id object fetches. *spotify.Client satisfies it;
// authentication and token refresh are its problem, not the pipeline's.
type Source interface {
	RecentlyPlayed(ctx context.Context, after time.Time) ([]spotify.Record, error)
	Playlists(ctx context.Context) ([]spotify.Record, error)
	PlaylistItems(ctx context.Context, playlistID string) ([]spotify.Record, error)
	FollowedArtists(ctx context.Context) ([]spotify.Record, error)
	SavedAlbums(ctx context.Context) ([]spotify.Record, error)
	NewReleases(ctx context.Context) ([]spotify.Record, error)
	Album(ctx context.Context, id string) (spotify.Record, error)
	Track(ctx context.Context, id string) (spotify.Record, error)
	Artist(ctx context.Context, id string) (spotify.Record, error)
	ArtistTopTracks(ctx context.Context, artistID string) ([]spotify.Record, error)
}

// Store is the warehouse capability the pipeline writes through.
// *warehouse.Store satisfies it.
type Store interface {
	Write(ctx context.Context, tbl table.Table, name string, mode warehouse.WriteMode) error
	EnsureIndexes(ctx context.Context, name string, groups [][]string) error
	DistinctValues(ctx context.Context, name, column string) ([]string, error)
	Purge(ctx context.Context, name string) error
}

// FetchEnv is what an entity's fetch closure gets to work with.
type FetchEnv struct {
	Source Source
	Store  Store
	Logger *log.Logger
	Window time.Duration // lookback for the listening-history fetch
}

// FetchFunc exhausts the upstream into one in-memory batch of raw records.
type FetchFunc func(ctx context.Context, env FetchEnv) ([]spotify.Record, error)

// Format declares an entity's formatted-table contract: a fixed
// projection of the flattened raw columns, optional columns derived from
// the structured record, and the secondary indexes on its key columns.
type Format struct {
	Table         string
	Mode          warehouse.WriteMode // history accumulates, everything else replaces
	Columns       []string
	Renames       map[string]string
	DeriveColumns []string
	Derive        func(rec spotify.Record) table.Row
	Indexes       [][]string
}

// Entity describes one entity pipeline.
type Entity struct {
	Name     string
	RawTable string
	RawMode  warehouse.WriteMode
	Fetch    FetchFunc
	Format   *Format
}

// Driver executes the fixed ordered list of entity pipelines once per
// invocation. It is a batch job, not a service: no internal scheduling,
// no concurrency, overlap control belongs to whatever triggers the run.
type Driver struct {
	entities []Entity
	env      FetchEnv
	store    Store
	logger   *log.Logger
	keepRaw  bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithHistoryWindow sets how far back the listening-history fetch reaches.
func WithHistoryWindow(d time.Duration) Option {
	return func(dr *Driver) {
		dr.env.Window = d
	}
}

// WithKeepRawTables disables the raw-table purge during cleanup, except
// for the append-only history table which is always purged.
func WithKeepRawTables(keep bool) Option {
	return func(dr *Driver) {
		dr.keepRaw = keep
	}
}

// WithEntities overrides the default entity list. Used by tests.
func WithEntities(entities []Entity) Option {
	return func(dr *Driver) {
		dr.entities = entities
	}
}

// NewDriver creates a Driver over the default entity list.
func NewDriver(source Source, store Store, logger *log.Logger, opts ...Option) *Driver {
	d := &Driver{
		entities: Entities(),
		store:    store,
		logger:   logger,
		env: FetchEnv{
			Source: source,
			Store:  store,
			Logger: logger,
			Window: 24 * time.Hour,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes every entity pipeline in order, then cleanup. A failing
// entity is logged and skipped; it never fails the run, and nothing done
// for earlier entities is rolled back. The returned error is reserved for
// context cancellation.
func (d *Driver) Run(ctx context.Context) error {
	runID := uuid.New().String()
	logger := d.logger.With("run_id", runID)
	started := time.Now()

	logger.Info("starting run", "entities", len(d.entities))

	for _, e := range d.entities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.runEntity(ctx, logger, e); err != nil {
			logger.Error("entity pipeline failed", "entity", e.Name, "error", err)
		}
	}

	d.cleanup(ctx, logger)

	logger.Info("run complete", "elapsed", time.Since(started).Round(time.Millisecond))
	return ctx.Err()
}

// runEntity walks one entity through fetch, flatten, raw write, format,
// formatted write, and index creation.
func (d *Driver) runEntity(ctx context.Context, logger *log.Logger, e Entity) error {
	env := d.env
	env.Logger = logger

	records, err := e.Fetch(ctx, env)
	if err != nil {
		return err
	}

	flat := table.Flatten(records)
	if flat.Empty() {
		// Nothing to do is not an error; skip the entity's writes.
		logger.Info("no records fetched", "entity", e.Name)
		return nil
	}

	if err := d.store.Write(ctx, flat, e.RawTable, e.RawMode); err != nil {
		return err
	}

	if e.Format == nil {
		return nil
	}

	formatted := flat.Project(e.Format.Columns, e.Format.Renames)
	if e.Format.Derive != nil {
		formatted.Columns = append(formatted.Columns, e.Format.DeriveColumns...)
		// Flatten preserves record order, so derived cells line up with
		// their projected rows by index.
		for i, rec := range records {
			for k, v := range e.Format.Derive(rec) {
				formatted.Rows[i][k] = v
			}
		}
	}

	if err := d.store.Write(ctx, formatted, e.Format.Table, e.Format.Mode); err != nil {
		return err
	}

	if err := d.store.EnsureIndexes(ctx, e.Format.Table, e.Format.Indexes); err != nil {
		return err
	}

	logger.Info("entity complete", "entity", e.Name, "rows", len(formatted.Rows))
	return nil
}

// cleanup purges the raw working tables: the served dataset is the
// formatted tables. The append-only history raw table is always purged
// so its retention lives solely in history_formatted; the other raw
// tables survive only when the operator opted to keep them.
func (d *Driver) cleanup(ctx context.Context, logger *log.Logger) {
	for _, e := range d.entities {
		if d.keepRaw && e.RawMode != warehouse.Append {
			continue
		}
		if err := d.store.Purge(ctx, e.RawTable); err != nil {
			logger.Warn("purge failed", "table", e.RawTable, "error", err)
			continue
		}
		logger.Info("purged raw table", "table", e.RawTable)
	}
}
