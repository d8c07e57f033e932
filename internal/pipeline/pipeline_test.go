package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mckinlee/soundlog/internal/spotify"
	"github.com/mckinlee/soundlog/internal/table"
	"github.com/mckinlee/soundlog/internal/warehouse"
)

// fakeSource is an in-memory Source with per-id error injection and call
// recording.
type fakeSource struct {
	history []spotify.Record

	albumErr    map[string]error
	albumCalls  []string
	trackCalls  []string
	artistCalls []string
}

func (f *fakeSource) RecentlyPlayed(ctx context.Context, after time.Time) ([]spotify.Record, error) {
	return f.history, nil
}

func (f *fakeSource) Playlists(ctx context.Context) ([]spotify.Record, error) {
	return nil, nil
}

func (f *fakeSource) PlaylistItems(ctx context.Context, playlistID string) ([]spotify.Record, error) {
	return nil, nil
}

func (f *fakeSource) FollowedArtists(ctx context.Context) ([]spotify.Record, error) {
	return nil, nil
}

func (f *fakeSource) SavedAlbums(ctx context.Context) ([]spotify.Record, error) {
	return nil, nil
}

func (f *fakeSource) NewReleases(ctx context.Context) ([]spotify.Record, error) {
	return nil, nil
}

func (f *fakeSource) Album(ctx context.Context, id string) (spotify.Record, error) {
	f.albumCalls = append(f.albumCalls, id)
	if err := f.albumErr[id]; err != nil {
		return nil, err
	}
	return spotify.Record{"id": id, "name": "Album " + id, "release_date": "2020-01-01"}, nil
}

func (f *fakeSource) Track(ctx context.Context, id string) (spotify.Record, error) {
	f.trackCalls = append(f.trackCalls, id)
	return spotify.Record{"id": id, "name": "Track " + id}, nil
}

func (f *fakeSource) Artist(ctx context.Context, id string) (spotify.Record, error) {
	f.artistCalls = append(f.artistCalls, id)
	return spotify.Record{"id": id, "name": "Artist " + id}, nil
}

func (f *fakeSource) ArtistTopTracks(ctx context.Context, artistID string) ([]spotify.Record, error) {
	return nil, nil
}

// fakeStore keeps written tables in memory and answers distinct-id
// queries from them, mirroring how the pipeline reads back what it wrote.
type fakeStore struct {
	tables    map[string]table.Table
	purged    []string
	indexed   map[string][][]string
	failWrite map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:    make(map[string]table.Table),
		indexed:   make(map[string][][]string),
		failWrite: make(map[string]error),
	}
}

func (s *fakeStore) Write(ctx context.Context, tbl table.Table, name string, mode warehouse.WriteMode) error {
	if err := s.failWrite[name]; err != nil {
		return err
	}
	if mode == warehouse.Replace {
		s.tables[name] = tbl
		return nil
	}
	existing := s.tables[name]
	for _, col := range tbl.Columns {
		if !existing.HasColumn(col) {
			existing.Columns = append(existing.Columns, col)
		}
	}
	existing.Rows = append(existing.Rows, tbl.Rows...)
	s.tables[name] = existing
	return nil
}

func (s *fakeStore) EnsureIndexes(ctx context.Context, name string, groups [][]string) error {
	s.indexed[name] = groups
	return nil
}

func (s *fakeStore) DistinctValues(ctx context.Context, name, column string) ([]string, error) {
	return s.tables[name].DistinctValues(column), nil
}

func (s *fakeStore) Purge(ctx context.Context, name string) error {
	s.purged = append(s.purged, name)
	delete(s.tables, name)
	return nil
}

// historyRecord builds a played-track record in the upstream's shape.
func historyRecord(playedAt, trackID, albumID, artistID string) spotify.Record {
	return spotify.Record{
		"played_at": playedAt,
		"track": map[string]any{
			"id":            trackID,
			"name":          "Track " + trackID,
			"duration_ms":   float64(180000),
			"popularity":    float64(50),
			"external_urls": map[string]any{"spotify": "https://open.spotify.com/track/" + trackID},
			"album": map[string]any{
				"id":            albumID,
				"name":          "Album " + albumID,
				"album_type":    "album",
				"release_date":  "2020-01-01",
				"external_urls": map[string]any{"spotify": "https://open.spotify.com/album/" + albumID},
				"artists": []any{
					map[string]any{"id": artistID, "name": "Artist " + artistID},
				},
				"images": []any{
					map[string]any{"url": "https://i.scdn.co/image/" + albumID, "height": float64(640)},
				},
			},
		},
		"context": map[string]any{
			"external_urls": map[string]any{"spotify": "https://open.spotify.com/playlist/p1"},
		},
	}
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestRun_DeduplicatesAlbumFetches(t *testing.T) {
	// 3 history records referencing 2 distinct albums.
	src := &fakeSource{
		history: []spotify.Record{
			historyRecord("2026-08-30T20:00:00Z", "t1", "a1", "ar1"),
			historyRecord("2026-08-30T21:00:00Z", "t2", "a2", "ar1"),
			historyRecord("2026-08-30T22:00:00Z", "t3", "a1", "ar1"),
		},
	}
	store := newFakeStore()

	driver := NewDriver(src, store, testLogger())
	if err := driver.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(src.albumCalls) != 2 {
		t.Errorf("album fetches = %d (%v), want 2 de-duplicated", len(src.albumCalls), src.albumCalls)
	}
	if len(src.trackCalls) != 3 {
		t.Errorf("track fetches = %d, want 3", len(src.trackCalls))
	}
	if len(src.artistCalls) != 1 {
		t.Errorf("artist fetches = %d, want 1", len(src.artistCalls))
	}
}

func TestRun_SkipsFailingAlbumID(t *testing.T) {
	src := &fakeSource{
		history: []spotify.Record{
			historyRecord("2026-08-30T20:00:00Z", "t1", "a1", "ar1"),
			historyRecord("2026-08-30T21:00:00Z", "t2", "a2", "ar1"),
		},
		albumErr: map[string]error{"a1": errors.New("upstream 404")},
	}
	store := newFakeStore()

	driver := NewDriver(src, store, testLogger())
	if err := driver.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	albums := store.tables[AlbumsFormatted]
	if len(albums.Rows) != 1 {
		t.Fatalf("albums_formatted rows = %d, want 1", len(albums.Rows))
	}
	if albums.Rows[0]["id"] != "a2" {
		t.Errorf("surviving album id = %v, want a2", albums.Rows[0]["id"])
	}
}

func TestRun_HistoryFormattedContract(t *testing.T) {
	src := &fakeSource{
		history: []spotify.Record{
			historyRecord("2026-08-30T20:04:05Z", "t1", "a1", "ar1"),
		},
	}
	store := newFakeStore()

	driver := NewDriver(src, store, testLogger())
	if err := driver.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	history := store.tables[HistoryFormatted]
	if len(history.Rows) != 1 {
		t.Fatalf("history_formatted rows = %d, want 1", len(history.Rows))
	}

	row := history.Rows[0]
	checks := map[string]any{
		"played_at":          "2026-08-30T20:04:05Z",
		"played_date":        "2026-08-30",
		"played_time":        "20:04:05",
		"track_id":           "t1",
		"album_id":           "a1",
		"album_name":         "Album a1",
		"album_artists_id":   "ar1",
		"album_artists_name": "Artist ar1",
		"album_image":        "https://i.scdn.co/image/a1",
		"track_url":          "https://open.spotify.com/track/t1",
		"context_url":        "https://open.spotify.com/playlist/p1",
	}
	for col, want := range checks {
		if row[col] != want {
			t.Errorf("%s = %v, want %v", col, row[col], want)
		}
	}

	if got := store.indexed[HistoryFormatted]; len(got) != 2 {
		t.Errorf("history_formatted index groups = %v, want 2 groups", got)
	}
}

func TestRun_EmptyFetchSkipsWrites(t *testing.T) {
	src := &fakeSource{} // no history at all
	store := newFakeStore()

	driver := NewDriver(src, store, testLogger())
	if err := driver.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, ok := store.tables[HistoryRaw]; ok {
		t.Error("history_raw written despite empty fetch")
	}
	if _, ok := store.tables[HistoryFormatted]; ok {
		t.Error("history_formatted written despite empty fetch")
	}
	if len(src.albumCalls) != 0 {
		t.Errorf("album fetches = %d, want 0 with no history", len(src.albumCalls))
	}
}

func TestRun_EntityFailureDoesNotAbortRun(t *testing.T) {
	src := &fakeSource{
		history: []spotify.Record{
			historyRecord("2026-08-30T20:00:00Z", "t1", "a1", "ar1"),
		},
	}
	store := newFakeStore()
	store.failWrite[TracksRaw] = errors.New("disk full")

	driver := NewDriver(src, store, testLogger())
	if err := driver.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// tracks failed, but albums (a later entity) still ran.
	if _, ok := store.tables[TracksFormatted]; ok {
		t.Error("tracks_formatted written despite raw write failure")
	}
	if _, ok := store.tables[AlbumsFormatted]; !ok {
		t.Error("albums_formatted missing; later entities should still run")
	}
}

func TestRun_CleanupPurgesRawTables(t *testing.T) {
	src := &fakeSource{
		history: []spotify.Record{
			historyRecord("2026-08-30T20:00:00Z", "t1", "a1", "ar1"),
		},
	}

	t.Run("default purges all raw tables", func(t *testing.T) {
		store := newFakeStore()
		driver := NewDriver(src, store, testLogger())
		if err := driver.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		purged := make(map[string]bool)
		for _, name := range store.purged {
			purged[name] = true
		}
		for _, want := range []string{HistoryRaw, TracksRaw, AlbumsRaw, ArtistsRaw} {
			if !purged[want] {
				t.Errorf("%s not purged", want)
			}
		}
		// Formatted tables are the served dataset; they survive.
		if _, ok := store.tables[HistoryFormatted]; !ok {
			t.Error("history_formatted purged; formatted tables must survive cleanup")
		}
	})

	t.Run("keep-raw still purges the append-only history table", func(t *testing.T) {
		store := newFakeStore()
		driver := NewDriver(src, store, testLogger(), WithKeepRawTables(true))
		if err := driver.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		purged := make(map[string]bool)
		for _, name := range store.purged {
			purged[name] = true
		}
		if !purged[HistoryRaw] {
			t.Error("history_raw must be purged even with KEEP_RAW_TABLES")
		}
		if purged[AlbumsRaw] {
			t.Error("albums_raw purged despite KEEP_RAW_TABLES")
		}
	})
}

func TestRun_ContextCancellation(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := NewDriver(src, store, testLogger())
	if err := driver.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
