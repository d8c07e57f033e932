package pipeline

import (
	"context"
	"time"

	"github.com/mckinlee/soundlog/internal/spotify"
	"github.com/mckinlee/soundlog/internal/table"
	"github.com/mckinlee/soundlog/internal/warehouse"
)

// Table names. Raw tables hold the unmodified flattened API responses and
// are working storage; formatted tables are the served dataset.
const (
	HistoryRaw       = "history_raw"
	HistoryFormatted = "history_formatted"

	TracksRaw       = "tracks_raw"
	TracksFormatted = "tracks_formatted"

	AlbumsRaw       = "albums_raw"
	AlbumsFormatted = "albums_formatted"

	ArtistsRaw       = "artists_raw"
	ArtistsFormatted = "artists_formatted"

	PlaylistsRaw       = "playlists_raw"
	PlaylistsFormatted = "playlists_formatted"

	PlaylistItemsRaw   = "playlist_items_raw"
	FollowedArtistsRaw = "followed_artists_raw"
	SavedAlbumsRaw     = "saved_albums_raw"
	NewReleasesRaw     = "new_releases_raw"
	ArtistTopTracksRaw = "artist_top_tracks_raw"
)

// Entities returns the fixed ordered entity list. Order matters: later
// entities fetch by ids that earlier entities' formatted tables produced
// (tracks, albums and artists come from the listening history; playlist
// items from the playlist list; top tracks from the artist table).
func Entities() []Entity {
	return []Entity{
		{
			Name:     "history",
			RawTable: HistoryRaw,
			RawMode:  warehouse.Append,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return env.Source.RecentlyPlayed(ctx, time.Now().UTC().Add(-env.Window))
			},
			Format: &Format{
				Table: HistoryFormatted,
				Mode:  warehouse.Append,
				Columns: []string{
					"played_at",
					"track_id",
					"track_name",
					"track_duration_ms",
					"track_popularity",
					"track_external_urls_spotify",
					"track_album_id",
					"track_album_name",
					"track_album_album_type",
					"track_album_release_date",
					"track_album_external_urls_spotify",
					"context_external_urls_spotify",
				},
				Renames: map[string]string{
					"track_duration_ms":                 "duration_ms",
					"track_external_urls_spotify":       "track_url",
					"track_album_id":                    "album_id",
					"track_album_name":                  "album_name",
					"track_album_album_type":            "album_type",
					"track_album_release_date":          "album_release_date",
					"track_album_external_urls_spotify": "album_url",
					"context_external_urls_spotify":     "context_url",
				},
				DeriveColumns: []string{
					"played_date", "played_time",
					"album_artists_name", "album_artists_id", "album_image",
				},
				Derive:  deriveHistory,
				Indexes: [][]string{{"played_at"}, {"track_id", "played_at"}},
			},
		},
		{
			Name:     "tracks",
			RawTable: TracksRaw,
			RawMode:  warehouse.Replace,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return fetchByID(ctx, env, HistoryFormatted, "track_id", env.Source.Track)
			},
			Format: &Format{
				Table: TracksFormatted,
				Mode:  warehouse.Replace,
				Columns: []string{
					"id", "name", "duration_ms", "popularity", "explicit",
					"external_urls_spotify", "preview_url",
					"album_id", "album_name", "album_release_date",
				},
				Renames: map[string]string{
					"external_urls_spotify": "track_url",
				},
				DeriveColumns: []string{"artist_name", "artist_id"},
				Derive:        deriveLeadArtist,
				Indexes:       [][]string{{"id"}},
			},
		},
		{
			Name:     "albums",
			RawTable: AlbumsRaw,
			RawMode:  warehouse.Replace,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return fetchByID(ctx, env, HistoryFormatted, "album_id", env.Source.Album)
			},
			Format: &Format{
				Table: AlbumsFormatted,
				Mode:  warehouse.Replace,
				Columns: []string{
					"id", "name", "album_type", "release_date",
					"total_tracks", "label", "popularity",
					"external_urls_spotify",
				},
				Renames: map[string]string{
					"external_urls_spotify": "album_url",
				},
				DeriveColumns: []string{"image_url", "artist_name", "artist_id"},
				Derive:        deriveAlbum,
				Indexes:       [][]string{{"id"}, {"release_date"}},
			},
		},
		{
			Name:     "artists",
			RawTable: ArtistsRaw,
			RawMode:  warehouse.Replace,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return fetchByID(ctx, env, HistoryFormatted, "album_artists_id", env.Source.Artist)
			},
			Format: &Format{
				Table: ArtistsFormatted,
				Mode:  warehouse.Replace,
				Columns: []string{
					"id", "name", "popularity", "followers_total",
					"genres", "external_urls_spotify",
				},
				Renames: map[string]string{
					"external_urls_spotify": "artist_url",
				},
				DeriveColumns: []string{"image_url"},
				Derive:        deriveImage,
				Indexes:       [][]string{{"id"}},
			},
		},
		{
			Name:     "followed_artists",
			RawTable: FollowedArtistsRaw,
			RawMode:  warehouse.Replace,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return env.Source.FollowedArtists(ctx)
			},
		},
		{
			Name:     "playlists",
			RawTable: PlaylistsRaw,
			RawMode:  warehouse.Replace,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return env.Source.Playlists(ctx)
			},
			Format: &Format{
				Table: PlaylistsFormatted,
				Mode:  warehouse.Replace,
				Columns: []string{
					"id", "name", "description", "public", "snapshot_id",
					"owner_id", "owner_display_name",
					"tracks_total", "external_urls_spotify",
				},
				Renames: map[string]string{
					"owner_display_name":    "owner_name",
					"tracks_total":          "total_tracks",
					"external_urls_spotify": "playlist_url",
				},
				Indexes: [][]string{{"id"}},
			},
		},
		{
			Name:     "playlist_items",
			RawTable: PlaylistItemsRaw,
			RawMode:  warehouse.Replace,
			Fetch:    fetchPlaylistItems,
		},
		{
			Name:     "artist_top_tracks",
			RawTable: ArtistTopTracksRaw,
			RawMode:  warehouse.Replace,
			Fetch:    fetchArtistTopTracks,
		},
		{
			Name:     "saved_albums",
			RawTable: SavedAlbumsRaw,
			RawMode:  warehouse.Replace,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return env.Source.SavedAlbums(ctx)
			},
		},
		{
			Name:     "new_releases",
			RawTable: NewReleasesRaw,
			RawMode:  warehouse.Replace,
			Fetch: func(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
				return env.Source.NewReleases(ctx)
			},
		},
	}
}

// fetchByID fetches one record per distinct id found in a formatted
// table's column. Ids are de-duplicated by the store; a failing id is
// logged and skipped so one bad reference never sinks the whole entity.
func fetchByID(ctx context.Context, env FetchEnv, tableName, column string, fetch func(context.Context, string) (spotify.Record, error)) ([]spotify.Record, error) {
	ids, err := env.Store.DistinctValues(ctx, tableName, column)
	if err != nil {
		return nil, err
	}

	var records []spotify.Record
	for _, id := range ids {
		rec, err := fetch(ctx, id)
		if err != nil {
			env.Logger.Warn("skipping id", "source", tableName, "id", id, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// fetchPlaylistItems fetches every playlist's items and stamps each item
// with its playlist id, so the raw rows carry their (playlist id, track
// id) natural key instead of one row per response envelope.
func fetchPlaylistItems(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
	ids, err := env.Store.DistinctValues(ctx, PlaylistsFormatted, "id")
	if err != nil {
		return nil, err
	}

	var records []spotify.Record
	for _, id := range ids {
		items, err := env.Source.PlaylistItems(ctx, id)
		if err != nil {
			env.Logger.Warn("skipping playlist", "id", id, "error", err)
			continue
		}
		for _, item := range items {
			item["playlist_id"] = id
			records = append(records, item)
		}
	}
	return records, nil
}

// fetchArtistTopTracks fetches top tracks per artist in the artist
// table, stamping each track with the artist it was ranked for.
func fetchArtistTopTracks(ctx context.Context, env FetchEnv) ([]spotify.Record, error) {
	ids, err := env.Store.DistinctValues(ctx, ArtistsFormatted, "id")
	if err != nil {
		return nil, err
	}

	var records []spotify.Record
	for _, id := range ids {
		tracks, err := env.Source.ArtistTopTracks(ctx, id)
		if err != nil {
			env.Logger.Warn("skipping artist", "id", id, "error", err)
			continue
		}
		for _, track := range tracks {
			track["top_tracks_artist_id"] = id
			records = append(records, track)
		}
	}
	return records, nil
}

// deriveHistory computes the history columns that need the structured
// record rather than its flattened text: the played-at date/time split
// and the album's lead artist and cover, which live inside lists the
// flattener would otherwise serialize to JSON text.
func deriveHistory(rec spotify.Record) table.Row {
	row := table.Row{}

	if s, ok := rec["played_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			row["played_date"] = ts.Format("2006-01-02")
			row["played_time"] = ts.Format("15:04:05")
		}
	}

	album, _ := dig(rec, "track", "album").(map[string]any)
	if album != nil {
		if first := firstMap(album["artists"]); first != nil {
			row["album_artists_name"] = first["name"]
			row["album_artists_id"] = first["id"]
		}
		if first := firstMap(album["images"]); first != nil {
			row["album_image"] = first["url"]
		}
	}
	return row
}

// deriveLeadArtist pulls the first artist's name and id off a track or
// album record.
func deriveLeadArtist(rec spotify.Record) table.Row {
	row := table.Row{}
	if first := firstMap(rec["artists"]); first != nil {
		row["artist_name"] = first["name"]
		row["artist_id"] = first["id"]
	}
	return row
}

// deriveAlbum combines the cover image with the lead artist.
func deriveAlbum(rec spotify.Record) table.Row {
	row := deriveLeadArtist(rec)
	if first := firstMap(rec["images"]); first != nil {
		row["image_url"] = first["url"]
	}
	return row
}

// deriveImage pulls the first image URL off a record.
func deriveImage(rec spotify.Record) table.Row {
	row := table.Row{}
	if first := firstMap(rec["images"]); first != nil {
		row["image_url"] = first["url"]
	}
	return row
}

// dig walks nested maps by key, returning nil as soon as a step is
// missing or not a map.
func dig(rec map[string]any, keys ...string) any {
	var cur any = rec
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// firstMap returns the first element of a list value when that element
// is a map, else nil.
func firstMap(v any) map[string]any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	first, _ := list[0].(map[string]any)
	return first
}
