// Package spotify provides a raw-JSON client adapter for the Spotify Web
// API. Unlike a typed SDK wrapper it returns each item as a Record
// (decoded JSON map), so the pipeline can flatten whatever shape the API
// sends, including fields that did not exist when this code was written.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.spotify.com/v1"
	userAgent      = "soundlog/1.0"

	// pageLimit is the maximum page size the API allows on list endpoints.
	pageLimit = 50
)

// Sentinel errors.
var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited is returned when the API rate limit is exceeded after retries.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Record is one raw JSON object from the API.
type Record = map[string]any

// Client is a Spotify Web API client returning raw records.
// The http.Client must already carry OAuth2 credentials (see internal/auth).
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithRequestsPerSecond sets the upstream request rate limit.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// New creates a Client from an authenticated http.Client.
func New(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		baseURL:    defaultBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecentlyPlayed returns the listening history since the given time,
// exhausting all pages.
func (c *Client) RecentlyPlayed(ctx context.Context, after time.Time) ([]Record, error) {
	q := url.Values{
		"limit": {strconv.Itoa(pageLimit)},
		"after": {strconv.FormatInt(after.UnixMilli(), 10)},
	}
	return c.fetchAll(ctx, c.baseURL+"/me/player/recently-played?"+q.Encode(), "")
}

// Playlists returns the current user's playlists.
func (c *Client) Playlists(ctx context.Context) ([]Record, error) {
	return c.fetchAll(ctx, c.baseURL+"/me/playlists?limit="+strconv.Itoa(pageLimit), "")
}

// PlaylistItems returns the items of one playlist.
func (c *Client) PlaylistItems(ctx context.Context, playlistID string) ([]Record, error) {
	u := fmt.Sprintf("%s/playlists/%s/tracks?limit=%d", c.baseURL, url.PathEscape(playlistID), pageLimit)
	return c.fetchAll(ctx, u, "")
}

// FollowedArtists returns the artists the user follows.
// The API nests the page envelope under an "artists" key.
func (c *Client) FollowedArtists(ctx context.Context) ([]Record, error) {
	u := fmt.Sprintf("%s/me/following?type=artist&limit=%d", c.baseURL, pageLimit)
	return c.fetchAll(ctx, u, "artists")
}

// SavedAlbums returns the albums in the user's library.
func (c *Client) SavedAlbums(ctx context.Context) ([]Record, error) {
	return c.fetchAll(ctx, c.baseURL+"/me/albums?limit="+strconv.Itoa(pageLimit), "")
}

// NewReleases returns newly released albums.
// The API nests the page envelope under an "albums" key.
func (c *Client) NewReleases(ctx context.Context) ([]Record, error) {
	u := fmt.Sprintf("%s/browse/new-releases?limit=%d", c.baseURL, pageLimit)
	return c.fetchAll(ctx, u, "albums")
}

// Album returns one album by id.
func (c *Client) Album(ctx context.Context, id string) (Record, error) {
	return c.fetchOne(ctx, c.baseURL+"/albums/"+url.PathEscape(id))
}

// Track returns one track by id.
func (c *Client) Track(ctx context.Context, id string) (Record, error) {
	return c.fetchOne(ctx, c.baseURL+"/tracks/"+url.PathEscape(id))
}

// Artist returns one artist by id.
func (c *Client) Artist(ctx context.Context, id string) (Record, error) {
	return c.fetchOne(ctx, c.baseURL+"/artists/"+url.PathEscape(id))
}

// ArtistTopTracks returns an artist's top tracks as individual records.
func (c *Client) ArtistTopTracks(ctx context.Context, artistID string) ([]Record, error) {
	u := fmt.Sprintf("%s/artists/%s/top-tracks?market=from_token", c.baseURL, url.PathEscape(artistID))
	body, err := c.doRequest(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Tracks []Record `json:"tracks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing top tracks response: %w", err)
	}
	return resp.Tracks, nil
}

// page is the standard Spotify paging envelope.
type page struct {
	Items []Record `json:"items"`
	Next  string   `json:"next"`
}

// fetchAll walks a paginated endpoint until the API reports no next page,
// collecting every item. unwrap names the key the envelope is nested
// under ("" for endpoints that return the envelope at the top level).
func (c *Client) fetchAll(ctx context.Context, firstURL, unwrap string) ([]Record, error) {
	var records []Record

	next := firstURL
	for next != "" {
		body, err := c.doRequest(ctx, next)
		if err != nil {
			return nil, err
		}

		if unwrap != "" {
			var outer map[string]json.RawMessage
			if err := json.Unmarshal(body, &outer); err != nil {
				return nil, fmt.Errorf("parsing %s envelope: %w", unwrap, err)
			}
			inner, ok := outer[unwrap]
			if !ok {
				return nil, fmt.Errorf("response missing %q envelope", unwrap)
			}
			body = inner
		}

		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parsing page: %w", err)
		}

		records = append(records, p.Items...)
		next = p.Next
	}

	return records, nil
}

// fetchOne fetches a single object endpoint.
func (c *Client) fetchOne(ctx context.Context, reqURL string) (Record, error) {
	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return rec, nil
}

// doRequest performs an HTTP GET with retry on rate limit.
// Retries up to 3 times with exponential backoff (1s, 2s, 4s).
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	delays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	var lastErr error

	for attempt := 0; attempt <= len(delays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delays[attempt-1]):
			}
		}

		body, err := c.doSingleRequest(ctx, reqURL)
		if err == nil {
			return body, nil
		}

		if errors.Is(err, ErrRateLimited) {
			lastErr = err
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

// apiError is the Spotify error body: {"error": {"status": ..., "message": ...}}.
type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error %d: %s", apiErr.Error.Status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
