// Package hub is the REST client for the music-hub backend: Spotify token
// hand-out, queue persistence, SoundCloud search/stream/metadata proxy.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/JanekDr/music-hub/internal/auth"
	"github.com/JanekDr/music-hub/internal/catalog"
)

type Config struct {
	BaseURL string
	// AccessToken is the hub session bearer (not the Spotify credential).
	AccessToken string
	HTTPClient  *http.Client
}

type Client struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hub: base_url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &Client{cfg: cfg, client: client}, nil
}

func (c *Client) authHeader(req *http.Request) {
	if c.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	c.authHeader(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return mapHTTPError(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return catalog.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return catalog.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return catalog.ErrRateLimited
	case resp.StatusCode >= 500:
		return catalog.ErrTemporary
	case resp.StatusCode >= 400:
		return fmt.Errorf("hub: status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("hub: decode: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// SpotifyCredential fetches the user's current Spotify access token from the
// hub, which owns refresh.
func (c *Client) SpotifyCredential(ctx context.Context) (auth.Credential, error) {
	var r struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.get(ctx, "/spotify/token/", nil, &r); err != nil {
		return auth.Credential{}, err
	}
	if r.AccessToken == "" {
		return auth.Credential{}, catalog.ErrCredentialMissing
	}
	cred := auth.Credential{AccessToken: r.AccessToken}
	if r.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return cred, nil
}

type trackPayload struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
	URL        string `json:"url"`
	Platform   string `json:"platform"`
	TrackID    string `json:"track_id"`
}

func toPayload(t catalog.Track) trackPayload {
	return trackPayload{
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		ArtworkURL: t.ArtworkURL,
		DurationMs: t.DurationMs,
		URL:        t.SourceURI,
		Platform:   string(t.Platform),
		TrackID:    t.ID,
	}
}

func (p trackPayload) toTrack() catalog.Track {
	return catalog.Track{
		ID:         p.TrackID,
		Title:      p.Title,
		Artist:     p.Artist,
		Album:      p.Album,
		ArtworkURL: p.ArtworkURL,
		DurationMs: p.DurationMs,
		SourceURI:  p.URL,
		Platform:   catalog.Platform(p.Platform),
	}
}

// AddTrack persists a track in the hub catalog and returns its persisted id.
func (c *Client) AddTrack(ctx context.Context, t catalog.Track) (string, error) {
	var r struct {
		ID json.Number `json:"id"`
	}
	if err := c.send(ctx, http.MethodPost, "/tracks/", toPayload(t), &r); err != nil {
		return "", err
	}
	return r.ID.String(), nil
}

type queueEntryPayload struct {
	ID    json.Number  `json:"id"`
	Track trackPayload `json:"track"`
}

// GetQueue returns the persisted queue snapshot, in order.
func (c *Client) GetQueue(ctx context.Context) ([]catalog.QueueEntry, error) {
	var r []struct {
		QueueTracks []queueEntryPayload `json:"queue_tracks"`
	}
	if err := c.get(ctx, "/queue/", nil, &r); err != nil {
		return nil, err
	}
	if len(r) == 0 {
		return nil, nil
	}
	entries := make([]catalog.QueueEntry, 0, len(r[0].QueueTracks))
	for _, qt := range r[0].QueueTracks {
		entries = append(entries, catalog.QueueEntry{
			EntryID: qt.ID.String(),
			Track:   qt.Track.toTrack(),
		})
	}
	return entries, nil
}

// AddToQueue appends a persisted track to the queue and returns the new
// queue entry id.
func (c *Client) AddToQueue(ctx context.Context, trackID string) (string, error) {
	var r struct {
		ID json.Number `json:"id"`
	}
	body := map[string]string{"track_id": trackID}
	if err := c.send(ctx, http.MethodPost, "/queue/add_to_queue/", body, &r); err != nil {
		return "", err
	}
	return r.ID.String(), nil
}

func (c *Client) RemoveFromQueue(ctx context.Context, entryID string) error {
	body := map[string]string{"queue_track_id": entryID}
	return c.send(ctx, http.MethodDelete, "/queue/remove_from_queue/", body, nil)
}

// ReorderQueue persists a full ordering of queue entry ids.
func (c *Client) ReorderQueue(ctx context.Context, orderedEntryIDs []string) error {
	body := map[string][]string{"queue_track_ids": orderedEntryIDs}
	return c.send(ctx, http.MethodPost, "/queue/reorder/", body, nil)
}

// ReplaceQueue clears the persisted queue and installs tracks in order,
// returning the fresh entries with their assigned ids.
func (c *Client) ReplaceQueue(ctx context.Context, tracks []catalog.Track) ([]catalog.QueueEntry, error) {
	payload := make([]trackPayload, 0, len(tracks))
	for _, t := range tracks {
		payload = append(payload, toPayload(t))
	}
	var r struct {
		QueueTracks []queueEntryPayload `json:"queue_tracks"`
	}
	body := map[string]any{"tracks": payload}
	if err := c.send(ctx, http.MethodPost, "/queue/replace/", body, &r); err != nil {
		return nil, err
	}
	entries := make([]catalog.QueueEntry, 0, len(r.QueueTracks))
	for _, qt := range r.QueueTracks {
		entries = append(entries, catalog.QueueEntry{EntryID: qt.ID.String(), Track: qt.Track.toTrack()})
	}
	return entries, nil
}

// SearchSoundCloud queries the hub's SoundCloud search proxy.
func (c *Client) SearchSoundCloud(ctx context.Context, q string, limit int) ([]catalog.Track, error) {
	if limit <= 0 {
		limit = 20
	}
	query := url.Values{}
	query.Set("q", q)
	query.Set("limit", fmt.Sprintf("%d", limit))
	var r []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Artist        string `json:"artist"`
		ImageURL      string `json:"image_url"`
		URL           string `json:"url"`
		TrackDuration int    `json:"track_duration"`
	}
	if err := c.get(ctx, "/soundcloud/search/", query, &r); err != nil {
		return nil, err
	}
	tracks := make([]catalog.Track, 0, len(r))
	for _, item := range r {
		tracks = append(tracks, catalog.Track{
			ID:         item.ID,
			Title:      item.Name,
			Artist:     item.Artist,
			ArtworkURL: item.ImageURL,
			DurationMs: item.TrackDuration,
			SourceURI:  item.URL,
			Platform:   catalog.PlatformSoundCloud,
		})
	}
	return tracks, nil
}

// SoundCloudTrackInfo fetches display metadata for one SoundCloud track id.
func (c *Client) SoundCloudTrackInfo(ctx context.Context, trackID string) (catalog.Track, error) {
	query := url.Values{}
	query.Set("track_id", trackID)
	var r struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Artist   string `json:"artist"`
		ImageURL string `json:"image_url"`
		URL      string `json:"url"`
	}
	if err := c.get(ctx, "/soundcloud/get_track_data/", query, &r); err != nil {
		return catalog.Track{}, err
	}
	return catalog.Track{
		ID:         r.ID,
		Title:      r.Name,
		Artist:     r.Artist,
		ArtworkURL: r.ImageURL,
		SourceURI:  r.URL,
		Platform:   catalog.PlatformSoundCloud,
	}, nil
}

// SoundCloudStreamURL derives the hub-proxied stream URL for a track id.
// No network call: the hub resolves the upstream stream on demand.
func (c *Client) SoundCloudStreamURL(trackID string) string {
	return fmt.Sprintf("%s/soundcloud/stream/%s/", c.cfg.BaseURL, url.PathEscape(trackID))
}

func mapHTTPError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return catalog.ErrTemporary
	}
	return err
}
