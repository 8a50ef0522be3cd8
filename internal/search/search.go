// Package search queries both providers. Each provider is searched
// independently; one provider failing does not empty the other's results.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/JanekDr/music-hub/internal/auth"
	"github.com/JanekDr/music-hub/internal/catalog"
)

const defaultSpotifyAPIBaseURL = "https://api.spotify.com/v1"

// soundCloudSearcher is the slice of the hub client search needs.
type soundCloudSearcher interface {
	SearchSoundCloud(ctx context.Context, q string, limit int) ([]catalog.Track, error)
}

type Config struct {
	// SpotifyAPIBaseURL overrides the search endpoint base (tests).
	SpotifyAPIBaseURL string
	Tokens            auth.Source
	SoundCloud        soundCloudSearcher
	HTTPClient        *http.Client
	Logger            *slog.Logger
	Limit             int
}

type Service struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Service {
	if cfg.SpotifyAPIBaseURL == "" {
		cfg.SpotifyAPIBaseURL = defaultSpotifyAPIBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &Service{cfg: cfg, client: client}
}

// Search fans out to both providers concurrently. A provider error leaves
// its side of the results empty and is logged, not returned, unless both
// providers fail.
func (s *Service) Search(ctx context.Context, query string) (catalog.SearchResults, error) {
	var (
		wg      sync.WaitGroup
		results catalog.SearchResults
		spotErr error
		scErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results.Spotify, spotErr = s.searchSpotify(ctx, query)
	}()
	go func() {
		defer wg.Done()
		results.SoundCloud, scErr = s.cfg.SoundCloud.SearchSoundCloud(ctx, query, s.cfg.Limit)
	}()
	wg.Wait()

	if spotErr != nil {
		s.cfg.Logger.Warn("spotify search failed", slog.Any("err", spotErr))
	}
	if scErr != nil {
		s.cfg.Logger.Warn("soundcloud search failed", slog.Any("err", scErr))
	}
	if spotErr != nil && scErr != nil {
		return results, fmt.Errorf("search %q: %w", query, spotErr)
	}
	return results, nil
}

func (s *Service) searchSpotify(ctx context.Context, query string) ([]catalog.Track, error) {
	token, err := s.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", strconv.Itoa(s.cfg.Limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.SpotifyAPIBaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, catalog.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, catalog.ErrRateLimited
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("spotify search: status %d", resp.StatusCode)
	}

	var r struct {
		Tracks struct {
			Items []struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				URI        string `json:"uri"`
				DurationMs int    `json:"duration_ms"`
				Artists    []struct {
					Name string `json:"name"`
				} `json:"artists"`
				Album struct {
					Name   string `json:"name"`
					Images []struct {
						URL string `json:"url"`
					} `json:"images"`
				} `json:"album"`
			} `json:"items"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("spotify search: decode: %w", err)
	}

	tracks := make([]catalog.Track, 0, len(r.Tracks.Items))
	for _, item := range r.Tracks.Items {
		t := catalog.Track{
			ID:         item.ID,
			Title:      item.Name,
			Album:      item.Album.Name,
			DurationMs: item.DurationMs,
			SourceURI:  item.URI,
			Platform:   catalog.PlatformSpotify,
		}
		if len(item.Artists) > 0 {
			t.Artist = item.Artists[0].Name
		}
		if len(item.Album.Images) > 0 {
			t.ArtworkURL = item.Album.Images[0].URL
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
