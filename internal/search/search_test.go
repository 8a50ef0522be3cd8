package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JanekDr/music-hub/internal/auth"
	"github.com/JanekDr/music-hub/internal/catalog"
)

type fakeSC struct {
	tracks []catalog.Track
	err    error
}

func (f *fakeSC) SearchSoundCloud(ctx context.Context, q string, limit int) ([]catalog.Track, error) {
	return f.tracks, f.err
}

func spotifySearchServer(t *testing.T, items []map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("type"); got != "track" {
			t.Errorf("type = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tracks": map[string]any{"items": items},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchMergesBothProviders(t *testing.T) {
	srv := spotifySearchServer(t, []map[string]any{{
		"id": "sp1", "name": "One", "uri": "spotify:track:sp1", "duration_ms": 200000,
		"artists": []map[string]any{{"name": "A"}},
		"album":   map[string]any{"name": "Album", "images": []map[string]any{{"url": "http://img"}}},
	}})
	sc := &fakeSC{tracks: []catalog.Track{{ID: "77", Title: "Two", Platform: catalog.PlatformSoundCloud}}}

	svc := New(Config{
		SpotifyAPIBaseURL: srv.URL,
		Tokens:            auth.Static("tok"),
		SoundCloud:        sc,
	})
	res, err := svc.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Spotify) != 1 || len(res.SoundCloud) != 1 {
		t.Fatalf("results = %d/%d", len(res.Spotify), len(res.SoundCloud))
	}
	got := res.Spotify[0]
	if got.Artist != "A" || got.SourceURI != "spotify:track:sp1" || got.ArtworkURL != "http://img" {
		t.Fatalf("spotify track = %+v", got)
	}
	if got.Platform != catalog.PlatformSpotify {
		t.Fatalf("platform = %v", got.Platform)
	}
}

func TestOneProviderFailingKeepsTheOther(t *testing.T) {
	srv := spotifySearchServer(t, nil)
	sc := &fakeSC{err: errors.New("proxy down")}

	svc := New(Config{
		SpotifyAPIBaseURL: srv.URL,
		Tokens:            auth.Static("tok"),
		SoundCloud:        sc,
	})
	res, err := svc.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("one-sided failure should not error: %v", err)
	}
	if res.SoundCloud != nil {
		t.Fatalf("failed provider returned results")
	}
}

func TestMissingCredentialFailsSpotifyOnly(t *testing.T) {
	sc := &fakeSC{tracks: []catalog.Track{{ID: "77", Platform: catalog.PlatformSoundCloud}}}
	svc := New(Config{
		SpotifyAPIBaseURL: "http://127.0.0.1:0",
		Tokens:            auth.Static(""),
		SoundCloud:        sc,
	})
	res, err := svc.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Spotify) != 0 || len(res.SoundCloud) != 1 {
		t.Fatalf("results = %d/%d", len(res.Spotify), len(res.SoundCloud))
	}
}

func TestBothProvidersFailingErrors(t *testing.T) {
	sc := &fakeSC{err: errors.New("proxy down")}
	svc := New(Config{
		SpotifyAPIBaseURL: "http://127.0.0.1:0",
		Tokens:            auth.Static(""),
		SoundCloud:        sc,
	})
	if _, err := svc.Search(context.Background(), "query"); err == nil {
		t.Fatalf("expected error when both providers fail")
	}
}
