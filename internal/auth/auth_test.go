package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JanekDr/music-hub/internal/catalog"
)

func TestHubSourceCachesToken(t *testing.T) {
	calls := 0
	src := NewHubSource(func(ctx context.Context) (Credential, error) {
		calls++
		return Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tok, err := src.Token(ctx)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if tok != "tok" {
			t.Fatalf("token = %q", tok)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
}

func TestHubSourceRefreshesNearExpiry(t *testing.T) {
	calls := 0
	src := NewHubSource(func(ctx context.Context) (Credential, error) {
		calls++
		// Always inside the refresh leeway.
		return Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(5 * time.Second)}, nil
	}, nil)

	ctx := context.Background()
	if _, err := src.Token(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := src.Token(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fetch called %d times, want 2", calls)
	}
}

func TestHubSourceMapsFailureToCredentialMissing(t *testing.T) {
	src := NewHubSource(func(ctx context.Context) (Credential, error) {
		return Credential{}, errors.New("hub unreachable")
	}, nil)

	_, err := src.Token(context.Background())
	if !catalog.IsCredentialMissing(err) {
		t.Fatalf("err = %v, want credential missing", err)
	}
}

func TestHubSourceEmptyTokenIsMissing(t *testing.T) {
	src := NewHubSource(func(ctx context.Context) (Credential, error) {
		return Credential{AccessToken: ""}, nil
	}, nil)

	_, err := src.Token(context.Background())
	if !catalog.IsCredentialMissing(err) {
		t.Fatalf("err = %v, want credential missing", err)
	}
}

func TestStaticSource(t *testing.T) {
	tok, err := Static("abc").Token(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("got %q, %v", tok, err)
	}
	if _, err := Static("").Token(context.Background()); !catalog.IsCredentialMissing(err) {
		t.Fatalf("empty static: err = %v", err)
	}
}

func TestRefresherStop(t *testing.T) {
	src := NewHubSource(func(ctx context.Context) (Credential, error) {
		return Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, nil)
	r := NewRefresher(src, 10*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("refresher did not stop")
	}
	// Stop is idempotent.
	r.Stop()
}
