// Package auth supplies the bearer credential for the SDK-backed provider.
// The hub owns the OAuth dance; this side only fetches, caches, and
// refreshes the resulting token.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/JanekDr/music-hub/internal/catalog"
)

// Credential is the provider credential held for the SDK-backed backend.
// DeviceHandle is filled in by the driver once device registration completes.
type Credential struct {
	AccessToken  string
	ExpiresAt    time.Time
	DeviceHandle string
}

// Source yields the current access token. Drivers resolve the token at call
// time on every command, never at construction, since it may rotate.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// FetchFunc obtains a fresh credential from the hub.
type FetchFunc func(ctx context.Context) (Credential, error)

// HubSource caches the hub-issued token and refreshes it ahead of expiry.
type HubSource struct {
	fetch  FetchFunc
	leeway time.Duration
	logger *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token
}

func NewHubSource(fetch FetchFunc, logger *slog.Logger) *HubSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubSource{
		fetch:  fetch,
		leeway: 30 * time.Second,
		logger: logger,
	}
}

// Token returns a valid access token, refreshing if the cached one is absent
// or about to expire. A missing token maps to catalog.ErrCredentialMissing so
// drivers can no-op instead of surfacing an error to the user.
func (s *HubSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	if tok != nil && tok.AccessToken != "" && (tok.Expiry.IsZero() || time.Until(tok.Expiry) > s.leeway) {
		return tok.AccessToken, nil
	}
	return s.refresh(ctx)
}

func (s *HubSource) refresh(ctx context.Context) (string, error) {
	cred, err := s.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", catalog.ErrCredentialMissing, err)
	}
	if cred.AccessToken == "" {
		return "", catalog.ErrCredentialMissing
	}
	s.mu.Lock()
	s.tok = &oauth2.Token{AccessToken: cred.AccessToken, Expiry: cred.ExpiresAt}
	s.mu.Unlock()
	return cred.AccessToken, nil
}

// Refresher re-fetches the credential on a fixed interval, independent of
// playback. Failures are logged and the stale token kept; in-flight playback
// commands are never blocked or preempted.
type Refresher struct {
	src      *HubSource
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	once     sync.Once
}

func NewRefresher(src *HubSource, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{src: src, interval: interval, logger: logger, stop: make(chan struct{})}
}

// Run blocks, refreshing until Stop is called or ctx is canceled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := r.src.refresh(ctx); err != nil {
				r.logger.Warn("credential refresh failed", slog.Any("err", err))
			}
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Refresher) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// Static returns a Source that always yields the given token. Used in tests
// and for providers whose credential never rotates.
func Static(token string) Source { return staticSource(token) }

type staticSource string

func (s staticSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", catalog.ErrCredentialMissing
	}
	return string(s), nil
}
