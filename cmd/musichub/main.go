package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JanekDr/music-hub/internal/adapter/soundcloud"
	"github.com/JanekDr/music-hub/internal/adapter/spotify"
	"github.com/JanekDr/music-hub/internal/app"
	"github.com/JanekDr/music-hub/internal/auth"
	"github.com/JanekDr/music-hub/internal/config"
	"github.com/JanekDr/music-hub/internal/hub"
	"github.com/JanekDr/music-hub/internal/logging"
	"github.com/JanekDr/music-hub/internal/orchestrator"
	"github.com/JanekDr/music-hub/internal/player"
	"github.com/JanekDr/music-hub/internal/queue"
	"github.com/JanekDr/music-hub/internal/search"
)

var version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `MusicHub - one queue across Spotify and SoundCloud

Usage: musichub [options]

Options:
  -config string
        Path to config file (default: ~/.config/musichub/config.toml)
  -version
        Print version and exit

Diagnostics:
  -doctor
        Check configuration and dependencies

Examples:
  musichub                   # Start interactive TUI
  musichub --doctor          # Check setup

`)
	}

	cfgPath := flag.String("config", "", "")
	doctor := flag.Bool("doctor", false, "")
	showVersion := flag.Bool("version", false, "")
	flag.Parse()

	if *showVersion {
		fmt.Println("musichub", version)
		return
	}

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, logFile, err := logging.Setup()
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer logFile.Close()
	logger.Info("starting musichub", slog.String("config", resolvedPath))

	if *doctor {
		runDoctor(cfg)
		return
	}

	hubClient, err := hub.New(hub.Config{
		BaseURL:     cfg.Hub.BaseURL,
		AccessToken: cfg.Hub.AccessToken,
	})
	if err != nil {
		log.Fatalf("hub client: %v", err)
	}

	tokens := auth.NewHubSource(hubClient.SpotifyCredential, logger)
	refresher := auth.NewRefresher(tokens,
		time.Duration(cfg.Spotify.TokenRefreshMinutes)*time.Minute, logger)
	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	go refresher.Run(refreshCtx)
	defer cancelRefresh()

	ctrl := player.New(player.Options{
		MPVPath: cfg.Player.MPVPath,
		IPCPath: cfg.Player.IPC,
		Logger:  logger,
	})
	if err := ctrl.Start(context.Background()); err != nil {
		logger.Error("start player", slog.Any("err", err))
		log.Fatalf("start player: %v", err)
	}
	defer ctrl.Shutdown()

	var store *queue.SnapshotStore
	if cfg.Queue.Persist {
		store, err = queue.NewSnapshotStore(cfg.Queue.DBPath)
		if err != nil {
			logger.Warn("queue snapshot store unavailable", slog.Any("err", err))
		} else {
			defer store.Close()
		}
	}

	orchOpts := orchestrator.Options{
		Hub:    hubClient,
		Logger: logger,
		Volume: float64(cfg.Player.InitialVolume) / 100,
	}
	if store != nil {
		orchOpts.Store = store
	}
	orch := orchestrator.New(orchOpts)

	scDriver := soundcloud.New(ctrl, hubClient, orch.CurrentEntry, orch, logger)
	orch.Register(scDriver)

	spDriver := spotify.New(spotify.Config{
		Tokens:       tokens,
		Logger:       logger,
		DeviceName:   cfg.Spotify.DeviceName,
		PollInterval: time.Duration(cfg.Spotify.PollIntervalMs) * time.Millisecond,
	}, orch.CurrentEntry, orch)
	orch.Register(spDriver)
	defer spDriver.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := scDriver.Initialize(initCtx); err != nil {
		logger.Warn("soundcloud driver init failed", slog.Any("err", err))
	}
	if err := spDriver.Initialize(initCtx); err != nil {
		logger.Warn("spotify driver init failed", slog.Any("err", err))
	}
	cancelInit()

	svc := search.New(search.Config{
		Tokens:     tokens,
		SoundCloud: hubClient,
		Logger:     logger,
		Limit:      cfg.UI.PageSize,
	})

	model := app.New(cfg, orch, svc)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		logger.Error("run tui", slog.Any("err", err))
		log.Fatalf("tui: %v", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	orch.StopAll(shutdownCtx)
	cancelShutdown()
}

func runDoctor(cfg *config.Config) {
	fmt.Println("MusicHub doctor")
	fmt.Println("Config file: OK")

	mpvPath, err := exec.LookPath(cfg.Player.MPVPath)
	if err != nil {
		fmt.Printf("mpv (%s): NOT FOUND\n", cfg.Player.MPVPath)
	} else {
		fmt.Printf("mpv: OK (%s)\n", mpvPath)
	}

	hubClient, err := hub.New(hub.Config{BaseURL: cfg.Hub.BaseURL, AccessToken: cfg.Hub.AccessToken})
	if err != nil {
		fmt.Printf("Hub: ERROR - %v\n", err)
		return
	}
	ctx, cancel := cfg.DeadlineContext()
	defer cancel()
	if _, err := hubClient.GetQueue(ctx); err != nil {
		fmt.Printf("Hub (%s): UNREACHABLE - %v\n", cfg.Hub.BaseURL, err)
	} else {
		fmt.Printf("Hub: OK (%s)\n", cfg.Hub.BaseURL)
	}

	if _, err := hubClient.SpotifyCredential(ctx); err != nil {
		fmt.Println("Spotify credential: NOT AVAILABLE (connect your account in the hub)")
	} else {
		fmt.Println("Spotify credential: OK")
	}
}
