package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"golang.org/x/sync/errgroup"

	"github.com/AkshayRaman/nTorrent/internal/config"
	"github.com/AkshayRaman/nTorrent/internal/engine"
	"github.com/AkshayRaman/nTorrent/internal/logger"
	"github.com/AkshayRaman/nTorrent/internal/publisher"
	"github.com/AkshayRaman/nTorrent/internal/repository"
	"github.com/AkshayRaman/nTorrent/internal/transport"
)

func main() {
	torrent := flag.String("torrent", "", "Base name of the torrent, e.g. /AkshayRaman/linux-dist")
	publish := flag.String("publish", "", "Publish the files under this directory and seed them")
	seed := flag.Bool("seed", false, "Keep seeding after the download completes")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *torrent == "" {
		log.Fatalf("a -torrent base name is required")
	}

	baseName, err := enc.NameFromStr(*torrent)
	if err != nil || len(baseName) == 0 {
		log.Fatalf("invalid torrent name %q: %v", *torrent, err)
	}

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v\n", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Error creating data directory: %v\n", err)
	}

	err = logger.InitLogging(*debug || cfg.Debug, cfg.LogPath)
	if err != nil {
		log.Fatalf("Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	dataDir := filepath.Join(cfg.DataDir, filepath.FromSlash(baseName.String()))

	if *publish != "" {
		if err := publisher.Generate(baseName, *publish, dataDir, publisher.Options{}); err != nil {
			log.Fatalf("Error publishing %s: %v\n", *publish, err)
		}

		*seed = true
	}

	repo, err := repository.NewSessionRepository(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		log.Fatalf("Error creating repository: %v\n", err)
	}
	defer repo.Close()

	paths := make([]enc.Name, 0, len(cfg.Paths))

	for _, p := range cfg.Paths {
		pn, err := enc.NameFromStr(p)
		if err != nil {
			log.Fatalf("invalid path %q in config: %v", p, err)
		}

		paths = append(paths, pn)
	}

	mgr, err := engine.New(engine.Config{
		TorrentName:     baseName,
		DataDir:         dataDir,
		Seed:            *seed || cfg.Seed,
		Paths:           paths,
		MaxRetries:      cfg.MaxRetries,
		SortingInterval: cfg.SortingInterval,
		WindowSize:      cfg.WindowSize,
		DispatchRate:    cfg.DispatchRate,
	}, transport.NewLoopback(), repo)
	if err != nil {
		log.Fatalf("Error creating manager: %v\n", err)
	}

	if err := mgr.Initialize(); err != nil {
		log.Fatalf("Error initializing manager: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr.DownloadAll()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pump(ctx, mgr, *seed || cfg.Seed)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Errorf("event loop: %v", err)
	}

	if err := mgr.Shutdown(); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// pump drives the manager's event loop until the transfer finishes or the
// context is cancelled. In seed mode it runs until cancelled.
func pump(ctx context.Context, mgr *engine.Manager, seed bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := mgr.ProcessEvents(100 * time.Millisecond)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if ev.Kind == engine.EventFailed {
				logger.Warnf("failed: %s (%s)", ev.Name.String(), ev.Reason)
			} else {
				logger.Debugf("received %s %s", ev.Kind, ev.Name.String())
			}
		}

		if mgr.Complete() && !seed {
			logger.Infof("transfer complete: %s", mgr.BaseName().String())
			return nil
		}
	}
}
