// caddielink runs one peer of the round synchronization pair: the
// wrist-worn satellite or the handheld controller. Transport, role and
// storage come from the YAML config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairwaylabs/caddielink/internal/archive"
	"github.com/fairwaylabs/caddielink/internal/config"
	"github.com/fairwaylabs/caddielink/internal/course"
	"github.com/fairwaylabs/caddielink/internal/engine"
	"github.com/fairwaylabs/caddielink/internal/journal"
	"github.com/fairwaylabs/caddielink/internal/link"
	"github.com/fairwaylabs/caddielink/internal/maintenance"
	"github.com/fairwaylabs/caddielink/internal/pairing"
	"github.com/fairwaylabs/caddielink/internal/power"
	"github.com/fairwaylabs/caddielink/internal/telemetry"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "caddielink.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("caddielink %s (%s)\n", version, buildTime)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, logLevel := newLogger(cfg.LogLevel)
	logger.Info("starting caddielink",
		"version", version, "role", cfg.Device.Role, "transport", cfg.Link.Transport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runApp(ctx, cfg, *configPath, logger, logLevel); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal", "error", err)
		return 1
	}
	logger.Info("caddielink stopped")
	return 0
}

// loadConfig reads the config file, falling back to defaults when none
// exists so a bare binary still runs in loopback demo mode.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultConfig()
		cfg.Link.Encrypted = false
		if mkErr := os.MkdirAll(cfg.Storage.DataDir, 0750); mkErr != nil {
			return nil, mkErr
		}
		return cfg, nil
	}
	return nil, err
}

// newLogger builds the process logger around a LevelVar so a config
// reload can change the level without replacing handlers.
func newLogger(level string) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(parseLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyReload reacts to the hot-reloadable config sections: the log level
// takes effect immediately and the maintenance jobs restart on their new
// schedules.
func applyReload(c *config.Config, logLevel *slog.LevelVar, restartJobs func(*config.Config) error, logger *slog.Logger) {
	logLevel.Set(parseLevel(c.LogLevel))
	if err := restartJobs(c); err != nil {
		logger.Error("failed to restart maintenance jobs", "error", err)
	}
}

func runApp(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger, logLevel *slog.LevelVar) error {
	courses := course.NewRegistry()
	if n, errs := courses.LoadDir(cfg.Storage.CourseDir); n > 0 || len(errs) > 0 {
		for _, e := range errs {
			logger.Warn("skipping course file", "error", e)
		}
		logger.Info("courses loaded", "count", n)
	}

	jnl, err := journal.Open(cfg.JournalDir())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	var store *archive.Store
	if cfg.Device.Role == config.RoleController {
		store, err = archive.Open(ctx, cfg.ArchivePath())
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer store.Close()
	}

	peerLink, peerEnd, err := buildLink(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build link: %w", err)
	}
	defer peerLink.Close()

	battery := power.NewStatic(cfg.Sync.BatteryLevel)
	source := telemetry.NewSimulated(37.441, -122.17)

	eng := engine.New(engine.Config{
		Role:              cfg.Device.Role,
		QueueCapacity:     cfg.Sync.QueueCapacity,
		TelemetryInterval: cfg.Sync.TelemetryInterval(),
	}, peerLink, battery, source, courses, jnl, archiverOrNil(store), logger)

	// Loopback demo mode: run the opposite role in-process so a single
	// binary exercises the full pair.
	var peerEng *engine.Engine
	if peerEnd != nil {
		peerRole := config.RoleSatellite
		if cfg.Device.Role == config.RoleSatellite {
			peerRole = config.RoleController
		}
		// The demo peer drains like a real watch battery so band
		// transitions show up during a long session.
		peerBattery := power.NewDraining(1.0, 0.1, time.Minute)
		defer peerBattery.Stop()
		peerEng = engine.New(engine.Config{
			Role:              peerRole,
			QueueCapacity:     cfg.Sync.QueueCapacity,
			TelemetryInterval: cfg.Sync.TelemetryInterval(),
		}, peerEnd, peerBattery, telemetry.NewSimulated(37.441, -122.17),
			courses, nil, nil, logger)
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()
	if peerEng != nil {
		if err := peerEng.Start(ctx); err != nil {
			return err
		}
		defer peerEng.Stop()
	}

	newMaint := func(c *config.Config) *maintenance.Runner {
		return maintenance.New(maintenance.Config{
			PruneSchedule:    c.Maintenance.PruneSchedule,
			FullSyncSchedule: c.Maintenance.FullSyncSchedule,
			Retention:        time.Duration(c.Maintenance.ArchiveRetentionDays) * 24 * time.Hour,
		}, store, eng, logger)
	}
	maint := newMaint(cfg)
	if err := maint.Start(); err != nil {
		return err
	}
	defer func() { maint.Stop() }()

	restartJobs := func(c *config.Config) error {
		maint.Stop()
		maint = newMaint(c)
		return maint.Start()
	}

	// The watcher stops before the maintenance runner on shutdown, so the
	// reload callback never races the deferred Stop.
	watcher := config.NewWatcher(configPath, 10*time.Second, logger, func() {
		if _, err := cfg.Reload(configPath, logger, func(c *config.Config) {
			applyReload(c, logLevel, restartJobs, logger)
		}); err != nil {
			logger.Warn("config reload failed", "error", err)
		}
	})
	watcher.Start()
	defer watcher.Stop()

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Go(func() error {
		logEvents(ctx, eng, logger)
		return nil
	})

	return g.Wait()
}

// buildLink constructs the configured transport. The second return is
// non-nil only for loopback, where the caller runs the peer in-process.
func buildLink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (link.Link, link.Link, error) {
	secret := []byte(cfg.Device.PairingSecret)

	wrap := func(l link.Link) (link.Link, error) {
		if !cfg.Link.Encrypted {
			return l, nil
		}
		return link.Seal(l, secret)
	}

	switch cfg.Link.Transport {
	case config.LinkLoopback:
		a, b := link.NewPair()
		// The loopback pair shares memory; sealing adds nothing but
		// still exercises the same path as a real deployment.
		la, err := wrap(a)
		if err != nil {
			return nil, nil, err
		}
		lb, err := wrap(b)
		if err != nil {
			return nil, nil, err
		}
		return la, lb, nil

	case config.LinkMQTT:
		token, err := pairing.Issue(secret, cfg.Device.PairID, cfg.Device.DeviceID,
			cfg.Device.Role, pairing.DefaultExpiry)
		if err != nil {
			return nil, nil, err
		}
		opts := link.MQTTOptions{
			BrokerURL: cfg.Link.BrokerURL,
			PairID:    cfg.Device.PairID,
			DeviceID:  cfg.Device.DeviceID,
			PeerID:    cfg.Device.PeerID,
			Token:     token,
		}
		l := link.NewMQTT(opts, logger)
		if err := l.Start(opts); err != nil {
			return nil, nil, err
		}
		wrapped, err := wrap(l)
		return wrapped, nil, err

	case config.LinkWS:
		if cfg.Link.PeerURL != "" {
			token, err := pairing.Issue(secret, cfg.Device.PairID, cfg.Device.DeviceID,
				cfg.Device.Role, pairing.DefaultExpiry)
			if err != nil {
				return nil, nil, err
			}
			l, err := link.DialWS(ctx, cfg.Link.PeerURL, token, logger)
			if err != nil {
				return nil, nil, err
			}
			wrapped, err := wrap(l)
			return wrapped, nil, err
		}

		l := link.NewWS(logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/link", func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if _, err := pairing.ValidateHeader(header, secret, cfg.Device.PairID); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := l.AcceptWS(w, r); err != nil {
				logger.Warn("websocket accept failed", "error", err)
			}
		})
		srv := &http.Server{Addr: cfg.Link.ListenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("link server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		wrapped, err := wrap(l)
		return wrapped, nil, err

	default:
		return nil, nil, fmt.Errorf("unknown link transport %q", cfg.Link.Transport)
	}
}

// archiverOrNil avoids a typed-nil interface when no archive is open.
func archiverOrNil(store *archive.Store) engine.Archiver {
	if store == nil {
		return nil
	}
	return store
}

// logEvents mirrors engine state transitions into the log.
func logEvents(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eng.Events():
			if ev.Err != nil {
				logger.Warn("sync state", "state", ev.State.String(), "error", ev.Err)
				continue
			}
			logger.Debug("sync state", "state", ev.State.String())
		}
	}
}
