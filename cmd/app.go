package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"harmony/cache"
	"harmony/config"
	"harmony/core/audio"
	"harmony/core/library"
	"harmony/core/player"
	"harmony/core/worker"
	"harmony/db"
	"harmony/logger"
	"harmony/repository"

	"golang.org/x/term"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, args []string) error {
	cfg := config.Load()
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	interactive := !headless && term.IsTerminal(int(os.Stdin.Fd()))
	var console io.Writer
	if interactive {
		console = io.Discard
	}
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
		Console:    console,
	})
	defer logger.Sync()

	gormDB, err := db.ConnectGormDB(cfg)
	if err != nil {
		return err
	}
	defer db.CloseGormDB(gormDB)

	catalog := repository.NewGormTrackRepository(gormDB)
	sessions := sessionStore(cfg, gormDB)
	defer cache.CloseRedis()

	device := audio.NewSpeakerDevice(cfg.SampleRate, cfg.BufferLatency)
	engine := audio.NewEngine(device, cfg.Volume)
	defer engine.Close()

	out := newStatusPrinter(os.Stdout, interactive)
	listeners := player.Listeners{out}

	coord := player.NewCoordinator(engine, catalog, worker.NewRunner(), &listeners, player.Options{
		PollInterval: cfg.PollInterval,
		StuckPolls:   cfg.StuckPolls,
		Session:      sessions,
	})

	var watcher *library.Watcher
	if cfg.WatchLibrary && !noWatch {
		watcher, err = library.NewWatcher(catalog, coord, cfg.WatchDebounce)
		if err != nil {
			logger.Warn("library watcher disabled", logger.ErrorField(err))
		} else {
			listeners = append(listeners, watcher)
		}
	}

	coord.Start(ctx)
	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("library watcher disabled", logger.ErrorField(err))
			watcher = nil
		}
	}

	if files := expandArgs(args); len(files) > 0 {
		added, err := coord.AddFiles(ctx, files)
		if err != nil {
			logger.Error("adding command line files failed", logger.ErrorField(err))
		} else {
			logger.Info("command line files added", logger.Int("added", added), logger.Int("given", len(files)))
		}
	}

	if interactive {
		err = newConsole(coord, out).Run(ctx)
	} else {
		<-ctx.Done()
	}

	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := coord.Shutdown(shutdownCtx); serr != nil {
		logger.Error("shutdown incomplete", logger.ErrorField(serr))
	}
	logger.Info("harmony stopped")
	return err
}

// sessionStore picks redis when configured and reachable, else the catalog DB.
func sessionStore(cfg *config.Config, gormDB *gorm.DB) repository.SessionRepository {
	if cfg.RedisHost != "" {
		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Warn("redis unavailable, keeping session in the catalog database", logger.ErrorField(err))
		} else {
			return cache.NewSessionCache(cache.RedisClient)
		}
	}
	return repository.NewGormSessionRepository(gormDB)
}

// expandArgs turns directories into the audio files below them.
func expandArgs(args []string) []string {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("cannot scan", logger.String("path", path), logger.ErrorField(err))
				return nil
			}
			if !d.IsDir() && audio.SupportedExtension(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			logger.Warn("directory scan stopped", logger.String("dir", arg), logger.ErrorField(err))
		}
	}
	return files
}
