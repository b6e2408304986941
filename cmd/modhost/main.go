package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/config"
	"github.com/dimworks/modhost/engine"
	"github.com/dimworks/modhost/host"
	"github.com/dimworks/modhost/world"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "", "Path to module manifest (YAML)")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
		ticks        = flag.Int("ticks", 0, "Run N ticks then exit (0 = run until interrupted)")
	)
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: modhost -manifest <modules.yaml> [-ticks n]")
		fmt.Fprintln(os.Stderr, "       modhost -manifest <modules.yaml> -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(*manifestPath, *interactive, *ticks); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(manifestPath string, interactive bool, ticks int) error {
	envCfg, err := config.LoadEnv()
	if err != nil {
		return err
	}
	manifest, err := config.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(envCfg.LogLevel, interactive)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	engine.SetLogger(logger.Named("engine"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, &engine.Config{MemoryLimitPages: envCfg.MemoryLimitPages})
	if err != nil {
		return err
	}
	defer eng.Close(ctx) //nolint:errcheck

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode requires a terminal")
		}
		return runInteractive(ctx, eng, envCfg, manifest, manifestPath)
	}

	h := host.New(world.New(), host.Config{
		Factory:   eng.Factory(ctx),
		Messenger: zapMessenger(logger),
		Logger:    logger,
	})
	files := loadModules(h, manifest, manifestPath, logger)
	return runHeadless(ctx, h, files, envCfg, ticks, logger)
}

// moduleFile tracks one module's bytecode on disk for hot reload.
type moduleFile struct {
	id    world.EntityID
	path  string
	mtime time.Time
}

// loadModules spawns every manifest entry and attaches its bytecode.
// A missing bytecode file leaves the module spawned with no program.
func loadModules(h *host.Host, m *config.Manifest, manifestPath string, logger *zap.Logger) []*moduleFile {
	base := filepath.Dir(manifestPath)
	files := make([]*moduleFile, 0, len(m.Modules))

	for _, entry := range m.Modules {
		path := entry.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}

		id := h.SpawnModule(entry.Name, entry.Description, entry.Enabled)
		mf := &moduleFile{id: id, path: path}
		files = append(files, mf)

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("bytecode unavailable",
				zap.String("module", entry.Name), zap.Error(err))
			continue
		}
		h.SetBytecode(id, data)
		if info, err := os.Stat(path); err == nil {
			mf.mtime = info.ModTime()
		}
	}
	return files
}

// pollModules re-reads any bytecode file whose mtime changed and schedules
// a hot swap on the simulation goroutine.
func pollModules(h *host.Host, files []*moduleFile, logger *zap.Logger) {
	for _, mf := range files {
		info, err := os.Stat(mf.path)
		if err != nil || !info.ModTime().After(mf.mtime) {
			continue
		}
		mf.mtime = info.ModTime()

		data, err := os.ReadFile(mf.path)
		if err != nil {
			logger.Warn("bytecode re-read failed",
				zap.String("path", mf.path), zap.Error(err))
			continue
		}

		id := mf.id
		h.Defer(func() {
			h.SetBytecode(id, data)
			h.Reload(id)
		})
		logger.Info("bytecode changed, reloading",
			zap.String("path", mf.path), zap.Uint64("module", uint64(id)))
	}
}

func runHeadless(ctx context.Context, h *host.Host, files []*moduleFile, cfg config.Env, ticks int, logger *zap.Logger) error {
	interval := time.Second / time.Duration(cfg.TickRate)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Tick loop: the simulation goroutine. It alone touches the host.
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		n := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				h.Tick(interval)
				n++
				if ticks > 0 && n >= ticks {
					cancel()
					return nil
				}
			}
		}
	})

	// Hot-reload poller: reads files and reaches the host only through
	// the deferred queue.
	g.Go(func() error {
		if cfg.PollInterval <= 0 || len(files) == 0 {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(time.Duration(cfg.PollInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				pollModules(h, files, logger)
			}
		}
	})

	logger.Info("simulation running",
		zap.Int("tick_rate", cfg.TickRate), zap.Int("modules", len(files)))
	return g.Wait()
}

// zapMessenger adapts host notifications onto the process logger.
func zapMessenger(logger *zap.Logger) modhost.Messenger {
	return func(w *world.World, id world.EntityID, kind modhost.MessageKind, text string) {
		fields := []zap.Field{
			zap.Uint64("module", uint64(id)),
			zap.String("name", w.GetString(id, "name")),
		}
		switch kind {
		case modhost.Error:
			logger.Error(text, fields...)
		case modhost.Warn:
			logger.Warn(text, fields...)
		case modhost.Stderr:
			logger.Warn(text, append(fields, zap.String("stream", "stderr"))...)
		case modhost.Stdout:
			logger.Info(text, append(fields, zap.String("stream", "stdout"))...)
		default:
			logger.Info(text, fields...)
		}
	}
}

func buildLogger(level string, interactive bool) (*zap.Logger, error) {
	if interactive {
		// The TUI owns the terminal; messenger output goes to the
		// in-screen log instead.
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
