package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/scottdensmore/VirtualBuddy/internal/activity"
	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
	"github.com/scottdensmore/VirtualBuddy/internal/config"
	"github.com/scottdensmore/VirtualBuddy/internal/database"
	"github.com/scottdensmore/VirtualBuddy/internal/event"
	"github.com/scottdensmore/VirtualBuddy/internal/library"
	"github.com/scottdensmore/VirtualBuddy/internal/logging"
	"github.com/scottdensmore/VirtualBuddy/internal/scanner"
	"github.com/scottdensmore/VirtualBuddy/internal/settings"
	"github.com/scottdensmore/VirtualBuddy/internal/trash"
	"github.com/scottdensmore/VirtualBuddy/internal/version"
	"github.com/scottdensmore/VirtualBuddy/internal/watcher"
)

// app holds the services shared by every command.
type app struct {
	cfg      *config.Config
	logMgr   *logging.Manager
	logger   *slog.Logger
	db       *sql.DB
	bus      *event.Bus
	settings *settings.Store
	activity *activity.Recorder
	scanner  *scanner.Service
	root     string
}

func setup(ctx context.Context, configPath string, verbose bool) (*app, error) {
	if configPath == "" {
		configPath = config.Path()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logMgr, logger := logging.NewManager(logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.File,
	}, nil)
	if verbose {
		logMgr.SetLevel("debug")
	}
	slog.SetDefault(logger)

	db, err := database.Open(ctx, cfg.Database.Path)
	if err != nil {
		logMgr.Close() //nolint:errcheck
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()     //nolint:errcheck
		logMgr.Close() //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("database ready", slog.String("path", cfg.Database.Path))

	store := settings.NewStore(db)
	root, err := store.LibraryRoot(ctx, cfg.Library.Path)
	if err != nil {
		db.Close()     //nolint:errcheck
		logMgr.Close() //nolint:errcheck
		return nil, fmt.Errorf("reading library root: %w", err)
	}

	bus := event.NewBus(logger, 256)
	recorder := activity.NewRecorder(db, logger)
	recorder.Attach(bus)
	go bus.Start()

	return &app{
		cfg:      cfg,
		logMgr:   logMgr,
		logger:   logger,
		db:       db,
		bus:      bus,
		settings: store,
		activity: recorder,
		root:     root,
	}, nil
}

// close drains the event bus before closing the database so every
// operation reaches the journal.
func (a *app) close() {
	a.bus.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", "error", err)
	}
	a.logMgr.Close() //nolint:errcheck
}

func (a *app) newLibrary(watch bool) *library.Library {
	loader := bundle.DirLoader{}
	a.scanner = scanner.NewService(loader, a.logger, a.cfg.Scanner.Workers)
	deps := library.Deps{
		Scanner:  a.scanner,
		Loader:   loader,
		EventBus: a.bus,
		Logger:   a.logger,
	}
	if can, err := trash.Default(); err != nil {
		a.logger.Warn("trash unavailable", "error", err)
	} else {
		a.logger.Debug("trash ready", "dir", can.FilesDir())
		deps.Recycler = can
	}
	if watch {
		deps.Watcher = watcher.NewService(a.logger, watcher.Options{
			PollInterval: a.cfg.Watch.PollInterval,
			ProbeTimeout: a.cfg.Watch.ProbeTimeout,
		}, nil)
		deps.Debouncer = watcher.NewDebouncer(a.cfg.Watch.Debounce, a.cfg.Watch.MaxDelay, nil, a.logger)
	}
	return library.New(a.root, deps)
}

// start runs lib in the background and waits for the scan Run starts
// with. The returned func stops it.
func (a *app) start(ctx context.Context, lib *library.Library) (func(), error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		lib.Run(runCtx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	if err := lib.WaitLoaded(ctx); err != nil {
		stop()
		return nil, err
	}
	return stop, nil
}

// open starts a library without a watch and returns its loaded state.
func (a *app) open(ctx context.Context) (*library.Library, func(), error) {
	lib := a.newLibrary(false)
	stop, err := a.start(ctx, lib)
	if err != nil {
		return nil, nil, err
	}
	st := lib.State()
	if st.Status == library.StatusFailed {
		stop()
		return nil, nil, fmt.Errorf("loading library: %w", st.Err)
	}
	return lib, stop, nil
}

func logStartup(logger *slog.Logger, root string) {
	logger.Info("vbuddy starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("root", root))
}
