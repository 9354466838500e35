package main

import (
	"fmt"
	"os"
	"path/filepath"

	"kiln/internal/config"
	"kiln/internal/execution"
	"kiln/internal/hashing"
	"kiln/internal/history"
	"kiln/internal/identity"
	"kiln/internal/logging"
	"kiln/internal/pack"
	"kiln/internal/snapshotter"
	"kiln/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// engine holds everything a command needs for one workspace.
type engine struct {
	root   string
	cfg    *config.Config
	logger *logging.Logger
	fs     afero.Fs

	db        *badger.DB
	store     storage.Store
	hashes    *hashing.Cache
	snapshots *snapshotter.Snapshotter
	history   *history.Store
	keys      *identity.Provider
	runner    *execution.SkipUpToDate
}

// workspaceRoot is the nearest directory holding kiln state, or the working
// directory when there is none.
func workspaceRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	if root, err := config.FindRoot(cwd); err == nil {
		return root, nil
	}
	return cwd, nil
}

func openEngine() (*engine, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Resolve(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	db, err := storage.OpenDB(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	e := &engine{root: root, cfg: cfg, logger: logger, fs: afero.NewOsFs(), db: db}

	e.hashes, err = hashing.NewCache(e.fs, cfg.Hashing.MemoEntries, hashing.NewBadgerMemo(db), logger.Named("hash"))
	if err != nil {
		return nil, multierr.Append(err, e.Close())
	}
	e.snapshots = snapshotter.New(e.hashes, logger.Named("snapshot"))
	e.history = history.NewStore(db)
	e.keys = identity.NewProvider(e.snapshots, logger.Named("identity"))

	var next execution.Executer = execution.NewDirect(logger.Logger)
	if cfg.Cache.Enabled {
		store, err := e.openStore()
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("opening result store: %w", err), e.Close())
		}
		e.store = store
		packer, err := pack.New(e.fs, pack.CompressionOptions{
			MinSize: cfg.Compression.MinSize,
			Level:   cfg.Compression.Level,
		})
		if err != nil {
			return nil, multierr.Append(err, e.Close())
		}
		next = execution.NewSkipCached(e.keys, e.store, packer, next, logger.Named("cache"))
	}
	e.runner = execution.NewSkipUpToDate(e.history, e.snapshots, e.fs, next, logger.Named("history"))
	return e, nil
}

// openStore shares the state database when the badger cache points at it.
func (e *engine) openStore() (storage.Store, error) {
	if e.cfg.Cache.Backend == config.BackendBadger && filepath.Clean(e.cfg.Cache.Path) == filepath.Clean(e.cfg.State.Path) {
		s := storage.NewBadgerStore(e.db)
		if e.cfg.Cache.MemoryEntries <= 0 {
			return s, nil
		}
		cached, err := storage.NewCachedStore(s, e.cfg.Cache.MemoryEntries)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return storage.Open(e.cfg, e.fs)
}

func (e *engine) Close() error {
	var err error
	if e.store != nil {
		err = multierr.Append(err, e.store.Close())
	}
	if e.db != nil {
		err = multierr.Append(err, e.db.Close())
	}
	_ = e.logger.Sync()
	return err
}
