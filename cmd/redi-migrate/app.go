package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rediwo/redi-migrate/config"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

// app carries the resolved configuration of one invocation.
type app struct {
	configPath string
	cfg        *config.Config
	// flag values, applied over the file when set
	flags      config.Config
	policy     string
	dryRun     bool
	schemaOnly bool
	log        logger.Logger
}

func (a *app) bindGlobal(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "configuration file (default "+config.DefaultPath+" when present)")
	f.StringVar(&a.flags.URI, "uri", "", "storage URI, e.g. mongodb://localhost:27017/app")
	f.StringVar(&a.flags.StateURI, "state-uri", "", "state store URI (defaults to --uri)")
	f.StringVar(&a.flags.StateCollection, "state-collection", "", "collection or table prefix holding migration state")
	f.StringVar(&a.flags.MigrationsDir, "migrations-dir", "", "migrations directory")
	f.StringVar(&a.flags.BackendVersion, "backend-version", "", "override the server version used for capability checks")
	f.StringVar(&a.flags.LogLevel, "log-level", "", "debug, info, warn, error or none")
}

func bindApply(cmd *cobra.Command, a *app) {
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, "print the storage commands instead of running them")
	cmd.Flags().BoolVar(&a.schemaOnly, "schema-only", false, "update the stored schema without touching records")
	cmd.Flags().IntVar(&a.flags.BatchSize, "batch-size", 0, "records per batch when iterating")
	cmd.Flags().IntVar(&a.flags.Workers, "workers", 0, "parallel batch workers")
	cmd.Flags().DurationVar(&a.flags.LockTTL, "lock-ttl", 0, "lease taken on the state store")
}

// load reads the configuration file and applies the flags set on cmd.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("uri", func() { cfg.URI = a.flags.URI })
	set("state-uri", func() { cfg.StateURI = a.flags.StateURI })
	set("state-collection", func() { cfg.StateCollection = a.flags.StateCollection })
	set("migrations-dir", func() { cfg.MigrationsDir = a.flags.MigrationsDir })
	set("backend-version", func() { cfg.BackendVersion = a.flags.BackendVersion })
	set("log-level", func() { cfg.LogLevel = a.flags.LogLevel })
	set("batch-size", func() { cfg.BatchSize = a.flags.BatchSize })
	set("workers", func() { cfg.Workers = a.flags.Workers })
	set("lock-ttl", func() { cfg.LockTTL = a.flags.LockTTL })
	set("models", func() { cfg.Models = a.flags.Models })
	set("policy", func() { cfg.Policy = types.Policy(a.policy) })
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.Setup("migrate", cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func (a *app) runOptions() migration.RunOptions {
	return migration.RunOptions{
		DryRun:         a.dryRun,
		SchemaOnly:     a.schemaOnly,
		BackendVersion: a.cfg.BackendVersion,
		BatchSize:      a.cfg.BatchSize,
		Workers:        a.cfg.Workers,
		LockTTL:        a.cfg.LockTTL,
		Owner:          owner(),
	}
}

func owner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// session holds the open connections of a command.
type session struct {
	manager *migration.Manager
	store   state.Store
	storage types.Storage
	// writer is a second connection to the storage URI; record rewrites go
	// through it while storage keeps the iterating cursors.
	writer types.Storage
}

func (s *session) close(ctx context.Context, log logger.Logger) {
	if s.writer != nil {
		if err := s.writer.Close(ctx); err != nil {
			log.Warn("Failed to close storage writer: %v", err)
		}
	}
	if s.storage != nil {
		if err := s.storage.Close(ctx); err != nil {
			log.Warn("Failed to close storage: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(ctx); err != nil {
			log.Warn("Failed to close state store: %v", err)
		}
	}
}

// open connects what a command needs. Commands that only read migration
// files pass withState and withStorage false.
func (a *app) open(ctx context.Context, withState, withStorage bool) (*session, error) {
	s := &session{}
	if withState || withStorage {
		if a.cfg.URI == "" && a.cfg.StateURI == "" {
			return nil, fmt.Errorf("a storage URI is required (--uri or uri in the configuration file)")
		}
	}
	if withState {
		store, err := registry.OpenState(ctx, a.cfg.EffectiveStateURI(), a.cfg.StateCollection)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	if withStorage {
		storage, err := registry.OpenStorage(ctx, a.cfg.URI, a.log)
		if err != nil {
			s.close(ctx, a.log)
			return nil, err
		}
		s.storage = storage

		writer, err := registry.OpenStorage(ctx, a.cfg.URI, a.log)
		if err != nil {
			s.close(ctx, a.log)
			return nil, err
		}
		s.writer = writer
	}
	s.manager = migration.NewManager(s.store, s.storage, s.writer, a.log, migration.Options{
		MigrationsDir: a.cfg.MigrationsDir,
		Policy:        a.cfg.Policy,
		Run:           a.runOptions(),
	})
	return s, nil
}
