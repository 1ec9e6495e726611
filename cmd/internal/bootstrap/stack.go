// Package bootstrap assembles the services shared by the solfind binaries
// from a loaded config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"solfind/client"
	"solfind/cmd/internal/ledgerdial"
	"solfind/config"
	"solfind/core/events"
	"solfind/observability"
	"solfind/services/recon"
	"solfind/services/submissions"
	"solfind/services/submissions/media"
)

// Stack is the wired set of services a binary runs on.
type Stack struct {
	Config       *config.Config
	Logger       *slog.Logger
	DB           *gorm.DB
	Ledger       ledgerdial.Ledger
	Orchestrator *client.Orchestrator
	Listings     *submissions.Service

	redis   *redis.Client
	closers []func() error
}

// Options tune Open.
type Options struct {
	// Emitter receives ledger and workflow events. Every event is also
	// counted in the events metric.
	Emitter  events.Emitter
	Observer client.Observer
	// NoMedia skips the media backend. Uploads then fail with
	// submissions.ErrMediaDisabled.
	NoMedia bool
}

// Open dials the ledger, opens and migrates the store and builds the
// orchestrator and listing service. On error everything opened so far is
// closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *Stack, err error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	emitter := events.Emitter(observability.CountingEmitter{Next: opts.Emitter})
	s := &Stack{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.Ledger, err = ledgerdial.FromConfig(cfg, emitter, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Ledger.Close)

	programID, err := cfg.ProgramID()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: program id: %w", err)
	}
	s.Orchestrator, err = client.New(client.Config{
		Ledger:         s.Ledger,
		ProgramID:      programID,
		PollInterval:   cfg.PollInterval(),
		ConfirmTimeout: cfg.ConfirmTimeout(),
		Observer:       opts.Observer,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	s.DB, err = submissions.Open(cfg.Store.Driver, cfg.Store.DSN, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if sqlDB, dbErr := s.DB.DB(); dbErr == nil {
		s.closers = append(s.closers, sqlDB.Close)
	}
	if err := submissions.AutoMigrate(s.DB); err != nil {
		return nil, fmt.Errorf("bootstrap: migrate store: %w", err)
	}

	var uploader *media.Uploader
	if !opts.NoMedia {
		store, err := s.openMedia(ctx)
		if err != nil {
			return nil, err
		}
		uploader = media.NewUploader(store, nil)
	}
	s.Listings, err = submissions.New(submissions.Config{
		DB:       s.DB,
		Uploader: uploader,
		Emitter:  emitter,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stack) openMedia(ctx context.Context) (media.Store, error) {
	cfg := s.Config.Media
	switch cfg.Backend {
	case "gcs":
		var credentials string
		if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: read gcs credentials: %w", err)
			}
			credentials = string(raw)
		}
		store, err := media.NewGCSStore(ctx, credentials, s.Config.MediaBuckets())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	default:
		return media.NewFSStore(cfg.Dir, cfg.BaseURL)
	}
}

// Locker returns the recon lock backend: Redis when an address is
// configured, in-process otherwise.
func (s *Stack) Locker() recon.Locker {
	addr := strings.TrimSpace(s.Config.Recon.RedisAddr)
	if addr == "" {
		return recon.NewLocalLocker()
	}
	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: s.Config.Recon.RedisPassword,
		})
		s.closers = append(s.closers, s.redis.Close)
	}
	return recon.NewRedisLocker(s.redis, "")
}

// Reconciler builds a reconciler over the stack. dryRun is OR-ed with the
// configured DryRun.
func (s *Stack) Reconciler(dryRun bool) (*recon.Reconciler, error) {
	return recon.NewReconciler(recon.Config{
		DB:        s.DB,
		Listings:  s.Listings,
		Chain:     s.Orchestrator,
		Locker:    s.Locker(),
		OutputDir: s.Config.Recon.OutputDir,
		Grace:     s.Config.ReconGrace(),
		DryRun:    s.Config.Recon.DryRun || dryRun,
		Logger:    s.Logger,
		Alert: func(_ context.Context, a recon.Anomaly) error {
			s.Logger.Warn("recon anomaly",
				slog.String("kind", a.Kind),
				slog.String("report", a.Report),
				slog.String("detail", a.Detail))
			return nil
		},
	})
}

// Close releases everything Open acquired, newest first.
func (s *Stack) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
