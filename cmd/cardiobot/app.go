package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/adapters/auth"
	"github.com/clinicapro/cardiobot/internal/adapters/fallback"
	"github.com/clinicapro/cardiobot/internal/adapters/imaging"
	"github.com/clinicapro/cardiobot/internal/adapters/media"
	"github.com/clinicapro/cardiobot/internal/adapters/records"
	"github.com/clinicapro/cardiobot/internal/adapters/transcribe"
	"github.com/clinicapro/cardiobot/internal/completion"
	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/internal/dispatcher"
	"github.com/clinicapro/cardiobot/internal/guard"
	"github.com/clinicapro/cardiobot/internal/pipeline"
	"github.com/clinicapro/cardiobot/pkg/config"
	"github.com/clinicapro/cardiobot/pkg/observability"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// newGateway builds the completion backend. Tests replace it.
var newGateway = completion.New

// app holds the long-lived components of one process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	health   *observability.Health
	sessions session.Repository
	records  records.Store
	sweeper  *session.Sweeper
	serial   *session.Serializer
	gateway  completion.Gateway
	runner   *pipeline.Runner
	stager   *media.Store

	closers []func() error
}

func newRunner(cfg *config.Config, gw completion.Gateway, logger *zap.Logger) (*pipeline.Runner, error) {
	runner := pipeline.NewRunner(gw, pipeline.Config{
		DefaultPipeline: cfg.Pipeline.Catalog,
		Admission: pipeline.Admission{
			MinLength:             cfg.Pipeline.MinCaseLength,
			MinLengthWithPreamble: cfg.Pipeline.MinCaseLengthWithPreamble,
		},
		Budget:      pipeline.NewBudget(cfg.Pipeline.OpsPerWindow, cfg.Pipeline.Window, cfg.Pipeline.Burst),
		CallTimeout: cfg.Completion.CallTimeout,
	}, logger)
	if _, err := runner.Pipeline(""); err != nil {
		return nil, fmt.Errorf("pipeline.catalog: %w", err)
	}
	return runner, nil
}

func newCompletion(ctx context.Context, cfg *config.Config) (completion.Gateway, error) {
	return newGateway(ctx, completion.Options{
		Provider: cfg.Completion.Provider,
		Model:    cfg.Completion.Model,
		APIKey:   cfg.Completion.APIKey,
		BaseURL:  cfg.Completion.BaseURL,
		Region:   cfg.Completion.Region,
	})
}

// newApp opens the stores and builds the pipeline. Close releases them.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		health: observability.NewHealth(Version),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.sessions, err = session.Open(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.closers = append(a.closers, a.sessions.Close)
	if p, ok := a.sessions.(interface{ Ping(context.Context) error }); ok {
		a.health.Register(observability.StoreProbe("sessions", p.Ping))
	}

	a.records, err = records.Open(ctx, cfg.Records)
	if err != nil {
		return nil, fmt.Errorf("open records store: %w", err)
	}
	a.closers = append(a.closers, a.records.Close)
	a.health.Register(observability.StoreProbe("records", func(ctx context.Context) error {
		return records.Ping(ctx, a.records)
	}))

	a.sweeper, err = session.NewSweeper(a.sessions, cfg.Session.IdleTTL, cfg.Session.SweepSchedule, logger)
	if err != nil {
		return nil, err
	}
	a.sweeper.OnSweep(observability.SetActiveSessions)
	a.serial = session.NewSerializer()
	a.sweeper.UseSerializer(a.serial)

	a.gateway, err = newCompletion(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create completion gateway: %w", err)
	}
	a.runner, err = newRunner(cfg, a.gateway, logger)
	if err != nil {
		return nil, err
	}

	maxBytes, err := cfg.Channel.MaxMediaBytes()
	if err != nil {
		return nil, err
	}
	dir := cfg.Channel.MediaDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "cardiobot-media")
	}
	a.stager, err = media.NewStore(dir, maxBytes, logger)
	if err != nil {
		return nil, err
	}
	if n, err := a.stager.Purge(cfg.Channel.MediaPurgeAge); err != nil {
		logger.Warn("media purge failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("purged stale media", zap.Int("files", n))
	}

	return a, nil
}

// dispatcher builds the event dispatcher delivering through sender.
func (a *app) dispatcher(ctx context.Context, sender dispatcher.Sender) (*dispatcher.Dispatcher, error) {
	cfg := a.cfg
	deps := dispatcher.Deps{
		Sessions: a.sessions,
		Machine: dialogue.NewMachine(dialogue.Config{
			MinPasswordLength: cfg.Dialogue.MinPasswordLength,
			Admission:         a.runner.Admission(),
			Pipelines:         pipeline.DefaultCatalog().Names(),
		}, a.records),
		Runner:     a.runner,
		Auth:       auth.NewService(a.records, 0),
		Records:    a.records,
		Fallback:   fallback.New(a.gateway),
		Stager:     a.stager,
		Sender:     sender,
		Serializer: a.serial,
	}
	if cfg.Pipeline.GuardThreshold > 0 {
		deps.Guard = guard.New(cfg.Pipeline.GuardThreshold)
	}

	if cfg.Transcription.Enabled {
		deps.Transcriber = transcribe.New(cfg.Transcription.APIKey, cfg.Transcription.BaseURL,
			transcribe.WithModel(cfg.Transcription.Model),
			transcribe.WithLanguage(cfg.Transcription.Language),
			transcribe.WithMinLength(cfg.Transcription.MinLength))
	}
	if cfg.Imaging.Enabled {
		analyzer, err := imaging.New(ctx, imaging.Options{
			Provider: cfg.Imaging.Provider,
			Model:    cfg.Imaging.Model,
			APIKey:   cfg.Imaging.APIKey,
			BaseURL:  cfg.Imaging.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create image analyzer: %w", err)
		}
		deps.Analyzer = analyzer
	}

	return dispatcher.New(deps, dispatcher.Config{
		ChunkCeiling:   cfg.Channel.ChunkCeiling,
		AdapterTimeout: cfg.Channel.AdapterTimeout,
	}, a.logger)
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
