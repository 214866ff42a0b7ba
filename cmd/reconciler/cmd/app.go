package cmd

import (
	"context"
	"fmt"

	"interunit-loan-recon/cmd/reconciler/config"
	"interunit-loan-recon/internal/metrics"
	"interunit-loan-recon/internal/parsers"
	"interunit-loan-recon/internal/reconciler"
	"interunit-loan-recon/internal/scopelock"
	"interunit-loan-recon/internal/store"
	"interunit-loan-recon/pkg/logger"
)

// app holds the components a command works with.
type app struct {
	config  *config.Config
	store   store.Store
	locker  scopelock.Locker
	metrics *metrics.Recorder
	service *reconciler.ReconciliationService
	parser  *parsers.LedgerParser
	logger  logger.Logger
	session *reconciler.Session
}

// newApp opens the store and lock backend named by cfg and builds the
// reconciliation service on top of them.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.GetGlobalLogger()

	matching, err := cfg.MatchingConfig()
	if err != nil {
		return nil, err
	}
	parser, err := parsers.NewLedgerParser(&cfg.Parser)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, &cfg.Store)
	if err != nil {
		return nil, err
	}
	locker, err := scopelock.New(ctx, &cfg.Lock, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	recorder := metrics.New(true)
	service, err := reconciler.NewReconciliationService(st, matching, &cfg.Reconcile,
		reconciler.WithLocker(locker),
		reconciler.WithMetrics(recorder),
		reconciler.WithLogger(log),
	)
	if err != nil {
		locker.Close()
		st.Close()
		return nil, err
	}

	return &app{
		config:  cfg,
		store:   st,
		locker:  locker,
		metrics: recorder,
		service: service,
		parser:  parser.WithLogger(log),
		logger:  log.WithComponent("cli"),
		session: reconciler.NewSession(0),
	}, nil
}

// withSession attaches the CLI session so runs show up in its history.
func (a *app) withSession(ctx context.Context) context.Context {
	return reconciler.WithSession(ctx, a.session)
}

// Close releases the lock backend and the store.
func (a *app) Close() error {
	lockErr := a.locker.Close()
	if err := a.store.Close(); err != nil {
		return err
	}
	if lockErr != nil {
		return fmt.Errorf("failed to close lock backend: %w", lockErr)
	}
	return nil
}

// withApp builds the app for one command invocation and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	if appConfig == nil {
		appConfig = config.Default()
	}
	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close resources")
		}
	}()
	return fn(a)
}
