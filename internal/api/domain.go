package api

import (
	"fmt"

	"github.com/JaimeStill/ktru/internal/config"
	"github.com/JaimeStill/ktru/internal/notify"
	"github.com/JaimeStill/ktru/internal/orchestrator"
	"github.com/JaimeStill/ktru/internal/parser"
	"github.com/JaimeStill/ktru/internal/prompts"
	"github.com/JaimeStill/ktru/internal/provider"
	"github.com/JaimeStill/ktru/internal/reconcile"
	"github.com/JaimeStill/ktru/internal/submit"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Orchestrator orchestrator.System
	Reconciler   *reconcile.Reconciler
	Notifier     *notify.Notifier
	Relay        *notify.Relay
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(cfg *config.Config, runtime *Runtime) (*Domain, error) {
	tmpl, err := prompts.Load(cfg.Prompts.Dir, cfg.Prompts.Default)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}

	renderer, err := prompts.NewRenderer(tmpl)
	if err != nil {
		return nil, fmt.Errorf("prompt renderer: %w", err)
	}

	p, err := parser.New(cfg.Prompts.CodePattern, cfg.Prompts.NotFoundPhrase)
	if err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}

	client := provider.New(&cfg.Provider, runtime.Logger, runtime.Metrics)

	submitter := submit.New(
		submit.Config{
			MaxBatchProducts:  cfg.API.MaxBatchProducts,
			MaxRequestsPerJob: cfg.Provider.MaxRequestsPerJob,
			Concurrency:       cfg.Provider.SubmitConcurrency,
			BaseInterval:      cfg.Reconciler.BaseIntervalDuration(),
			Retry:             cfg.Provider.Retry.Policy(),
		},
		runtime.Store,
		client,
		renderer,
		runtime.Clock,
		runtime.Metrics,
		runtime.Logger,
	)

	notifier := notify.New(
		&cfg.Notifier,
		runtime.Outbox,
		runtime.Store,
		runtime.Clock,
		runtime.Metrics,
		runtime.Logger,
	)

	opts := []reconcile.Option{reconcile.WithMetrics(runtime.Metrics)}
	if runtime.Storage != nil {
		opts = append(opts, reconcile.WithArchive(runtime.Storage))
	}

	reconciler := reconcile.New(
		&cfg.Reconciler,
		runtime.Store,
		client,
		p,
		notifier,
		runtime.Clock,
		runtime.Logger,
		opts...,
	)

	orch := orchestrator.New(
		submitter,
		reconciler,
		runtime.Store,
		cfg.Provider.WebhookSecret,
		runtime.Logger,
		runtime.Pagination,
	)

	return &Domain{
		Orchestrator: orch,
		Reconciler:   reconciler,
		Notifier:     notifier,
		Relay:        notify.NewRelay(notifier),
	}, nil
}
