// Package app assembles the engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/config"
	"github.com/forzax/cycleloop/pkg/cycle"
	"github.com/forzax/cycleloop/pkg/gcp"
	"github.com/forzax/cycleloop/pkg/llm"
	"github.com/forzax/cycleloop/pkg/notify"
	"github.com/forzax/cycleloop/pkg/prompts"
	"github.com/forzax/cycleloop/pkg/research"
	"github.com/forzax/cycleloop/pkg/search"
	"github.com/forzax/cycleloop/pkg/stage"
	"github.com/forzax/cycleloop/pkg/store"
)

// Options carries optional hooks and overrides. Overrides exist for tests
// and embedding; nil fields are built from configuration.
type Options struct {
	Generator  llm.Generator
	Searcher   search.Searcher
	Store      store.Store
	Publisher  notify.Publisher
	OnSnapshot func(cycle.Snapshot)
}

// App owns every long-lived component.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     store.Store
	Generator llm.Generator
	Runner    *cycle.Runner
	Publisher notify.Publisher

	// ctx outlives individual requests so loops started over MCP or HTTP keep
	// running after the request returns.
	ctx     context.Context
	cancel  context.CancelFunc
	closers []func() error
}

// New builds the app. The returned App must be closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var gcpClient *gcp.Client
	if cfg.NeedsGCP() && (opts.Store == nil || (cfg.PubSubTopic != "" && opts.Publisher == nil)) {
		gcpClient, err = gcp.NewClient(ctx, gcp.Options{
			ProjectID:       cfg.GCPProject,
			CredentialsFile: cfg.CredentialsFile,
			Firestore:       cfg.Store == config.StoreFirestore && opts.Store == nil,
			PubSub:          cfg.PubSubTopic != "" && opts.Publisher == nil,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcpClient.Close)
	}

	if a.Store = opts.Store; a.Store == nil {
		if a.Store, err = openStore(cfg, gcpClient, logger); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Store.Close)
	}

	if a.Generator = opts.Generator; a.Generator == nil {
		if a.Generator, err = openGenerator(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	searcher := opts.Searcher
	if searcher == nil {
		searcher = openSearcher(cfg, logger)
	}

	if a.Publisher = opts.Publisher; a.Publisher == nil {
		if a.Publisher, err = a.openPublisher(ctx, cfg, gcpClient, logger); err != nil {
			return nil, err
		}
	}

	registry, err := prompts.LoadRegistry(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	executor := stage.New(stage.Config{
		Generator: a.Generator,
		Researcher: research.New(research.Config{
			Generator: a.Generator,
			Searcher:  searcher,
			Model:     cfg.Model,
			MaxAgents: cfg.MaxAgents,
			Logger:    logger,
		}),
		Registry: registry,
		Model:    cfg.Model,
		Logger:   logger,
	})

	bridge := newEventBridge(a.Publisher, logger)
	delay := cfg.StageDelay
	if delay == 0 {
		delay = -1
	}
	a.Runner = cycle.NewRunner(cycle.Config{
		Executor:   executor,
		Store:      a.Store,
		StageDelay: delay,
		Logger:     logger,
		OnSnapshot: func(s cycle.Snapshot) {
			bridge.observe(a.ctx, s)
			if opts.OnSnapshot != nil {
				opts.OnSnapshot(s)
			}
		},
		OnProgress: func(campaignID, msg string) {
			bridge.progress(a.ctx, campaignID, msg)
		},
	})
	return a, nil
}

func openStore(cfg config.Config, gcpClient *gcp.Client, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		return store.OpenSQLite(cfg.SQLitePath, logger)
	case config.StoreFirestore:
		return store.NewFirestoreStore(gcpClient.FirestoreClient, logger), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func openGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) (llm.Generator, error) {
	switch cfg.Generator {
	case config.GeneratorOllama:
		return llm.NewOllamaClient(cfg.OllamaHost, cfg.Model, logger), nil
	case config.GeneratorGemini:
		return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
	}
	return nil, fmt.Errorf("unknown generator %q", cfg.Generator)
}

func openSearcher(cfg config.Config, logger *zap.Logger) search.Searcher {
	var backend search.Backend = search.MockBackend{}
	if cfg.Search == config.SearchSearXNG {
		backend = search.NewSearXNGBackend(cfg.SearXNGURL, cfg.SearchResults)
	}
	return search.NewBatcher(backend, logger)
}

func (a *App) openPublisher(ctx context.Context, cfg config.Config, gcpClient *gcp.Client, logger *zap.Logger) (notify.Publisher, error) {
	pubs := notify.Multi{notify.NewLogPublisher(logger)}
	if cfg.PubSubTopic != "" {
		topic, err := gcpClient.EnsureTopic(ctx, cfg.PubSubTopic)
		if err != nil {
			return nil, err
		}
		p := notify.NewPubSubPublisher(topic)
		a.closers = append(a.closers, func() error { p.Stop(); return nil })
		pubs = append(pubs, p)
	}
	return pubs, nil
}

// Ping checks the generation backend when it supports it.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.Generator.(llm.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops a running loop and releases every resource in reverse order.
func (a *App) Close() error {
	if a.Runner != nil {
		if err := a.Runner.Stop(); err == nil {
			if done := a.Runner.Done(); done != nil {
				<-done
			}
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
