package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
	"github.com/shivangsoni/ClaimsAI/internal/claims"
	"github.com/shivangsoni/ClaimsAI/internal/config"
	"github.com/shivangsoni/ClaimsAI/internal/report"
	"github.com/shivangsoni/ClaimsAI/internal/service"
	"github.com/shivangsoni/ClaimsAI/internal/telemetry"
)

// app holds everything built from one Config. close releases the store and
// flushes telemetry.
type app struct {
	orch    *analysis.Orchestrator
	service *service.Service
	pdf     *report.PDFRenderer
	closers []func(context.Context) error
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}
}

// callerFactory is swapped in tests so wiring never reaches a real provider.
var callerFactory = newCaller

func newCaller(cfg config.Config) (analysis.LLMCaller, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return analysis.NewOpenAICaller(cfg.OpenAIAPIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	default:
		return analysis.NewAnthropicCaller(cfg.AnthropicAPIKey, cfg.LLM.Model)
	}
}

func buildBackends(cfg config.Config) ([]analysis.Backend, error) {
	var caller analysis.LLMCaller
	needCaller := false
	for _, name := range cfg.Backends {
		if name == "chain" || name == "graph" {
			needCaller = true
		}
	}
	if needCaller {
		c, err := callerFactory(cfg)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", cfg.LLM.Provider, err)
		}
		caller = c
	}

	out := make([]analysis.Backend, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		switch name {
		case "flow":
			fb, err := analysis.NewFlowBackend(analysis.FlowConfig{
				BaseURL:           cfg.Flow.URL,
				FlowID:            cfg.Flow.ID,
				APIKey:            cfg.Flow.APIKey,
				Timeout:           cfg.BackendTimeout,
				RequestsPerSecond: cfg.Flow.RequestsPerSecond,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, fb)
		case "chain":
			out = append(out, analysis.NewChainBackend(caller))
		case "graph":
			out = append(out, analysis.NewGraphBackend(caller))
		default:
			return nil, fmt.Errorf("unknown backend %q", name)
		}
	}
	return out, nil
}

func buildRecorder(ctx context.Context, cfg config.Config) (telemetry.Recorder, func(context.Context) error, error) {
	switch cfg.Telemetry.Mode {
	case "none":
		return telemetry.Nop(), nil, nil
	case "otel":
		r, err := telemetry.NewOTelRecorder(ctx, telemetry.OTelConfig{
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			ServiceName: "claimsai",
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Shutdown, nil
	default:
		return telemetry.NewLogRecorder(log.New(os.Stderr, "", log.LstdFlags)), nil, nil
	}
}

func buildStore(cfg config.Config) (claims.Store, func(context.Context) error, error) {
	if cfg.DBPath == "" {
		return claims.NewMemoryStore(), nil, nil
	}
	s, err := claims.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func(context.Context) error { return s.Close() }, nil
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close(ctx)
		return nil, err
	}

	profiles := analysis.DefaultProfiles()
	if cfg.ProfilesFile != "" {
		p, err := analysis.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, err
		}
		profiles = p
	}

	backends, err := buildBackends(cfg)
	if err != nil {
		return nil, err
	}
	if len(backends) == 0 {
		return nil, errors.New("no analysis backends configured")
	}

	recorder, shutdown, err := buildRecorder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if shutdown != nil {
		a.closers = append(a.closers, shutdown)
	}

	var cache *analysis.ResultCache
	if cfg.Cache.TTL > 0 {
		cache = analysis.NewResultCache(cfg.Cache.TTL)
	}
	a.orch = analysis.NewOrchestrator(analysis.Config{
		Backends:         backends,
		Profiles:         profiles,
		Recorder:         recorder,
		BackendTimeout:   cfg.BackendTimeout,
		MaxDocumentChars: cfg.MaxDocumentChars,
		Cache:            cache,
	})

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	a.service, err = service.New(service.Config{
		Store:         store,
		Analyzer:      a.orch,
		Profiles:      profiles,
		Backends:      a.orch.Backends(),
		TelemetryMode: cfg.Telemetry.Mode,
	})
	if err != nil {
		return fail(err)
	}
	a.pdf = report.NewPDFRenderer(cfg.ChromePath)
	return a, nil
}
