package main

import (
	"context"
	"fmt"
	"log"

	"fraudchat/config"
	"fraudchat/db"
	"fraudchat/services"
	"fraudchat/services/agent"
	"fraudchat/services/dataset"

	"github.com/prometheus/client_golang/prometheus"
)

// app is everything the commands share.
type app struct {
	cfg         *config.Config
	service     *agent.Service
	transcripts *services.TranscriptService
	closers     []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Printf("[WARN] Failed to close resource: %v", err)
		}
	}
}

func newReasoner(ctx context.Context, cfg *config.Config) (agent.Reasoner, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return agent.NewAnthropicReasoner(cfg.AnthropicAPIKey, cfg.Model, cfg.MaxTokens), nil
	case config.ProviderOpenAI:
		return agent.NewOpenAIReasoner(cfg.OpenAIAPIKey, cfg.Model, cfg.MaxTokens)
	case config.ProviderGemini:
		return agent.NewGeminiReasoner(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func newApp(ctx context.Context, reg prometheus.Registerer) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	reasoner, err := newReasoner(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reasoning service: %w", err)
	}

	provider := dataset.NewProvider(cfg.DatasetURL, cfg.DatasetPath,
		dataset.WithMaxBytes(cfg.DatasetMaxBytes),
		dataset.WithTimeout(cfg.DatasetTimeout),
	)

	opts := []agent.Option{
		agent.WithRetry(agent.RetryConfig{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  2.0,
		}),
		agent.WithMaxToolRounds(cfg.MaxToolRounds),
	}
	if reg != nil {
		opts = append(opts, agent.WithMetrics(agent.NewMetrics(reg)))
	}

	if cfg.HistoryDBURL != "" {
		repo, err := db.OpenTranscriptRepository(ctx, cfg.HistoryDBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize transcript database: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.transcripts = services.NewTranscriptService(repo)
		opts = append(opts, agent.WithTranscriptRecorder(a.transcripts))
	}

	a.service = agent.NewService(reasoner, provider, opts...)
	return a, nil
}
