package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlaurenti/eleonora/internal/avatar"
	"github.com/mlaurenti/eleonora/internal/brain"
	"github.com/mlaurenti/eleonora/internal/call"
	"github.com/mlaurenti/eleonora/internal/config"
	"github.com/mlaurenti/eleonora/internal/httpapi"
	"github.com/mlaurenti/eleonora/internal/media"
	"github.com/mlaurenti/eleonora/internal/observability"
	"github.com/mlaurenti/eleonora/internal/oracle"
	"github.com/mlaurenti/eleonora/internal/speech"
	"github.com/mlaurenti/eleonora/internal/transcript"
	"github.com/mlaurenti/eleonora/internal/wallet"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Registry     *call.Registry
	Orchestrator *call.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	archive, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	avatarClient := avatar.NewClient(cfg.AvatarBaseURL, cfg.AvatarAPIKey)
	provisioner := avatar.NewProvisioner(avatarClient, avatar.StreamSettings{
		AvatarID:      cfg.AvatarID,
		Quality:       cfg.AvatarQuality,
		VideoEncoding: cfg.AvatarVideoEncoding,
		PersonaPrompt: cfg.PersonaPrompt,
	}, cfg.CleanupSettle, cfg.StepSettle)

	var completer brain.Completer
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		completer = brain.NewOpenAICompleter(brain.OpenAIConfig{
			APIKey:        cfg.OpenAIAPIKey,
			BaseURL:       cfg.OpenAIBaseURL,
			Model:         cfg.ChatModel,
			PersonaPrompt: cfg.PersonaPrompt,
			MaxTokens:     cfg.ChatMaxTokens,
			Temperature:   cfg.ChatTemp,
		})
	} else {
		completer = brain.NewMockCompleter()
	}
	transcriber := speech.NewWhisperClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.SpeechModel)

	registry := call.NewRegistry(cfg.CallInactivityTimeout)

	newLink := func(_ string, onDown func(reason string)) call.MediaLink {
		return media.NewLink(media.NewSurface(nil), onDown)
	}

	orchestrator := call.NewOrchestrator(
		registry,
		provisioner,
		newLink,
		completer,
		transcriber,
		cfg.SpeechLanguage,
		archive,
		metrics,
	)

	var prices httpapi.PriceSource
	if strings.TrimSpace(cfg.OracleBaseURL) != "" {
		prices = oracle.NewClient(cfg.OracleBaseURL)
	}
	var deployer httpapi.WalletDeployer
	if strings.TrimSpace(cfg.WalletRelayURL) != "" {
		deployer = wallet.NewRelayClient(cfg.WalletRelayURL, cfg.WalletSponsorKey, int64(cfg.WalletChainID))
	}

	api := httpapi.New(cfg, orchestrator, archive, prices, deployer, metrics)

	cleanup := func() error {
		var errs []string
		if err := archive.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Registry:     registry,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
