// Package main is the entry point for the video-generation orchestrator.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and an
//     optional config file (Koanf v2).
//  2. Vault: build the AES-256-GCM credential vault from CRYPTO_KEY.
//  3. Channel registry: load and validate channels.yaml, decrypting
//     per-channel credentials through the vault.
//  4. Store: open the Postgres connection pool.
//  5. Workspace and tool runner: resolve the artifact root and tools
//     directory.
//  6. Planning client: wrap the external planning database's REST API.
//  7. Supervisor tree: wire workers onto the pipeline layer, the push
//     loop and webhook server onto the sync layer, and quota purge onto
//     the housekeeping layer.
//  8. Signal handling: SIGINT/SIGTERM trigger a graceful drain.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vidforge/orchestrator/internal/config"
	"github.com/vidforge/orchestrator/internal/gate"
	"github.com/vidforge/orchestrator/internal/housekeeping"
	"github.com/vidforge/orchestrator/internal/logging"
	"github.com/vidforge/orchestrator/internal/pipeline"
	"github.com/vidforge/orchestrator/internal/planning"
	"github.com/vidforge/orchestrator/internal/registry"
	"github.com/vidforge/orchestrator/internal/scheduler"
	"github.com/vidforge/orchestrator/internal/store"
	"github.com/vidforge/orchestrator/internal/supervisor"
	"github.com/vidforge/orchestrator/internal/sync"
	"github.com/vidforge/orchestrator/internal/toolrunner"
	"github.com/vidforge/orchestrator/internal/vault"
	"github.com/vidforge/orchestrator/internal/worker"
	"github.com/vidforge/orchestrator/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logging.Info().Msg("starting orchestrator")

	v, err := vault.NewFromBase64(cfg.CryptoKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build credential vault")
	}

	reg, err := registry.Load(cfg.ChannelsConfigPath, v)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load channel registry")
	}
	logging.Info().Int("channels", reg.Len()).Msg("channel registry loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to task store")
	}
	defer db.Close()

	paths, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to resolve workspace root")
	}

	tools, err := toolrunner.New(cfg.ToolsDir, logging.Logger())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to resolve tools directory")
	}

	planningClient := planning.New(cfg.PlanningAPIBaseURL, cfg.PlanningAPIToken, nil)

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	claimScheduler := scheduler.New(db)
	dispatcher := pipeline.New()
	baseDeps := &pipeline.Deps{Store: db, Tools: tools, Paths: paths}

	for i := 0; i < cfg.WorkerCount; i++ {
		name := fmt.Sprintf("worker-%d", i+1)

		g := gate.New(db, cfg.QuotaTimezoneOffset, cfg.MaxConcurrentVideo)
		for _, ch := range reg.Active() {
			if ch.MaxConcurrentVideo > 0 {
				g.SetChannelKlingCeiling(ch.ID, ch.MaxConcurrentVideo)
			}
		}

		workerDeps := *baseDeps
		w := worker.New(worker.DefaultConfig(name), claimScheduler, db, dispatcher, g, &workerDeps,
			logging.Logger())
		tree.AddPipelineService(w)
		logging.Info().Str("worker", name).Msg("worker added to pipeline layer")
	}

	pushLoop := sync.NewPushLoop(sync.PushLoopConfig{Interval: cfg.SyncInterval}, db, planningClient, logging.Logger())
	tree.AddSyncService(pushLoop)

	webhookCfg := sync.DefaultWebhookServerConfig(fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.WebhookPort))
	webhookCfg.Secret = cfg.WebhookSecret
	webhookServer := sync.NewWebhookServer(webhookCfg, db, planningClient, db, db, logging.Logger())
	tree.AddSyncService(webhookServer)
	logging.Info().Str("addr", webhookCfg.Addr).Msg("webhook server added to sync layer")

	quotaPurge := housekeeping.NewQuotaPurge(housekeeping.DefaultQuotaPurgeConfig(), db, logging.Logger())
	tree.AddHousekeepingService(quotaPurge)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor tree to drain")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
	}

	logging.Info().Msg("orchestrator stopped")
}
