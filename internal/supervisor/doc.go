/*
Package supervisor provides process supervision for the orchestrator using suture v4.

This package implements a hierarchical supervisor tree that manages the lifecycle
of all long-running services in the process: worker loops, the planning-DB sync
engine, and low-frequency housekeeping. It provides Erlang/OTP-style supervision
with automatic restart, failure isolation, and graceful shutdown.

# Overview

The supervisor tree organizes services into three layers for failure isolation:

	RootSupervisor ("orchestrator")
	├── PipelineSupervisor ("pipeline-layer")
	│   └── WorkerService (one per configured worker, see internal/worker)
	├── SyncSupervisor ("sync-layer")
	│   ├── PushLoopService (internal/sync, §4.11a)
	│   └── WebhookServerService (internal/sync, §4.11b)
	└── HousekeepingSupervisor ("housekeeping-layer")
	    └── QuotaPurgeService (calls store.QuotaPurge on a daily tick)

This hierarchy ensures that:
  - A crash in the sync layer (planning API unreachable) doesn't stop workers
    from draining the queue.
  - A panicking worker doesn't take the webhook receiver down.
  - Each layer can restart independently.

# Key Features

Automatic Restart:
  - Crashed services are automatically restarted
  - Exponential backoff prevents restart storms
  - Configurable failure thresholds and decay rates

Failure Isolation:
  - Services are organized into logical groups
  - Child supervisor failures don't propagate upward
  - Each layer has independent failure counting

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown; a worker finishes its
    current claim→gate→dispatch iteration before returning (§4.9)
  - Configurable shutdown timeout per service
  - UnstoppedServiceReport for debugging hangs

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
	    log.Fatal(err)
	}

	for i := 0; i < numWorkers; i++ {
	    g := gate.New(db, quotaTZOffsetHours, maxConcurrentVideo)
	    workerDeps := *baseDeps
	    cfg := worker.Config{Name: fmt.Sprintf("worker-%d", i)}
	    tree.AddPipelineService(worker.New(cfg, sched, db, dispatcher, g, &workerDeps, logger))
	}
	tree.AddSyncService(sync.NewPushLoop(pushCfg, db, planningClient, logger))
	tree.AddSyncService(sync.NewWebhookServer(webhookCfg, db, pages, reconciler, ops, logger))
	tree.AddHousekeepingService(housekeeping.NewQuotaPurge(housekeeping.DefaultQuotaPurgeConfig(), db, logger))

	if err := tree.Serve(ctx); err != nil {
	    log.Printf("supervisor stopped: %v", err)
	}

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return nil: Service stopped cleanly, will not be restarted
  - Return error: Service crashed, will be restarted
  - Context canceled: Shutdown requested, return promptly

# Debugging Shutdown Issues

If services don't stop within the timeout:

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("service didn't stop: %v", svc)
	}
*/
package supervisor
