package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/openjobspec/ojs-operator-checks/internal/checks"
	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/dedup"
	"github.com/openjobspec/ojs-operator-checks/internal/flow"
	"github.com/openjobspec/ojs-operator-checks/internal/ledger"
	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
	natsbackend "github.com/openjobspec/ojs-operator-checks/internal/nats"
	"github.com/openjobspec/ojs-operator-checks/internal/probe"
	"github.com/openjobspec/ojs-operator-checks/internal/refill"
	"github.com/openjobspec/ojs-operator-checks/internal/scheduler"
	"github.com/openjobspec/ojs-operator-checks/internal/server"
	"github.com/openjobspec/ojs-operator-checks/internal/store"
	"github.com/openjobspec/ojs-operator-checks/internal/treasury"
	"github.com/openjobspec/ojs-operator-checks/internal/worker"
)

var version = "dev"

const healthService = "operator-checks"

func main() {
	cfg, err := server.LoadConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	defs, err := checks.LoadChecks(cfg.ChecksFile)
	if err != nil {
		slog.Error("loading checks", "path", cfg.ChecksFile, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to NATS
	backend, err := natsbackend.New(cfg.NatsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	slog.Info("connected to NATS", "url", cfg.NatsURL)

	metrics.Init(version, "nats")

	broker := natsbackend.NewEventBroker(backend.Conn())
	defer broker.Close()
	if events, unsubscribe, err := broker.SubscribeAll(); err != nil {
		slog.Warn("event feed unavailable", "error", err)
	} else {
		defer unsubscribe()
		go logEvents(events)
	}

	results, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("opening result store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer results.Close()

	httpClient := probe.NewHTTPClient(cfg.RPCTimeout)

	// Disbursement and the transfer ledger
	var (
		disbursement treasury.Disbursement = treasury.NewDryRun(nil)
		statusSource ledger.StatusSource
	)
	if cfg.TreasuryURL != "" {
		client := treasury.NewClient(cfg.TreasuryURL, cfg.TreasuryToken, cfg.SpenderAddress, httpClient)
		statusSource = client
		if cfg.IsLive {
			disbursement = client
		}
	}
	if !cfg.IsLive {
		slog.Warn("IS_LIVE is not true, refills will only be logged")
	}
	journal := ledger.NewJournal(backend.Transfers(), statusSource, cfg.SpenderAddress, nil,
		ledger.WithAbandonAfter(cfg.PendingRefillTTL),
	)
	guard := dedup.New(journal,
		dedup.WithTTL(cfg.PendingRefillTTL),
		dedup.WithLookback(cfg.PendingLookback),
	)
	dispatcher := refill.NewDispatcher(backend, broker, nil)

	// Checks and the cycle orchestrator
	probes := buildProbes(cfg, httpClient)
	runners := checks.NewRunners(defs, checks.Deps{
		Probes: probes,
		Guard:  guard,
		Refill: dispatcher,
	})
	orchestrator := flow.NewOrchestrator(runners, results,
		flow.WithTracker(backend.Cycles()),
		flow.WithEvents(broker),
	)
	checkScheduler := checks.NewScheduler(checks.SchedulerConfig{
		Queue:      backend,
		State:      backend.ServiceState(),
		Delay:      cfg.CheckDelay,
		Production: cfg.IsLive,
		Clean:      cfg.DoClean,
	})

	// Workers
	refillHandlers := refill.NewHandlers(refill.HandlersConfig{
		Disbursement: disbursement,
		Journal:      journal,
		Events:       broker,
		Spender:      cfg.SpenderAddress,
		Live:         cfg.IsLive,
		Prechecks:    buildPrechecks(cfg, probes),
	})
	pool := worker.New(backend, []string{core.QueueTasks, core.QueueRefills},
		worker.WithConcurrency(cfg.WorkerConcurrency),
		worker.WithClaimTTL(natsbackend.AckWait),
	)
	pool.Register(core.JobCheckBalances, checkScheduler.TriggerHandler(orchestrator))
	refillHandlers.Register(pool)

	// Start background maintenance
	maintenance := scheduler.New(backend,
		scheduler.WithPromoteSpec(fmt.Sprintf("@every %s", cfg.MaintenanceInterval)),
	)
	if err := maintenance.Start(); err != nil {
		slog.Error("starting maintenance scheduler", "error", err)
		os.Exit(1)
	}
	defer maintenance.Stop()

	pool.Start(ctx)

	if err := checkScheduler.OnBoot(ctx); err != nil {
		slog.Error("scheduling initial check", "alarm", "check-scheduling-failed", "error", err)
	}

	// HTTP admin server
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.NewRouter(server.RouterDeps{
			Health:    backend,
			State:     backend.ServiceState(),
			Scheduler: checkScheduler,
			Cycles:    backend.Cycles(),
			Queues:    backend,
			Results:   results,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("admin server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	// gRPC health
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)
	go watchHealth(ctx, backend, healthSrv)

	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			stop()
			return
		}
		slog.Info("gRPC health server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	healthSrv.Shutdown()
	pool.Stop()
	checkScheduler.Stop(shutdownCtx)
	maintenance.Stop()
	grpcServer.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("stopped")
}

// buildProbes creates a probe per configured backend. A probe whose
// endpoint is not configured is left out, which disables its targets.
func buildProbes(cfg server.Config, httpClient *http.Client) map[string]probe.Probe {
	probes := make(map[string]probe.Probe)

	if cfg.JSONRPC == "" {
		slog.Error("JSON_RPC missing, skipping native and token checks",
			"error", core.NewConfigurationError("JSON_RPC is not set.", nil))
	} else {
		rpc := probe.NewRPCClient(cfg.JSONRPC, httpClient)
		probes[checks.ProbeNative] = probe.NewNativeRPC(rpc, int32(cfg.NativeDecimals))
		if cfg.TokenAddress == "" {
			slog.Error("TOKEN_CONTRACT_ADDRESS missing, skipping token checks",
				"error", core.NewConfigurationError("TOKEN_CONTRACT_ADDRESS is not set.", nil))
		} else {
			probes[checks.ProbeERC20] = probe.NewERC20(rpc, cfg.TokenAddress, int32(cfg.TokenDecimals))
		}
	}

	if cfg.TurboURL == "" {
		slog.Error("TURBO_URL missing, skipping credit checks",
			"error", core.NewConfigurationError("TURBO_URL is not set.", nil))
	} else {
		probes[checks.ProbeTurbo] = probe.NewTurboCredits(cfg.TurboURL, httpClient)
	}

	probes[checks.ProbeArweave] = probe.NewArweave(cfg.ArweaveGateway, httpClient)

	return probes
}

// buildPrechecks names the wallets whose balance must cover a refill before
// it is sent. AR refills are paid from a separate Arweave wallet.
func buildPrechecks(cfg server.Config, probes map[string]probe.Probe) map[string]refill.SpenderCheck {
	if cfg.ARSpenderAddress == "" {
		if cfg.IsLive {
			slog.Warn("AR_SPENDER_ADDRESS missing, AR refills are sent without a balance check")
		}
		return nil
	}
	return map[string]refill.SpenderCheck{
		core.RefillAsset: {Probe: probes[checks.ProbeArweave], Address: cfg.ARSpenderAddress},
	}
}

// logEvents mirrors lifecycle events into the debug log until the feed closes.
func logEvents(events <-chan *natsbackend.Event) {
	for ev := range events {
		slog.Debug("event", "type", ev.Type, "time", ev.Time, "data", ev.Data)
	}
}

// watchHealth keeps the gRPC health status in step with the NATS connection.
func watchHealth(ctx context.Context, backend *natsbackend.NATSBackend, healthSrv *health.Server) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_SERVING
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := backend.Health(checkCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
		healthSrv.SetServingStatus(healthService, status)
		healthSrv.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
