package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/adminapi"
	"github.com/aegis-labs/aegis-firewall/pkg/anchor"
	"github.com/aegis-labs/aegis-firewall/pkg/audit"
	"github.com/aegis-labs/aegis-firewall/pkg/config"
	"github.com/aegis-labs/aegis-firewall/pkg/gateway"
	"github.com/aegis-labs/aegis-firewall/pkg/identity"
	"github.com/aegis-labs/aegis-firewall/pkg/kernel"
	"github.com/aegis-labs/aegis-firewall/pkg/kernel/retry"
	"github.com/aegis-labs/aegis-firewall/pkg/ledger"
	"github.com/aegis-labs/aegis-firewall/pkg/metrics"
	"github.com/aegis-labs/aegis-firewall/pkg/policy"
	"github.com/aegis-labs/aegis-firewall/pkg/queue"

	_ "github.com/lib/pq"
)

// runServer wires the RPC Gateway, Reservation Store, Pending Queue, and
// Anchor Worker together and runs until SIGINT/SIGTERM.
func runServer() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := metrics.New()
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(1)
	}
	defer m.Shutdown(context.Background())

	ledgerStore, err := ledger.NewRedisLedgerFromURL(cfg.KVURL)
	if err != nil {
		logger.Error("ledger init failed", "error", err)
		os.Exit(1)
	}

	queueStore, err := queue.NewRedisQueueFromURL(cfg.KVURL)
	if err != nil {
		logger.Error("queue init failed", "error", err)
		os.Exit(1)
	}

	registry, err := policy.NewChainRegistry(ctx, cfg.EthRPCURL, cfg.ContractAddress)
	if err != nil {
		logger.Error("policy registry init failed", "error", err)
		os.Exit(1)
	}
	policyClient := policy.NewClient(registry)

	forwarder := gateway.NewHTTPForwarder(cfg.UpstreamURL)

	auditLogger, closeAudit := buildAuditLogger(ctx, cfg, logger)
	if closeAudit != nil {
		defer closeAudit()
	}

	pipeline := &gateway.Pipeline{
		Policy:  policyClient,
		Ledger:  ledgerStore,
		Queue:   queueStore,
		Forward: forwarder,
		Defaults: identity.Defaults{
			User:  cfg.AdminDefaultUser,
			Agent: cfg.AdminDefaultAgent,
		},
		Logger:    logger,
		AuditSink: auditLogger,
		Metrics:   m,
	}
	handler := &gateway.Handler{Pipeline: pipeline, RequestTimeout: cfg.RequestTimeout}

	limiterStore, err := kernel.NewRedisLimiterStoreFromURL(cfg.KVURL)
	if err != nil {
		logger.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	limiterPolicy := kernel.BackpressurePolicy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst}
	rateLimitOverrides, err := config.LoadRateLimitProfiles(cfg.RateLimitProfile)
	if err != nil {
		logger.Error("rate limit profile load failed", "error", err)
		os.Exit(1)
	}
	limited := gateway.RateLimit(limiterStore, limiterPolicy, rateLimitOverrides, handler)

	signer, err := anchor.NewECDSASignerFromHex(cfg.FacilitatorKeyHex)
	if err != nil {
		logger.Error("facilitator signer init failed", "error", err)
		os.Exit(1)
	}
	submitter, err := anchor.NewSubmitter(ctx, cfg.EthRPCURL, cfg.ContractAddress, signer)
	if err != nil {
		logger.Error("anchor submitter init failed", "error", err)
		os.Exit(1)
	}
	worker := anchor.NewWorker(queueStore, submitter, cfg.AnchorBatchSize, cfg.AnchorMode, logger)
	worker.Metrics = m
	worker.RetryPolicy = &retry.BackoffPolicy{
		PolicyID:    "anchor-submit",
		BaseMs:      500,
		MaxMs:       5000,
		MaxJitterMs: 250,
		MaxAttempts: 3,
	}

	adminHandlers := &adminapi.Handlers{
		Store:    ledgerStore,
		Upstream: forwarder,
		Policy:   policyClient,
		Anchor:   worker,
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", limited)
	adminHandlers.Register(mux, cfg.AnchorSecret)

	server := &http.Server{
		Addr:              ":" + cfg.ListenPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("anchor worker mode", "mode", cfg.AnchorMode)
	if cfg.AnchorMode == config.AnchorModeContinuous {
		go worker.Run(ctx, cfg.AnchorEpoch)
	}

	go func() {
		logger.Info("aegis-firewall listening", "port", cfg.ListenPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// buildAuditLogger returns the stdout sink, additionally wrapping it with
// a durable Postgres sink when AEGIS_AUDIT_DSN is configured (SPEC_FULL
// DOMAIN STACK table). The returned closer is nil when there is
// nothing to close.
func buildAuditLogger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Logger, func()) {
	stdoutLogger := audit.NewStdoutLogger()
	if cfg.AuditDSN == "" {
		return stdoutLogger, nil
	}

	db, err := sql.Open("postgres", cfg.AuditDSN)
	if err != nil {
		logger.Error("audit: opening postgres connection failed, falling back to stdout only", "error", err)
		return stdoutLogger, nil
	}
	pgLogger := audit.NewPostgresAuditLogger(db)
	if err := pgLogger.EnsureSchema(ctx); err != nil {
		logger.Error("audit: ensuring schema failed, falling back to stdout only", "error", err)
		_ = db.Close()
		return stdoutLogger, nil
	}

	return multiLogger{stdoutLogger, pgLogger}, func() { _ = db.Close() }
}

// multiLogger fans a Decision out to every configured sink.
type multiLogger []audit.Logger

func (m multiLogger) Record(d gateway.Decision) {
	for _, l := range m {
		l.Record(d)
	}
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", cfg.ListenPort))
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

func runAnchorOnceCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config validation failed: %v\n", err)
		return 2
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://localhost:%s/admin/anchor", cfg.ListenPort), nil)
	if err != nil {
		fmt.Fprintf(stderr, "build request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AnchorSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "anchor-once request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "anchor-once failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "anchor iteration complete")
	return 0
}
