// Package app assembles the dealer daemon: ledger and relay clients, the
// orchestrator, its journal, and the HTTP, gRPC and event triggers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/louisbranch/housedealer/internal/platform/grpc"
	rpc "github.com/louisbranch/housedealer/internal/platform/jsonrpc"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/platform/timeouts"
	"github.com/louisbranch/housedealer/internal/services/dealer/api/grpcapi"
	"github.com/louisbranch/housedealer/internal/services/dealer/api/httpapi"
	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/draw"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
	ledgerrpc "github.com/louisbranch/housedealer/internal/services/dealer/ledger/jsonrpc"
	"github.com/louisbranch/housedealer/internal/services/dealer/matcher"
	"github.com/louisbranch/housedealer/internal/services/dealer/observability"
	"github.com/louisbranch/housedealer/internal/services/dealer/orchestrator"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor/relayhttp"
	"github.com/louisbranch/housedealer/internal/services/dealer/storage/sqlite"
	"github.com/louisbranch/housedealer/internal/services/dealer/worker"
)

const (
	defaultHTTPPort = 8080
	defaultGRPCPort = 8081
	defaultDBPath   = "data/dealer.db"
	serviceName     = "dealer"
	// healthService is the gRPC health entry for the move service.
	healthService = grpcapi.ServiceName
)

// RuntimeConfig is everything the daemon needs, already parsed.
type RuntimeConfig struct {
	HTTPPort int
	GRPCPort int

	LedgerURL   string
	PackageID   string
	Module      string
	HouseDataID string

	MasterSecret    string
	HousePrivateKey string

	RelayURL    string
	RelayAPIKey string
	GasBudget   uint64
	FeeUnits    []string

	RetryDelays      []time.Duration
	RetryMaxAttempts int
	CallTimeout      time.Duration
	FinalityTimeout  time.Duration
	AwaitFinality    bool

	DBPath string

	EventsEnabled      bool
	EventsPollInterval time.Duration
	EventsConcurrency  int
	EventsConsumer     string

	TriggerPublicKey string
	TriggerIssuer    string
}

func (c RuntimeConfig) normalized() (RuntimeConfig, error) {
	c.LedgerURL = strings.TrimSpace(c.LedgerURL)
	c.RelayURL = strings.TrimSpace(c.RelayURL)
	c.PackageID = strings.TrimSpace(c.PackageID)
	c.HouseDataID = strings.TrimSpace(c.HouseDataID)
	switch {
	case c.LedgerURL == "":
		return c, errors.New("ledger url is required")
	case c.RelayURL == "":
		return c, errors.New("relay url is required")
	case c.PackageID == "":
		return c, errors.New("package id is required")
	case c.HouseDataID == "":
		return c, errors.New("house data id is required")
	case c.MasterSecret == "":
		return c, errors.New("master secret is required")
	case c.HousePrivateKey == "":
		return c, errors.New("house private key is required")
	}
	if c.HTTPPort <= 0 {
		c.HTTPPort = defaultHTTPPort
	}
	if c.GRPCPort <= 0 {
		c.GRPCPort = defaultGRPCPort
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultDBPath
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = timeouts.LedgerCall
	}
	if c.FinalityTimeout <= 0 {
		c.FinalityTimeout = timeouts.Finality
	}
	return c, nil
}

func (c RuntimeConfig) retryPolicy() retry.Policy {
	return retry.Policy{Delays: c.RetryDelays, MaxAttempts: c.RetryMaxAttempts}.Normalized()
}

// Runtime is an assembled daemon.
type Runtime struct {
	cfg     RuntimeConfig
	logger  *zap.Logger
	store   *sqlite.Store
	client  ledger.Client
	dealer  *orchestrator.Dealer
	metrics *observability.Metrics
	poller  *worker.Poller
	handler http.Handler
}

// Build wires every component without opening listeners.
func Build(cfg RuntimeConfig, logger *zap.Logger) (*Runtime, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	drawKey, err := draw.DeriveSigningKey([]byte(cfg.MasterSecret))
	if err != nil {
		return nil, fmt.Errorf("derive draw key: %w", err)
	}
	signer, err := sponsor.ParseEd25519Signer(cfg.HousePrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse house key: %w", err)
	}

	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != sqlite.MemoryPath && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dealer storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open dealer sqlite store: %w", err)
	}

	httpClient := rpc.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	client := ledgerrpc.New(cfg.LedgerURL, cfg.CallTimeout, httpClient)
	relay := relayhttp.New(cfg.RelayURL, cfg.RelayAPIKey, cfg.CallTimeout, httpClient)
	c := contract.New(cfg.PackageID, cfg.Module)
	metrics := observability.NewMetrics(serviceName)
	policy := cfg.retryPolicy()

	pipeline := sponsor.NewPipeline(relay, client, signer, sponsor.Options{
		Policy:                 policy,
		GasBudget:              cfg.GasBudget,
		AllowedMoveCallTargets: c.AllowedTargets(),
		RelayTimeout:           cfg.CallTimeout,
		FinalityTimeout:        cfg.FinalityTimeout,
		AwaitFinality:          cfg.AwaitFinality,
		Observer:               sponsorObserver(logger, metrics),
		Logger:                 logger,
	})
	m := matcher.New(
		matcher.NewSearchLookup(client, c, matcher.DefaultPageSize, logger),
		matcher.NewDirectLookup(client),
		policy,
		logger,
	)
	var feePool *sponsor.FeePool
	if len(cfg.FeeUnits) > 0 {
		feePool = sponsor.NewFeePool(cfg.FeeUnits)
	}
	dealer, err := orchestrator.New(orchestrator.Deps{
		Ledger:       client,
		Signer:       signer,
		DrawKey:      drawKey,
		Contract:     c,
		HouseDataID:  cfg.HouseDataID,
		Pipeline:     pipeline,
		Matcher:      m,
		Journal:      store,
		FeePool:      feePool,
		Confirmation: policy,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var auth *httpapi.TriggerAuth
	if strings.TrimSpace(cfg.TriggerPublicKey) != "" {
		key, err := httpapi.ParseTriggerKey(cfg.TriggerPublicKey)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		auth = &httpapi.TriggerAuth{Key: key, Issuer: cfg.TriggerIssuer}
	}

	rt := &Runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		client:  client,
		dealer:  dealer,
		metrics: metrics,
	}
	rt.handler = httpapi.NewHandler(dealer, httpapi.Options{
		Logger:  logger,
		Metrics: metrics,
		Auth:    auth,
		Ready:   store.Ping,
	})
	if cfg.EventsEnabled {
		rt.poller = worker.New(client, dealer, store, c, worker.Config{
			Consumer:     cfg.EventsConsumer,
			PollInterval: cfg.EventsPollInterval,
			Concurrency:  cfg.EventsConcurrency,
			Retry:        policy,
		}, logger, metrics)
	}
	logger.Info("dealer assembled",
		zap.String("house", signer.Address()),
		zap.String("draw_public_key", drawKey.PublicKey().Hex()),
		zap.String("package", c.Package),
		zap.Int("fee_units", len(cfg.FeeUnits)),
		zap.Bool("events", cfg.EventsEnabled),
	)
	return rt, nil
}

func sponsorObserver(logger *zap.Logger, metrics *observability.Metrics) sponsor.AttemptObserver {
	return func(a sponsor.Attempt) {
		metrics.ObserveSponsorAttempt(string(a.Outcome))
		if a.Err != nil {
			logger.Warn("sponsor attempt failed",
				zap.String("payload", a.PayloadDigest),
				zap.Int("attempt", a.AttemptIndex),
				zap.Error(a.Err),
			)
		}
	}
}

// Dealer exposes the assembled orchestrator.
func (r *Runtime) Dealer() *orchestrator.Dealer {
	return r.dealer
}

// Handler is the HTTP surface.
func (r *Runtime) Handler() http.Handler {
	return r.handler
}

// Close releases the journal.
func (r *Runtime) Close() error {
	return r.store.Close()
}

// Serve runs the HTTP and gRPC servers and, when enabled, the event
// poller, until ctx ends or one of them fails.
func (r *Runtime) Serve(ctx context.Context, httpListener, grpcListener net.Listener) error {
	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(r.handler, "dealer.http"),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	grpcServer, healthServer := platformgrpc.NewServer()
	grpcapi.RegisterDealerServer(grpcServer, grpcapi.NewServer(r.dealer, r.logger))
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("http listening", zap.String("addr", httpListener.Addr().String()))
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.logger.Info("grpc listening", zap.String("addr", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	if r.poller != nil {
		g.Go(func() error {
			return r.poller.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(httpServer, grpcServer, healthServer)
	})
	return g.Wait()
}

func shutdown(httpServer *http.Server, grpcServer *gogrpc.Server, healthServer *health.Server) error {
	healthServer.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	err := httpServer.Shutdown(ctx)

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
	}
	return err
}

// Run builds the daemon, listens on the configured ports and serves until
// ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig, logger *zap.Logger) error {
	rt, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.logger.Warn("close dealer store", zap.Error(err))
		}
	}()

	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", rt.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("listen on http port %d: %w", rt.cfg.HTTPPort, err)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", rt.cfg.GRPCPort))
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen on grpc port %d: %w", rt.cfg.GRPCPort, err)
	}
	return rt.Serve(ctx, httpListener, grpcListener)
}
