package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/assetvault/reaper/internal/api"
	"github.com/assetvault/reaper/internal/config"
	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/events"
	"github.com/assetvault/reaper/internal/index"
	"github.com/assetvault/reaper/internal/ledger"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/metadata"
	"github.com/assetvault/reaper/internal/metadata/oxia"
	"github.com/assetvault/reaper/internal/metrics"
	"github.com/assetvault/reaper/internal/objectstore"
	"github.com/assetvault/reaper/internal/objectstore/s3"
	"github.com/assetvault/reaper/internal/reaper"
	"github.com/assetvault/reaper/internal/server"
)

// Backends holds the connected storage and messaging clients.
type Backends struct {
	Meta   metadata.MetadataStore
	Images objectstore.Store
	// Audit is nil when no audit bucket is configured.
	Audit  objectstore.Store
	Pause  objectstore.Store
	Ledger ledger.Ledger
	// LedgerDB is nil for the in-memory ledger.
	LedgerDB server.Pinger
	Events   events.Publisher

	closers []func()
}

// Close releases every backend in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// errNoLedgerDSN is returned by run when the status ledger would not survive
// a restart.
var errNoLedgerDSN = errors.New("ledger.dsn is required; pass --memory-ledger to run with an in-memory status ledger")

// requireDurableLedger rejects a configuration without a ledger database
// unless the in-memory ledger was explicitly allowed.
func requireDurableLedger(cfg *config.Config, allowMemory bool) error {
	if cfg.Ledger.DSN == "" && !allowMemory {
		return errNoLedgerDSN
	}
	return nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// openBackends connects S3, Oxia, the ledger database and Kafka as
// configured. Object and metadata stores are instrumented on reg.
func openBackends(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *logging.Logger) (*Backends, error) {
	b := &Backends{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	osc := cfg.ObjectStore
	root, err := s3.New(ctx, s3.Config{
		Bucket:          osc.ImageBucket,
		Region:          osc.Region,
		Endpoint:        osc.Endpoint,
		AccessKeyID:     osc.AccessKey,
		SecretAccessKey: osc.SecretKey,
		UsePathStyle:    osc.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("open image bucket: %w", err)
	}
	b.closers = append(b.closers, func() { _ = root.Close() })

	osMetrics := metrics.NewObjectStoreMetricsWithRegistry(reg)
	b.Images = objectstore.NewInstrumentedStore(root, "images", osMetrics)
	if osc.AuditBucket != "" {
		b.Audit = objectstore.NewInstrumentedStore(root.ForBucket(osc.AuditBucket), "audit", osMetrics)
	} else {
		logger.Warn("no audit bucket configured; every batch will fail until one is set")
	}
	pauseBucket := osc.PauseBucket
	if pauseBucket == "" {
		pauseBucket = osc.ImageBucket
	}
	b.Pause = objectstore.NewInstrumentedStore(root.ForBucket(pauseBucket), "pause", osMetrics)
	if err := objectstore.VerifyBucket(ctx, b.Pause); err != nil {
		return nil, fmt.Errorf("pause bucket %q: %w", pauseBucket, err)
	}

	meta, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	b.closers = append(b.closers, func() { _ = meta.Close() })
	b.Meta = metadata.NewInstrumentedStore(meta, metrics.NewMetadataMetricsWithRegistry(reg))

	if dsn := cfg.Ledger.DSN; dsn != "" {
		if err := ledger.Migrate(dsn, logger); err != nil {
			return nil, err
		}
		pool, err := ledger.Connect(ctx, dsn, cfg.Ledger.MaxConns)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.Ledger = ledger.NewPostgres(pool)
		b.LedgerDB = pool
	} else {
		logger.Warn("no ledger dsn configured; using in-memory status ledger")
		b.Ledger = ledger.NewMemoryLedger()
	}

	pub, err := events.New(events.KafkaConfig{
		Brokers:  cfg.Events.Brokers,
		Topic:    cfg.Events.Topic,
		ClientID: "reaperd",
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open event publisher: %w", err)
	}
	b.closers = append(b.closers, pub.Close)
	b.Events = pub

	ok = true
	return b, nil
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Config   *config.Config
	Logger   *logging.Logger
	Backends *Backends
	// Registry defaults to a fresh registry with the Go and process collectors.
	Registry *prometheus.Registry
	Version  string
	Now      func() time.Time
}

// Service wires the reaper components around a set of backends.
type Service struct {
	cfg     *config.Config
	logger  *logging.Logger
	version string

	policy    eligibility.Policy
	index     *index.KVIndex
	pause     *reaper.PauseGate
	reaper    *reaper.Reaper
	scheduler *reaper.Scheduler
	health    *server.HealthServer
	handler   *api.Handler
	authn     *api.JWTAuth

	apiServer *http.Server
	apiAddr   string
	errCh     chan error

	mu      sync.Mutex
	started bool
}

// NewService builds every component but starts nothing.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Config == nil || opts.Backends == nil {
		return nil, errors.New("config and backends are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Registry == nil {
		opts.Registry = newRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cfg := opts.Config
	b := opts.Backends
	logger := opts.Logger

	rm := metrics.NewReaperMetricsWithRegistry(opts.Registry)
	policy := policyFromConfig(cfg)
	idx := index.New(b.Meta, index.Config{Logger: logger, Now: opts.Now})

	r := reaper.New(reaper.Config{
		Index:   idx,
		Ledger:  b.Ledger,
		Images:  b.Images,
		Audit:   reaper.NewAuditLogger(b.Audit, rm, logger),
		Events:  b.Events,
		Metrics: rm,
		Logger:  logger,
		Now:     opts.Now,
	})
	pause := reaper.NewPauseGate(b.Pause, cfg.ObjectStore.PauseKey, logger)
	quota := reaper.NewQuota(idx, reaper.QuotaConfig{
		Interval: cfg.Reaper.Interval,
		Window:   cfg.Reaper.IngestionWindow,
		MaxBatch: cfg.Reaper.MaxBatch,
		Now:      opts.Now,
		Metrics:  rm,
		Logger:   logger,
	})
	sched := reaper.NewScheduler(reaper.SchedulerConfig{
		Interval:  cfg.Reaper.Interval,
		DeletedBy: cfg.Reaper.DeletedBy,
		Policy:    policy,
		Executor:  r,
		Pause:     pause,
		Quota:     quota,
		Pruner:    idx,
		Window:    cfg.Reaper.IngestionWindow,
		Metrics:   rm,
		Logger:    logger,
		Now:       opts.Now,
	})

	health := server.NewHealthServer(cfg.Observability.HealthAddr, logger)
	health.RegisterHandler("/metrics", metrics.Handler(opts.Registry))
	health.RegisterLoop("scheduler", sched, 3*cfg.Reaper.Interval)
	if t := cfg.Observability.ReadinessTimeout; t > 0 {
		health.SetReadinessTimeout(t)
	}
	health.RegisterReadinessCheck(server.NewMetadataStoreChecker(b.Meta))
	health.RegisterReadinessCheck(server.NewBucketChecker("images", b.Images))
	health.RegisterReadinessCheck(server.NewBucketChecker("pause", b.Pause))
	if b.Audit != nil {
		health.RegisterReadinessCheck(server.NewBucketChecker("audit", b.Audit))
	}
	health.RegisterReadinessCheck(server.NewLedgerChecker(b.LedgerDB))

	s := &Service{
		cfg:       cfg,
		logger:    logger,
		version:   opts.Version,
		policy:    policy,
		index:     idx,
		pause:     pause,
		reaper:    r,
		scheduler: sched,
		health:    health,
		errCh:     make(chan error, 1),
	}

	if cfg.API.ListenAddr != "" {
		authn, err := api.NewJWTAuth(api.AuthConfig{
			JWKSURL: cfg.API.JWKSURL,
			Secret:  cfg.API.JWTSecret,
			Issuer:  cfg.API.Issuer,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("manual trigger api: %w", err)
		}
		s.authn = authn
		s.handler = api.NewHandler(r, api.RoleAuthorizer{Role: cfg.API.DeleteRole}, policy, logger)
	}
	return s, nil
}

func policyFromConfig(cfg *config.Config) eligibility.Policy {
	return eligibility.New(cfg.Eligibility.ProtectedCollections, cfg.Eligibility.PersistenceMarker)
}

// Start brings up the health server, the manual trigger API and the
// scheduler. API serve errors are delivered on Errors.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("service already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Infof("starting reaper", map[string]any{
		"version":    s.version,
		"interval":   s.cfg.Reaper.Interval.String(),
		"apiAddr":    s.cfg.API.ListenAddr,
		"healthAddr": s.cfg.Observability.HealthAddr,
	})

	if err := s.health.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	if s.handler != nil {
		ln, err := net.Listen("tcp", s.cfg.API.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.API.ListenAddr, err)
		}
		s.apiAddr = ln.Addr().String()
		s.apiServer = &http.Server{
			Handler:           s.handler.Routes(s.authn.Middleware),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		go func() {
			s.errCh <- s.apiServer.Serve(ln)
		}()
		s.logger.Infof("manual trigger api listening", map[string]any{"addr": s.apiAddr})
	}

	s.scheduler.Start()
	return nil
}

// Errors delivers the API server's terminal error.
func (s *Service) Errors() <-chan error {
	return s.errCh
}

// APIAddr returns the bound API address, empty before Start.
func (s *Service) APIAddr() string {
	return s.apiAddr
}

// Shutdown stops the scheduler (waiting for in-flight ticks) and closes the
// servers.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.health.SetShuttingDown()

	var errs []error
	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.scheduler.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("scheduler: %w", ctx.Err()))
	}

	if err := s.health.Close(); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}

	s.logger.Info("reaper shutdown complete")
	return errors.Join(errs...)
}
