package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/halom/internal/adapters/alert"
	"github.com/okian/halom/internal/adapters/bundle"
	"github.com/okian/halom/internal/adapters/chain"
	"github.com/okian/halom/internal/adapters/http/api"
	"github.com/okian/halom/internal/adapters/http/swagger"
	"github.com/okian/halom/internal/adapters/repository"
	"github.com/okian/halom/internal/adapters/scheduler"
	"github.com/okian/halom/internal/adapters/source"
	service "github.com/okian/halom/internal/app"
	"github.com/okian/halom/internal/config"
	"github.com/okian/halom/internal/domain/calculator"
	"github.com/okian/halom/pkg/logger"
	"github.com/okian/halom/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 60 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
	outboundTimeout       = 15 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logOpts := []logger.Option{logger.WithFormat(cfg.LogFormat)}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logger.WithFile(cfg.LogFile))
	}
	if err := logger.InitWithOptions(logOpts...); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, loggerInstance); err != nil {
		loggerInstance.Error(ctx, "oracle exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	sched, err := newScheduler(cfg, svc, log)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warn(ctx, "scheduler stop timed out", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// newService builds the store, sources, collaborators and the service from
// cfg.
func newService(ctx context.Context, cfg *config.Config, log logger.Logger) (*service.Service, error) {
	target := cfg.Store.Path
	if cfg.Store.Backend == repository.BackendPostgres {
		target = cfg.Store.DSN
	}
	store, err := repository.Open(ctx, cfg.Store.Backend, target,
		repository.WithHistorySize(cfg.Store.HistorySize),
		repository.WithLogger(log.Named("store")),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	sources, err := source.NewManager(cfg.Sources,
		source.WithCache(store),
		source.WithBackoffBase(cfg.BackoffBase),
		source.WithWorkers(cfg.WorkerCount),
		source.WithLogger(log.Named("sources")),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	agg, err := cfg.ConsensusConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	calc, err := calculator.New(calculator.WithRootPower(cfg.RootPower))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := &http.Client{Timeout: outboundTimeout}
	var alerter alert.Alerter = alert.NewLogAlerter(log.Named("alert"))
	if cfg.Alert.SlackWebhook != "" {
		alerter = alert.Multi{alerter, alert.NewWebhookAlerter(cfg.Alert.SlackWebhook, client)}
	}
	var submitter chain.Submitter = chain.NewLogSubmitter(0)
	if cfg.Submitter.URL != "" {
		submitter = chain.NewHTTPSubmitter(cfg.Submitter.URL, cfg.Submitter.Token, client)
	}

	nodes := make(map[string]float64, len(cfg.Nodes.Known))
	for _, id := range cfg.Nodes.Known {
		nodes[id] = cfg.NodeDeviation(id)
	}

	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithStore(store),
		service.WithSources(sources),
		service.WithConsensus(agg),
		service.WithValidator(cfg.Validator()),
		service.WithNodeConfig(cfg.NodeConfig()),
		service.WithNodes(nodes),
		service.WithCalculator(calc),
		service.WithSubmitter(submitter),
		service.WithAlerter(alerter),
		service.WithFailureThreshold(cfg.Alert.FailureThreshold),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithHistoryLimit(cfg.Store.HistorySize),
	}
	if cfg.BundleFile != "" {
		opts = append(opts, service.WithBundleProvider(bundle.NewFileProvider(cfg.BundleFile)))
	}
	svc, err := service.New(opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return svc, nil
}

// newScheduler registers the consensus cycle and, with a bundle file, the
// HOI cycle.
func newScheduler(cfg *config.Config, svc *service.Service, log logger.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(scheduler.WithLogger(log.Named("scheduler")))
	if err := sched.Add("consensus", cfg.Schedule, func(ctx context.Context) error {
		_, err := svc.RunCycle(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if cfg.BundleFile != "" && cfg.HOISchedule != "" {
		if err := sched.Add("hoi", cfg.HOISchedule, func(ctx context.Context) error {
			_, err := svc.RunHOICycle(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
