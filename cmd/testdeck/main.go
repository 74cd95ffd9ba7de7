package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/testdeck/testdeck/internal/analytics"
	"github.com/testdeck/testdeck/internal/api"
	"github.com/testdeck/testdeck/internal/circuitbreaker"
	"github.com/testdeck/testdeck/internal/config"
	"github.com/testdeck/testdeck/internal/cron"
	"github.com/testdeck/testdeck/internal/dispatcher"
	"github.com/testdeck/testdeck/internal/gateway"
	"github.com/testdeck/testdeck/internal/leaderelection"
	"github.com/testdeck/testdeck/internal/metrics"
	"github.com/testdeck/testdeck/internal/reconciler"
	"github.com/testdeck/testdeck/internal/scheduler"
	"github.com/testdeck/testdeck/internal/store/postgres"
	"github.com/testdeck/testdeck/internal/transport/channel"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{sched: sched}, nil
}

// cronScheduleAdapter adapts internal/cron.Schedule to scheduler.CronSchedule interface.
type cronScheduleAdapter struct {
	sched cron.Schedule
}

func (a *cronScheduleAdapter) Next(after time.Time) time.Time {
	return a.sched.Next(after)
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// defaultProjectID is used when PROJECT_ID is not set (single-tenant mode).
const defaultProjectID = "00000000-0000-0000-0000-000000000001"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`testdeck - test plan trigger scheduler and run comparison service

Usage:
  testdeck <command>

Commands:
  serve      Start the scheduler, dispatcher, and API server
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  PROJECT_ID                Project scope for this instance (default: fixed single-tenant id)
  TICK_INTERVAL             Scheduler tick interval (default: "30s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher event drain timeout (default: "30s")
  DISPATCHER_WORKERS        Concurrent dispatch workers (default: "1")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  RECONCILE_ENABLED         Enable stuck execution reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for stuck executions (default: "5m")
  RECONCILE_THRESHOLD       Age before a pending execution is stuck (default: "15m")
  RECONCILE_BATCH_SIZE      Max stuck executions per cycle (default: "100")

  EVENTBUS_BUFFER_SIZE      In-memory event bus capacity (default: "100")
  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening (0 disables, default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open state cooldown (default: "2m")

  LEADER_ELECTION_ENABLED   Gate scheduler/reconciler behind advisory lock (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "917244")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("testdeck: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)
	cronParser := &cronParserAdapter{parser: cron.NewParser()}
	invoker := gateway.NewHTTPInvoker()

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("testdeck: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("testdeck: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("testdeck: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("testdeck: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		store,
		cronParser,
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	disp := dispatcher.New(store, invoker).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("testdeck: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient)
		disp = disp.WithAnalytics(sink)
		log.Printf("testdeck: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("testdeck: REDIS_ADDR not set; analytics disabled")
	}

	projectID := uuid.MustParse(defaultProjectID)
	if cfg.ProjectID != "" {
		projectID = uuid.MustParse(cfg.ProjectID) // validated by config.Validate
	}

	apiHandler := api.NewHandler(store, bus, sched, projectID).WithHealthChecker(db)
	if metricsSink != nil {
		apiHandler = apiHandler.WithMetrics(metricsSink)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("testdeck: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("testdeck: http server error: %v", err)
		}
	}()

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			bus,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
	} else {
		log.Println("testdeck: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Dispatcher always runs; scheduler and reconciler are leader duties when
	// leader election is enabled.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	var dispatcherWg sync.WaitGroup

	for i := 0; i < cfg.DispatcherWorkers; i++ {
		dispatcherWg.Add(1)
		go func() {
			defer dispatcherWg.Done()
			disp.Run(dispatcherCtx, bus.Channel())
		}()
	}

	// runLeaderDuties starts the scheduler (and reconciler if enabled) and
	// blocks until ctx is cancelled and both have stopped.
	runLeaderDuties := func(ctx context.Context) {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				log.Printf("testdeck: scheduler error: %v", err)
			}
		}()
		if recon != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				recon.Run(ctx)
			}()
		}
		<-ctx.Done()
		wg.Wait()
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	var leaderWg sync.WaitGroup

	if cfg.LeaderElectionEnabled {
		var dutiesWg sync.WaitGroup
		var dutiesMu sync.Mutex
		var stopDuties context.CancelFunc

		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			func(ctx context.Context) {
				dutiesMu.Lock()
				dutiesCtx, cancel := context.WithCancel(ctx)
				stopDuties = cancel
				dutiesMu.Unlock()

				dutiesWg.Add(1)
				go func() {
					defer dutiesWg.Done()
					runLeaderDuties(dutiesCtx)
				}()
			},
			func() {
				dutiesMu.Lock()
				if stopDuties != nil {
					stopDuties()
					stopDuties = nil
				}
				dutiesMu.Unlock()
				dutiesWg.Wait()
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			elector.Run(leaderCtx)
		}()
		log.Printf("testdeck: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			runLeaderDuties(leaderCtx)
		}()
	}

	log.Printf("testdeck: started (tick=%s, http=%s, project=%s)", cfg.TickInterval, cfg.HTTPAddr, projectID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("testdeck: received signal %v, shutting down", received)

	// Phase 1: Stop scheduler and reconciler (no new events emitted)
	log.Println("testdeck: stopping scheduler and reconciler...")
	cancelLeader()
	leaderWg.Wait()
	log.Println("testdeck: scheduler and reconciler stopped")

	// Phase 2: Stop dispatcher (will drain buffered events before returning)
	log.Println("testdeck: stopping dispatcher (draining events)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("testdeck: dispatcher stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("testdeck: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("testdeck: http server shutdown error: %v", err)
	}
	log.Println("testdeck: http server stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("testdeck: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("testdeck: metrics server shutdown error: %v", err)
		}
		log.Println("testdeck: metrics server stopped")
	}

	log.Println("testdeck: stopped")
	return exitSuccess
}

// logConfigWarnings flags configuration combinations that are valid but
// lose data or visibility in production.
func logConfigWarnings(cfg config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("WARNING [P0]: RECONCILE_ENABLED=false - executions stuck in 'pending' " +
			"(emit failures, crashes between insert and dispatch) are never retried. " +
			"Enable the reconciler in production.")
	}
	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false - no visibility into tick latency, " +
			"invocation outcomes, or event bus saturation.")
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		log.Println("INFO: CIRCUIT_BREAKER_THRESHOLD=0 - failing endpoints will be retried " +
			"at full rate with no cooldown.")
	}
	if cfg.DispatcherWorkers == 1 {
		log.Println("INFO: DISPATCHER_WORKERS=1 - a single slow function blocks all dispatch. " +
			"Increase for concurrent delivery.")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("testdeck version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
