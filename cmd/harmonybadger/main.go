package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/solari23/HarmonyBadger/internal/api"
	"github.com/solari23/HarmonyBadger/internal/circuitbreaker"
	"github.com/solari23/HarmonyBadger/internal/config"
	"github.com/solari23/HarmonyBadger/internal/cron"
	"github.com/solari23/HarmonyBadger/internal/domain"
	"github.com/solari23/HarmonyBadger/internal/leaderelection"
	"github.com/solari23/HarmonyBadger/internal/logging"
	"github.com/solari23/HarmonyBadger/internal/metrics"
	"github.com/solari23/HarmonyBadger/internal/processor"
	"github.com/solari23/HarmonyBadger/internal/scheduler"
	"github.com/solari23/HarmonyBadger/internal/taskconfig"
	"github.com/solari23/HarmonyBadger/internal/timezone"
	"github.com/solari23/HarmonyBadger/internal/transport/channel"
	"github.com/solari23/HarmonyBadger/internal/transport/redisqueue"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression)
	if err != nil {
		return nil, err
	}
	return sched, nil
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

// externalTaskKinds are executed outside this process, via the webhook.
var externalTaskKinds = []domain.TaskKind{
	domain.TaskSendEmail,
	domain.TaskSendSms,
	domain.TaskDiscordReminder,
	domain.TaskForceRefreshToken,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "evaluate":
		os.Exit(runEvaluate(os.Args[2:], os.Stdout))
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
	fmt.Println(`harmonybadger - scheduled task trigger service

Usage:
  harmonybadger <command> [flags]

Commands:
  serve      Start the scheduler, task processor and HTTP API
  evaluate   Print the trigger events of a window as JSON (nothing is published)
             flags: -start RFC3339 -end RFC3339 [-dir DIR] [-zone NAME]
  validate   Validate configuration and task config files
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  LOCAL_TIMEZONE                Zone schedules are written in (default: "US/Pacific")
  MAX_TRIGGERS_PER_SCHEDULE     Max events per task config per window (default: "4")
  TASK_CONFIGS_DIR              Directory of *.schedule.{json,yaml,yml} files (default: "TaskConfigs")
  TASK_CONFIGS_WATCH            Reload task configs on file change (default: "false")

  SCHEDULER_CRON                When the scheduler runs, UTC (default: "50 * * * *")
  SCHEDULER_RUN_ON_STARTUP      Run the scheduler once at startup (default: "false")
  SCHEDULER_IMMEDIATE_DELIVERY  Publish events with no delay (default: "false")

  QUEUE_MODE                    "channel" (in-memory) or "redis" (default: "channel")
  REDIS_ADDR                    Redis address (required when QUEUE_MODE=redis)
  REDIS_PASSWORD                Redis password (optional)
  REDIS_QUEUE_KEY               Redis key prefix (default: "harmonybadger:tasks")
  LEADER_LEASE_TTL              Scheduler lease lifetime in redis mode (default: "30s")
  QUEUE_POLL_INTERVAL           Redis consumer poll interval (default: "1s")
  EVENTBUS_BUFFER_SIZE          Event channel capacity (default: "100")

  PROCESSOR_RATE_PER_SEC        Task executions per second (default: "5")
  PROCESSOR_DEDUP_TTL           How long executed trigger ids are remembered (default: "48h")
  WEBHOOK_URL                   Endpoint receiving email, sms, discord and token tasks (optional)
  WEBHOOK_SECRET                HMAC key for the webhook signature (optional)
  WEBHOOK_BREAKER_THRESHOLD     Consecutive failures per task kind before pausing delivery (default: 5, 0 disables)
  WEBHOOK_BREAKER_COOLDOWN      Pause before a paused task kind is retried (default: 2m)

  HTTP_ADDR                     HTTP server address (default: ":8080", or ":$PORT")
  HTTP_SHUTDOWN_TIMEOUT         Graceful HTTP shutdown timeout (default: "10s")
  METRICS_ENABLED               Enable Prometheus metrics (default: "false")
  METRICS_PATH                  Metrics endpoint path (default: "/metrics")
  LOG_LEVEL                     trace, debug, info, warn, error (default: "info")
  LOG_FORMAT                    console or json (default: "console")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logger = logger.With().Str("service", "harmonybadger").Logger()

	zone, err := timezone.New(cfg.LocalTimeZone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	for _, w := range configWarnings(cfg) {
		logger.Warn().Msg(w)
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		logger.Info().Str("path", cfg.MetricsPath).Msg("metrics enabled")
	}

	store := taskconfig.NewStore(cfg.TaskConfigsDir).WithMetrics(sink).WithLogger(logger)
	if _, err := store.Reload(); err != nil {
		logger.Error().Err(err).Str("dir", cfg.TaskConfigsDir).Msg("failed to load task configs")
		return exitRuntimeError
	}

	evaluator := scheduler.NewEvaluator(&cronParserAdapter{parser: cron.NewParser()}, zone, cfg.MaxTriggersPerSchedule).
		WithMetrics(sink).
		WithLogger(logger)

	proc := processor.New(processor.Config{
		RatePerSec: cfg.ProcessorRatePerSec,
		DedupTTL:   cfg.ProcessorDedupTTL,
	}).WithMetrics(sink).WithLogger(logger)
	proc.Register(domain.TaskTest, processor.NewTestHandler(logger))
	if cfg.WebhookURL != "" {
		breaker := circuitbreaker.New(cfg.WebhookBreakerThreshold, cfg.WebhookBreakerCooldown)
		webhook := processor.NewWebhookHandler(cfg.WebhookURL, cfg.WebhookSecret).
			WithBreaker(breaker).
			WithLogger(logger)
		for _, kind := range externalTaskKinds {
			proc.Register(kind, webhook)
		}
	}

	// Consumers stop in order: scheduler and watcher first, then the queue,
	// then the processor drains what is left.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	processorCtx, cancelProcessor := context.WithCancel(context.Background())
	defer cancelScheduler()
	defer cancelQueue()
	defer cancelProcessor()

	var (
		publisher   scheduler.Publisher
		events      <-chan domain.TriggerEvent
		closeQueue  func()
		queueWg     sync.WaitGroup
		redisClient *redis.Client
	)

	switch cfg.QueueMode {
	case config.QueueModeRedis:
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			logger.Error().Err(err).Str("redis", cfg.RedisAddr).Msg("failed to connect to redis")
			return exitRuntimeError
		}

		queue := redisqueue.New(redisClient, redisqueue.Config{
			KeyPrefix:    cfg.RedisQueueKey,
			PollInterval: cfg.QueuePollInterval,
		}).WithLogger(logger)
		ch := make(chan domain.TriggerEvent, cfg.EventBusBufferSize)
		queueWg.Add(1)
		go func() {
			defer queueWg.Done()
			defer close(ch)
			_ = queue.Consume(queueCtx, ch)
		}()
		publisher, events = queue, ch
		closeQueue = func() {
			cancelQueue()
			queueWg.Wait()
		}
		logger.Info().Str("redis", cfg.RedisAddr).Str("key", cfg.RedisQueueKey).Msg("using redis queue")

	default:
		bus := channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(sink), channel.WithLogger(logger))
		publisher, events = bus, bus.Channel()
		closeQueue = bus.Close
		logger.Info().Int("buffer", cfg.EventBusBufferSize).Msg("using in-memory event bus")
	}

	runner := scheduler.NewRunner(scheduler.RunnerConfig{
		Schedule:          cfg.SchedulerCron,
		RunOnStartup:      cfg.SchedulerRunOnStartup,
		ImmediateDelivery: cfg.SchedulerImmediateDelivery,
		Zone:              zone,
	}, store, evaluator, publisher).WithMetrics(sink).WithLogger(logger)

	handler := api.NewHandler(runner, evaluator, store).WithLogger(logger)
	if cfg.MetricsEnabled {
		handler = handler.WithMetricsHandler(cfg.MetricsPath, promhttp.Handler())
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	var schedulerWg, processorWg sync.WaitGroup

	runScheduler := func(ctx context.Context) {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scheduler exited")
		}
	}

	schedulerWg.Add(1)
	if redisClient != nil {
		// Instances sharing a redis queue elect one scheduler.
		lease := leaderelection.NewRedisLease(redisClient, cfg.RedisQueueKey+":leader")
		elector := leaderelection.New(lease, leaderelection.Config{TTL: cfg.LeaderLeaseTTL}, runScheduler, nil).
			WithMetrics(sink).
			WithLogger(logger)
		go func() {
			defer schedulerWg.Done()
			elector.Run(schedulerCtx)
		}()
	} else {
		go func() {
			defer schedulerWg.Done()
			runScheduler(schedulerCtx)
		}()
	}

	if cfg.TaskConfigsWatch {
		schedulerWg.Add(1)
		go func() {
			defer schedulerWg.Done()
			if err := store.Watch(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("task config watcher exited")
			}
		}()
	}

	processorWg.Add(1)
	go func() {
		defer processorWg.Done()
		proc.Run(processorCtx, events)
	}()

	logger.Info().
		Str("zone", cfg.LocalTimeZone).
		Str("schedule", cfg.SchedulerCron).
		Str("queue", cfg.QueueMode).
		Str("version", version).
		Msg("started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	logger.Info().Str("signal", received.String()).Msg("shutting down")

	// Phase 1: Stop scheduler and watcher (no new events published)
	cancelScheduler()
	schedulerWg.Wait()
	logger.Info().Msg("scheduler stopped")

	// Phase 2: Stop the queue. Delayed in-memory events are dropped; the
	// redis queue keeps them for the next start.
	closeQueue()
	logger.Info().Msg("queue stopped")

	// Phase 3: Stop processor (drains buffered events before returning)
	cancelProcessor()
	processorWg.Wait()
	logger.Info().Msg("processor stopped")

	// Phase 4: Stop HTTP server with graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	logger.Info().Msg("stopped")
	return exitSuccess
}

// configWarnings lists configurations that run but are likely mistakes.
func configWarnings(cfg config.Config) []string {
	var warnings []string
	if cfg.QueueMode == config.QueueModeChannel && !cfg.SchedulerImmediateDelivery {
		warnings = append(warnings,
			"QUEUE_MODE=channel holds delayed triggers in memory; triggers pending at shutdown are lost")
	}
	if cfg.WebhookURL == "" {
		warnings = append(warnings,
			"WEBHOOK_URL not set; only Test tasks will be executed")
	} else if cfg.WebhookSecret == "" {
		warnings = append(warnings,
			"WEBHOOK_SECRET not set; webhook requests are signed with an empty key")
	}
	if cfg.SchedulerImmediateDelivery {
		warnings = append(warnings,
			"SCHEDULER_IMMEDIATE_DELIVERY=true; tasks run as soon as they are evaluated, up to an hour early")
	}
	return warnings
}

// runEvaluate prints the trigger events of a window without publishing them.
func runEvaluate(args []string, out io.Writer) int {
	cfg := config.Load()

	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	startStr := fs.String("start", "", "window start, RFC 3339 (default: next full hour)")
	endStr := fs.String("end", "", "window end, RFC 3339 (default: start + 1h)")
	dir := fs.String("dir", cfg.TaskConfigsDir, "task config directory")
	zoneName := fs.String("zone", cfg.LocalTimeZone, "local time zone")
	if err := fs.Parse(args); err != nil {
		return exitInvalidConfig
	}

	zone, err := timezone.New(*zoneName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	start, end, err := evaluationWindow(timezone.NewClock(zone, time.Now), *startStr, *endStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	tasks, loadErr := taskconfig.LoadDir(*dir)
	var loadErrs taskconfig.LoadErrors
	if loadErr != nil && !errors.As(loadErr, &loadErrs) {
		fmt.Fprintf(os.Stderr, "failed to load task configs: %v\n", loadErr)
		return exitRuntimeError
	}
	for _, le := range loadErrs {
		fmt.Fprintf(os.Stderr, "skipping %v\n", le)
	}

	evaluator := scheduler.NewEvaluator(&cronParserAdapter{parser: cron.NewParser()}, zone, cfg.MaxTriggersPerSchedule)
	events, evalErr := evaluator.GetTriggeredTasks(tasks, start, end, "cli")
	var recErrs scheduler.RecordErrors
	if errors.As(evalErr, &recErrs) {
		for _, re := range recErrs {
			fmt.Fprintf(os.Stderr, "%v\n", re)
		}
	} else if evalErr != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %v\n", evalErr)
		return exitRuntimeError
	}
	if events == nil {
		events = []domain.TriggerEvent{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode events: %v\n", err)
		return exitRuntimeError
	}
	return exitSuccess
}

// evaluationWindow resolves the evaluate flags. With no start, the window
// is the one the scheduler would evaluate now.
func evaluationWindow(clock *timezone.Clock, startStr, endStr string) (start, end time.Time, err error) {
	if startStr == "" {
		start, end = scheduler.Window(clock.UTCNow())
	} else {
		start, err = time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
		}
		start = start.UTC()
		end = start.Add(time.Hour)
	}
	if endStr != "" {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
		end = end.UTC()
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("-end must be after -start")
	}
	return start, end, nil
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	tasks, err := taskconfig.LoadDir(cfg.TaskConfigsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Printf("configuration valid (%d task configs)\n", len(tasks))
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
	fmt.Printf("harmonybadger version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
