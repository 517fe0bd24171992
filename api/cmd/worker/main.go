package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"citizen-grievance-platform/api/internal/catalog"
	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/api/internal/repos"
	"citizen-grievance-platform/api/internal/sla"
	"citizen-grievance-platform/shared/cachex"
	"citizen-grievance-platform/shared/config"
	"citizen-grievance-platform/shared/dbx"
	"citizen-grievance-platform/shared/events"
	"citizen-grievance-platform/shared/influxx"
	"citizen-grievance-platform/shared/lockx"
	"citizen-grievance-platform/shared/logx"
	"citizen-grievance-platform/shared/metricsx"
	"citizen-grievance-platform/shared/mqx"
	"citizen-grievance-platform/shared/observability"
)

const (
	taskOutboxScan     = "outbox.scan"
	taskOutboxDispatch = "outbox.dispatch"
	taskSLAScan        = "sla.scan"

	escalationLockKey = "lock:sla-scan"
)

type dispatchPayload struct {
	EventID string `json:"event_id"`
}

func retryDelay(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 5 * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

type worker struct {
	cfg        config.Config
	logger     logx.Logger
	pool       *pgxpool.Pool
	cache      *cachex.Client
	producer   *mqx.Producer
	influx     *influxx.Client
	outbox     *repos.OutboxRepo
	complaints *repos.ComplaintsRepo
	escalation *repos.EscalationsRepo
	resolver   *catalog.Resolver
	client     *asynq.Client
	owner      string
}

func main() {
	cfg, problems := config.Load("worker", 8081)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	for _, p := range problems {
		logger.Warn(context.Background(), "config_problem", "config problem",
			slog.String("field", p.Field), slog.String("problem", p.Message))
	}
	if cfg.DatabaseURL == "" {
		logger.Error(context.Background(), "config_missing", "DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.AsynqRedisAddr == "" {
		logger.Error(context.Background(), "config_missing", "ASYNQ_REDIS_ADDR is required")
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	pool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "database init failed", logx.Err(err))
		os.Exit(1)
	}
	defer pool.Close()

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "continuing without shared cache", logx.Err(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed", logx.Err(err))
		os.Exit(1)
	}
	defer producer.Close()

	var influx *influxx.Client
	if cfg.InfluxURL != "" {
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "continuing without timeseries snapshots", logx.Err(err))
			influx = nil
		} else {
			defer influx.Close()
		}
	}

	outboxRepo := repos.NewOutboxRepo(pool)
	typeConfigRepo := repos.NewTypeConfigRepo(pool)

	var resolverCache catalog.Cache
	if cache != nil {
		resolverCache = cache
	}

	hostname, _ := os.Hostname()
	w := &worker{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		cache:      cache,
		producer:   producer,
		influx:     influx,
		outbox:     outboxRepo,
		complaints: repos.NewComplaintsRepo(pool, outboxRepo),
		escalation: repos.NewEscalationsRepo(pool),
		resolver:   catalog.NewResolver(typeConfigRepo, resolverCache, cfg.SLACacheTTL),
		owner:      fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	w.client = asynq.NewClient(redisOpt)
	defer w.client.Close()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues:      map[string]int{cfg.AsynqQueue: 1},
		Logger:      asynqLogger{logger},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskOutboxScan, w.handleOutboxScan)
	mux.HandleFunc(taskOutboxDispatch, w.handleOutboxDispatch)
	mux.HandleFunc(taskSLAScan, w.handleSLAScan)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register(
		fmt.Sprintf("@every %ds", cfg.OutboxScanSec),
		asynq.NewTask(taskOutboxScan, nil),
		asynq.Queue(cfg.AsynqQueue),
	); err != nil {
		logger.Error(context.Background(), "scheduler_register_failed", "outbox scan registration failed", logx.Err(err))
		os.Exit(1)
	}
	if _, err := scheduler.Register(
		fmt.Sprintf("@every %ds", cfg.EscalationScanSec),
		asynq.NewTask(taskSLAScan, nil),
		asynq.Queue(cfg.AsynqQueue),
	); err != nil {
		logger.Error(context.Background(), "scheduler_register_failed", "sla scan registration failed", logx.Err(err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	depthDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-depthDone:
				return
			case <-ticker.C:
				if info, err := inspector.GetQueueInfo(cfg.AsynqQueue); err == nil {
					metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Pending+info.Active+info.Scheduled+info.Retry)
				}
			}
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- server.Run(mux) }()
	go func() { errCh <- scheduler.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info(context.Background(), "service_start", "worker started",
		slog.String("queue", cfg.AsynqQueue),
		slog.Int("concurrency", cfg.AsynqConcurrency),
		slog.Int("outbox_scan_seconds", cfg.OutboxScanSec),
		slog.Int("sla_scan_seconds", cfg.EscalationScanSec),
	)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error(context.Background(), "worker_failed", "worker failed", logx.Err(err))
		}
	}
	close(depthDone)
	scheduler.Shutdown()
	server.Shutdown()
	logger.Info(context.Background(), "service_stop", "worker stopped")
}

// handleOutboxScan claims due events and fans each one out as its own
// dispatch task so asynq owns the retry bookkeeping per event.
func (w *worker) handleOutboxScan(ctx context.Context, _ *asynq.Task) error {
	if released, err := w.outbox.ReleaseStuck(ctx, 5*time.Minute); err != nil {
		w.logger.Warn(ctx, "outbox_release_failed", "releasing stuck events failed", logx.Err(err))
	} else if released > 0 {
		w.logger.Info(ctx, "outbox_released", "released stuck events", slog.Int64("count", released))
	}

	claimed, err := w.outbox.ClaimPending(ctx, w.owner, w.cfg.OutboxBatchSize)
	if err != nil {
		return fmt.Errorf("claim pending: %w", err)
	}
	for _, event := range claimed {
		payload, err := json.Marshal(dispatchPayload{EventID: event.EventID.String()})
		if err != nil {
			return err
		}
		if _, err := w.client.EnqueueContext(ctx, asynq.NewTask(taskOutboxDispatch, payload),
			asynq.Queue(w.cfg.AsynqQueue), asynq.MaxRetry(0)); err != nil {
			w.logger.Error(ctx, "dispatch_enqueue_failed", "dispatch enqueue failed",
				slog.String("event_id", event.EventID.String()), logx.Err(err))
		}
	}
	if len(claimed) > 0 {
		w.logger.Info(ctx, "outbox_scan", "claimed events", slog.Int("count", len(claimed)))
	}
	return nil
}

func (w *worker) handleOutboxDispatch(ctx context.Context, t *asynq.Task) error {
	var payload dispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode dispatch payload: %w", err)
	}
	eventID, err := uuid.Parse(payload.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	event, err := w.outbox.GetByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if event.Status == repos.OutboxStatusDelivered || event.Status == repos.OutboxStatusDead {
		return nil
	}

	pubErr := w.producer.Publish(ctx, event.Topic, []byte(event.AggregateID.String()), event.Payload, map[string]string{
		"event_id":       event.EventID.String(),
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"published_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if pubErr == nil {
		return w.outbox.MarkDelivered(ctx, event.EventID)
	}

	attempts := event.Attempts + 1
	dead := attempts >= w.cfg.OutboxMaxAttempts
	var nextRetryAt *time.Time
	if !dead {
		retryAt := time.Now().UTC().Add(retryDelay(attempts))
		nextRetryAt = &retryAt
	}
	if err := w.outbox.MarkFailed(ctx, event.EventID, attempts, nextRetryAt, pubErr.Error(), dead); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	w.logger.Warn(ctx, "outbox_publish_failed", "event publish failed",
		slog.String("event_id", event.EventID.String()),
		slog.Int("attempts", attempts),
		slog.Bool("dead", dead),
		logx.Err(pubErr),
	)
	return nil
}

// handleSLAScan walks the active complaints, classifies each against its
// resolved deadline, raises escalations for breaches, and snapshots per-ward
// counts to the timeseries store. A redis lock keeps concurrent workers from
// double-scanning.
func (w *worker) handleSLAScan(ctx context.Context, _ *asynq.Task) error {
	if w.cache != nil {
		lock, acquired, err := lockx.Acquire(ctx, w.cache.Client(), escalationLockKey,
			time.Duration(w.cfg.EscalationScanSec)*time.Second)
		if err != nil {
			w.logger.Warn(ctx, "sla_scan_lock_failed", "scan lock acquire failed", logx.Err(err))
		} else if !acquired {
			return nil
		} else {
			defer func() { _ = lockx.Release(context.Background(), w.cache.Client(), lock) }()
		}
	}

	active, err := w.complaints.ListActiveWithType(ctx, w.cfg.EscalationBatchSize)
	if err != nil {
		return fmt.Errorf("list active complaints: %w", err)
	}

	now := time.Now().UTC()
	type wardCounts struct {
		total   int
		overdue int
		warning int
	}
	byWard := make(map[string]*wardCounts)

	for _, c := range active {
		hours, _ := w.resolver.ResolveSLAHours(ctx, c.Type, w.cfg.SLADefaultHours)
		deadline := sla.ComputeDeadline(c, hours)
		status := sla.Classify(c, deadline, now, w.cfg.SLAWarningWindow)
		metricsx.IncScanComplaint(status)

		counts := byWard[c.WardID]
		if counts == nil {
			counts = &wardCounts{}
			byWard[c.WardID] = counts
		}
		counts.total++

		switch status {
		case sla.StatusOverdue:
			counts.overdue++
			if err := w.raiseEscalation(ctx, c, deadline, now); err != nil {
				w.logger.Error(ctx, "escalation_failed", "escalation raise failed",
					slog.String("complaint_id", c.ComplaintID.String()), logx.Err(err))
			}
		case sla.StatusWarning:
			counts.warning++
		}
	}

	if w.influx != nil {
		for wardID, counts := range byWard {
			err := w.influx.WritePoint(ctx, "sla_ward_snapshot",
				map[string]string{"ward_id": wardID},
				map[string]any{
					"active":  counts.total,
					"overdue": counts.overdue,
					"warning": counts.warning,
				}, now)
			if err != nil {
				metricsx.IncInfluxWriteFailure()
				w.logger.Warn(ctx, "influx_write_failed", "ward snapshot write failed",
					slog.String("ward_id", wardID), logx.Err(err))
			}
		}
	}

	w.logger.Info(ctx, "sla_scan", "scan complete",
		slog.Int("scanned", len(active)),
		slog.Int("wards", len(byWard)),
	)
	return nil
}

func (w *worker) raiseEscalation(ctx context.Context, c models.Complaint, deadline *time.Time, now time.Time) error {
	_, created, err := w.escalation.CreateIfAbsent(ctx, models.Escalation{
		ComplaintID: c.ComplaintID,
		WardID:      c.WardID,
		Type:        c.Type,
		Deadline:    deadline,
		DetectedAt:  now,
		Message:     "sla deadline exceeded",
	})
	if err != nil || !created {
		return err
	}
	metricsx.IncEscalationRaised()

	payload, err := json.Marshal(events.SLABreachPayload{
		ComplaintID: c.ComplaintID,
		Type:        c.Type,
		WardID:      c.WardID,
		Deadline:    deadline,
		DetectedAt:  now,
	})
	if err != nil {
		return err
	}
	envelope := events.Envelope{
		EventID:       uuid.New(),
		OccurredAt:    now,
		AggregateType: events.AggregateComplaint,
		AggregateID:   c.ComplaintID,
		EventType:     events.EventSLABreached,
		WardID:        c.WardID,
		Payload:       payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_, err = w.outbox.Insert(ctx, w.pool, models.OutboxEvent{
		EventID:       envelope.EventID,
		AggregateType: events.AggregateComplaint,
		AggregateID:   c.ComplaintID,
		Topic:         events.TopicComplaintSLA,
		Payload:       body,
	})
	return err
}

// asynqLogger adapts the structured logger to asynq's Logger interface.
type asynqLogger struct {
	logger logx.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(context.Background(), "asynq", fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(context.Background(), "asynq", fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(context.Background(), "asynq", fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(context.Background(), "asynq", fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(context.Background(), "asynq_fatal", fmt.Sprint(args...))
	os.Exit(1)
}
