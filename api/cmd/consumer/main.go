package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/api/internal/repos"
	"citizen-grievance-platform/shared/config"
	"citizen-grievance-platform/shared/dbx"
	"citizen-grievance-platform/shared/events"
	"citizen-grievance-platform/shared/logx"
	"citizen-grievance-platform/shared/metricsx"
	"citizen-grievance-platform/shared/mqx"
	"citizen-grievance-platform/shared/observability"
)

func main() {
	cfg, problems := config.Load("consumer", 8082)
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
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "grievance-status-projector"
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

	reader, err := mqx.NewConsumer(cfg, events.TopicComplaintStatus, groupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka consumer init failed", logx.Err(err))
		os.Exit(1)
	}
	defer reader.Close()

	complaintsRepo := repos.NewComplaintsRepo(pool, repos.NewOutboxRepo(pool))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
		cancel()
	}()

	lagDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-lagDone:
				return
			case <-ticker.C:
				stats := reader.Stats()
				metricsx.SetKafkaLag(events.TopicComplaintStatus, groupID, stats.Lag)
			}
		}
	}()

	logger.Info(ctx, "service_start", "consumer started",
		slog.String("topic", events.TopicComplaintStatus),
		slog.String("group_id", groupID),
	)

	tracer := otel.Tracer("mqx")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error(ctx, "kafka_fetch_failed", "fetch failed", logx.Err(err))
			time.Sleep(time.Second)
			continue
		}

		msgCtx, span := tracer.Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		)
		if err := handleStatusEvent(msgCtx, logger, complaintsRepo, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handle failed")
			span.End()
			logger.Error(msgCtx, "event_handle_failed", "event handling failed",
				slog.Int64("offset", msg.Offset), logx.Err(err))
			// Leave the message uncommitted so the group retries it.
			time.Sleep(time.Second)
			continue
		}
		span.End()

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "commit failed", logx.Err(err))
		}
	}

	close(lagDone)
	logger.Info(context.Background(), "service_stop", "consumer stopped")
}

// handleStatusEvent projects a status-changed event into the complaint status
// log. The insert is keyed on the envelope's event id, so redeliveries and
// entries already written by the API process are no-ops.
func handleStatusEvent(ctx context.Context, logger logx.Logger, repo *repos.ComplaintsRepo, msg kafka.Message) error {
	var envelope events.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		// Malformed payloads are logged and skipped; retrying cannot fix them.
		logger.Warn(ctx, "event_malformed", "dropping undecodable event",
			slog.Int64("offset", msg.Offset), logx.Err(err))
		return nil
	}
	if envelope.EventID == uuid.Nil || envelope.AggregateID == uuid.Nil {
		logger.Warn(ctx, "event_malformed", "dropping event without identifiers",
			slog.Int64("offset", msg.Offset))
		return nil
	}
	if envelope.EventType != events.EventStatusChanged {
		return nil
	}

	var payload events.StatusChangedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		logger.Warn(ctx, "event_malformed", "dropping event with undecodable payload",
			slog.String("event_id", envelope.EventID.String()), logx.Err(err))
		return nil
	}

	entry := models.StatusLogEntry{
		EntryID:     envelope.EventID,
		ComplaintID: payload.ComplaintID,
		ToStatus:    payload.ToStatus,
		Actor:       payload.Actor,
		OccurredAt:  payload.OccurredAt,
	}
	if payload.FromStatus != "" {
		entry.FromStatus = &payload.FromStatus
	}
	if strings.TrimSpace(payload.Comment) != "" {
		comment := strings.TrimSpace(payload.Comment)
		entry.Comment = &comment
	}

	inserted, err := repo.IngestStatusLogEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("ingest status log entry: %w", err)
	}
	if inserted {
		logger.Info(ctx, "status_event_ingested", "status event ingested",
			slog.String("complaint_id", payload.ComplaintID.String()),
			slog.String("to_status", payload.ToStatus),
		)
	}
	return nil
}
