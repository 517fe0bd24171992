package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"citizen-grievance-platform/api/internal/catalog"
	"citizen-grievance-platform/api/internal/lifecycle"
	"citizen-grievance-platform/api/internal/middleware"
	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/api/internal/repos"
	"citizen-grievance-platform/api/internal/reports"
	"citizen-grievance-platform/api/internal/sla"
	"citizen-grievance-platform/shared/authx"
	"citizen-grievance-platform/shared/cachex"
	"citizen-grievance-platform/shared/config"
	"citizen-grievance-platform/shared/dbx"
	"citizen-grievance-platform/shared/httpx"
	"citizen-grievance-platform/shared/logx"
	"citizen-grievance-platform/shared/metricsx"
	"citizen-grievance-platform/shared/observability"
	"citizen-grievance-platform/shared/scopex"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

// transitionsByRole is the role gate in front of the status graph; the graph
// itself is enforced by the lifecycle package.
var transitionsByRole = map[string]map[string]bool{
	scopex.RoleCitizen: {
		lifecycle.StatusReopened: true,
	},
	scopex.RoleMaintenance: {
		lifecycle.StatusInProgress: true,
		lifecycle.StatusResolved:   true,
	},
	scopex.RoleWardOfficer: {
		lifecycle.StatusAssigned:   true,
		lifecycle.StatusInProgress: true,
		lifecycle.StatusResolved:   true,
		lifecycle.StatusClosed:     true,
	},
}

func roleMayTransition(role string, toStatus string) bool {
	if role == scopex.RoleAdmin {
		return true
	}
	return transitionsByRole[role][lifecycle.Normalize(toStatus)]
}

func main() {
	cfg, readyProblems := config.Load("api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
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

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed", logx.Err(err))
		}
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		var err error
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "continuing without shared cache", logx.Err(err))
			cache = nil
		}
	}

	outboxRepo := repos.NewOutboxRepo(dbPool)
	complaintsRepo := repos.NewComplaintsRepo(dbPool, outboxRepo)
	typeConfigRepo := repos.NewTypeConfigRepo(dbPool)
	wardsRepo := repos.NewWardsRepo(dbPool)
	escalationsRepo := repos.NewEscalationsRepo(dbPool)
	auditRepo := repos.NewAuditRepo(dbPool)

	var resolverCache catalog.Cache
	if cache != nil {
		resolverCache = cache
	}
	resolver := catalog.NewResolver(typeConfigRepo, resolverCache, cfg.SLACacheTTL)
	engine := reports.NewEngine(
		repos.NewReportStore(complaintsRepo, wardsRepo),
		resolver,
		reports.WithDefaultSLAHours(cfg.SLADefaultHours),
		reports.WithWarningWindow(cfg.SLAWarningWindow),
	)

	var verifier *authx.JWTVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		var err error
		verifier, err = authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		}
	}

	slaView := func(ctx context.Context, c models.Complaint, now time.Time) map[string]any {
		hours, source := resolver.ResolveSLAHours(ctx, c.Type, cfg.SLADefaultHours)
		deadline := sla.ComputeDeadline(c, hours)
		classification := sla.Classify(c, deadline, now, cfg.SLAWarningWindow)
		view := map[string]any{
			"sla_hours":         hours,
			"sla_source":        source,
			"sla_status":        classification,
			"historical_status": sla.HistoricalStatus(classification),
		}
		if deadline != nil {
			view["deadline"] = deadline.Format(time.RFC3339)
		}
		return view
	}

	requireScope := func(w http.ResponseWriter, r *http.Request) (scopex.Scope, bool) {
		scope, ok := scopex.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing scope", nil)
		}
		return scope, ok
	}

	parseReportFilter := func(w http.ResponseWriter, r *http.Request) (reports.AggregationFilter, bool) {
		f, err := reports.ParseFilter(r.URL.Query(), time.Now().UTC())
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
			return reports.AggregationFilter{}, false
		}
		return f, true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: invalid configuration", map[string]any{"problems": readyProblems})
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: database unavailable", map[string]any{"problem": "db_ping_failed"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ready", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		auth, ok := authx.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
			return
		}
		scope, _ := scopex.FromContext(r.Context())
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"subject": auth.Subject,
			"email":   auth.Email,
			"name":    auth.Name,
			"roles":   auth.Roles,
			"role":    scope.Role,
			"ward_id": scope.WardID,
		})
	})

	mux.HandleFunc("POST /api/v1/complaints", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		var body struct {
			Type        string     `json:"type"`
			Priority    string     `json:"priority"`
			WardID      string     `json:"ward_id"`
			SubZoneID   *string    `json:"sub_zone_id"`
			Description string     `json:"description"`
			Deadline    *time.Time `json:"deadline"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body", nil)
			return
		}
		typeKey := catalog.NormalizeKey(body.Type)
		if typeKey == "" || strings.TrimSpace(body.WardID) == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "type and ward_id are required", nil)
			return
		}
		if !scope.CrossWard() && scope.WardID != "" && body.WardID != scope.WardID {
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", "ward outside caller scope", nil)
			return
		}
		priority := strings.ToLower(strings.TrimSpace(body.Priority))
		if priority == "" {
			priority = resolver.Resolve(r.Context(), typeKey).Priority
			if priority == "" {
				priority = "medium"
			}
		}
		c, err := complaintsRepo.Create(r.Context(), models.Complaint{
			Type:        typeKey,
			Priority:    priority,
			WardID:      strings.TrimSpace(body.WardID),
			SubZoneID:   body.SubZoneID,
			Description: strings.TrimSpace(body.Description),
			Deadline:    body.Deadline,
		})
		if err != nil {
			logger.Error(r.Context(), "complaint_create_failed", "complaint create failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create complaint", nil)
			return
		}
		if _, err := complaintsRepo.IngestStatusLogEntry(r.Context(), models.StatusLogEntry{
			ComplaintID: c.ComplaintID,
			ToStatus:    lifecycle.StatusRegistered,
			Actor:       scope.Subject,
			OccurredAt:  c.SubmittedOn,
		}); err != nil {
			logger.Warn(r.Context(), "status_log_write_failed", "initial status log write failed", logx.Err(err))
		}
		httpx.WriteJSON(w, http.StatusCreated, c)
	})

	mux.HandleFunc("GET /api/v1/complaints", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		f, ok := parseReportFilter(w, r)
		if !ok {
			return
		}
		f = reports.ApplyScope(f, scope)
		list, err := complaintsRepo.ListComplaints(r.Context(), f)
		if err != nil {
			logger.Error(r.Context(), "complaint_list_failed", "complaint list failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list complaints", nil)
			return
		}
		now := time.Now().UTC()
		items := make([]map[string]any, 0, len(list))
		for _, c := range list {
			items = append(items, map[string]any{
				"complaint": c,
				"sla":       slaView(r.Context(), c, now),
			})
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"items":  items,
			"limit":  f.Limit,
			"offset": f.Offset,
		})
	})

	mux.HandleFunc("GET /api/v1/complaints/{id}", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		complaintID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid complaint id", nil)
			return
		}
		c, err := complaintsRepo.GetByID(r.Context(), complaintID)
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "complaint not found", nil)
			return
		}
		if err != nil {
			logger.Error(r.Context(), "complaint_get_failed", "complaint get failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load complaint", nil)
			return
		}
		if !scope.CrossWard() && scope.WardID != "" && c.WardID != scope.WardID {
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", "complaint outside caller scope", nil)
			return
		}
		log, err := complaintsRepo.StatusLog(r.Context(), complaintID)
		if err != nil {
			logger.Error(r.Context(), "status_log_read_failed", "status log read failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load status log", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"complaint":  c,
			"sla":        slaView(r.Context(), c, time.Now().UTC()),
			"status_log": log,
		})
	})

	mux.HandleFunc("POST /api/v1/complaints/{id}/transition", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		complaintID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid complaint id", nil)
			return
		}
		var body struct {
			ToStatus string `json:"to_status"`
			Comment  string `json:"comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body", nil)
			return
		}
		toStatus := lifecycle.Normalize(body.ToStatus)
		if !lifecycle.IsValid(toStatus) {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown status", nil)
			return
		}
		if !roleMayTransition(scope.Role, toStatus) {
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", "role may not apply this transition", nil)
			return
		}
		c, entry, err := complaintsRepo.TransitionComplaint(r.Context(), complaintID, toStatus, scope.Subject, body.Comment)
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			httpx.WriteError(w, r, http.StatusConflict, "FAILED_PRECONDITION", "transition not allowed from current status", nil)
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "complaint not found", nil)
			return
		}
		if err != nil {
			logger.Error(r.Context(), "transition_failed", "complaint transition failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to apply transition", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"complaint": c,
			"entry":     entry,
			"sla":       slaView(r.Context(), c, time.Now().UTC()),
		})
	})

	mux.HandleFunc("GET /api/v1/reports/dashboard", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		f, ok := parseReportFilter(w, r)
		if !ok {
			return
		}
		report, err := engine.Aggregate(r.Context(), f, scope)
		if err != nil {
			logger.Error(r.Context(), "report_failed", "aggregate report failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to build report", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, report)
	})

	mux.HandleFunc("GET /api/v1/reports/heatmap", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		f, ok := parseReportFilter(w, r)
		if !ok {
			return
		}
		matrix, err := engine.BuildMatrix(r.Context(), f, scope)
		if err != nil {
			logger.Error(r.Context(), "heatmap_failed", "distribution matrix failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to build matrix", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, matrix)
	})

	mux.HandleFunc("GET /api/v1/config/types", func(w http.ResponseWriter, r *http.Request) {
		types, err := resolver.ListTypes(r.Context())
		if err != nil {
			logger.Error(r.Context(), "config_list_failed", "type catalog list failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list types", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"types": types})
	})

	mux.HandleFunc("GET /api/v1/config/types/{key}", func(w http.ResponseWriter, r *http.Request) {
		record := resolver.Resolve(r.Context(), r.PathValue("key"))
		httpx.WriteJSON(w, http.StatusOK, record)
	})

	mux.HandleFunc("PUT /api/v1/config/types/{key}", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		if scope.Role != scopex.RoleAdmin {
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", "admin role required", nil)
			return
		}
		var body struct {
			SLAHours    float64 `json:"sla_hours"`
			DisplayName string  `json:"display_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body", nil)
			return
		}
		if err := resolver.Update(r.Context(), r.PathValue("key"), body.SLAHours, body.DisplayName); err != nil {
			logger.Error(r.Context(), "config_update_failed", "type config update failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusBadGateway, "UNAVAILABLE", "config store write failed", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resolver.Resolve(r.Context(), r.PathValue("key")))
	})

	mux.HandleFunc("GET /api/v1/escalations", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		wardID := strings.TrimSpace(r.URL.Query().Get("ward_id"))
		if !scope.CrossWard() {
			wardID = scope.WardID
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := escalationsRepo.List(r.Context(), wardID, strings.TrimSpace(r.URL.Query().Get("status")), limit)
		if err != nil {
			logger.Error(r.Context(), "escalation_list_failed", "escalation list failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list escalations", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": list})
	})

	mux.HandleFunc("POST /api/v1/escalations/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := requireScope(w, r)
		if !ok {
			return
		}
		if scope.Role != scopex.RoleAdmin && scope.Role != scopex.RoleWardOfficer {
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", "officer or admin role required", nil)
			return
		}
		escalationID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid escalation id", nil)
			return
		}
		acked, err := escalationsRepo.Acknowledge(r.Context(), escalationID, scope.Subject)
		if err != nil {
			logger.Error(r.Context(), "escalation_ack_failed", "escalation ack failed", logx.Err(err))
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to acknowledge escalation", nil)
			return
		}
		if !acked {
			httpx.WriteError(w, r, http.StatusConflict, "FAILED_PRECONDITION", "escalation not open", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	})

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipInfra := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{Pool: dbPool, Skip: skipInfra}.Wrap(handler)
	handler = middleware.AuditMiddleware{
		Enabled: cfg.AuditEnabled,
		Repo:    auditRepo,
		Logger:  logger,
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.ScopeMiddleware{Skip: skipInfra}.Wrap(handler)
	handler = middleware.AuthMiddleware{Verifier: verifier, Skip: skipInfra}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(50, 100, 5*time.Minute),
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{AllowCredentials: true, MaxAge: 10 * time.Minute}.Wrap(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http.server")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed", logx.Err(err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed", logx.Err(err))
	}
	if cache != nil {
		_ = cache.Close()
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
