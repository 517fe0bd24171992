package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration
	OIDCIssuer       string
	OIDCAudience     string
	OIDCJWKSURL      string
	JWKSTTLSeconds   int
	JWTClockSkewSec  int
	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int
	AuditEnabled     bool
	KafkaBrokers     []string
	KafkaClientID    string
	KafkaGroupID     string
	KafkaRetryMax    int
	KafkaWriteMS     int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int
	OutboxScanSec    int
	OutboxBatchSize  int
	OutboxMaxAttempts int
	InfluxURL        string
	InfluxToken      string
	InfluxOrg        string
	InfluxBucket     string
	InfluxTimeoutMS  int
	SLACacheTTLSec   int
	SLACacheTTL      time.Duration
	SLAWarningHours  int
	SLAWarningWindow time.Duration
	SLADefaultHours  float64
	EscalationScanSec   int
	EscalationBatchSize int
	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelSampleRatio  float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:                 envRaw,
		ServiceName:         serviceNameDefault,
		HTTPPort:            httpPortDefault,
		LogLevel:            "info",
		ConfigPath:          strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:    30000,
		OIDCIssuer:          strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		OIDCAudience:        strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		OIDCJWKSURL:         strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")),
		JWKSTTLSeconds:      300,
		JWTClockSkewSec:     60,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:          10,
		DBMinConns:          1,
		DBConnMaxIdleSec:    300,
		DBConnMaxLifeSec:    1800,
		AuditEnabled:        false,
		KafkaRetryMax:       5,
		KafkaWriteMS:        5000,
		AsynqQueue:          "default",
		AsynqConcurrency:    10,
		OutboxScanSec:       5,
		OutboxBatchSize:     50,
		OutboxMaxAttempts:   20,
		InfluxTimeoutMS:     5000,
		SLACacheTTLSec:      300,
		SLAWarningHours:     24,
		SLADefaultHours:     0,
		EscalationScanSec:   300,
		EscalationBatchSize: 200,
		OtelEnabled:         false,
		OtelInsecure:        true,
		OtelSampleRatio:     1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	// Issuer without explicit JWKS URL defaults to the well-known path.
	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.JWKSTTLSeconds <= 0 {
		problems = append(problems, Problem{Field: "JWKS_CACHE_TTL_SECONDS", Message: "JWKS_CACHE_TTL_SECONDS must be > 0"})
		cfg.JWKSTTLSeconds = 300
	}
	if cfg.JWTClockSkewSec < 0 {
		problems = append(problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_IDLE_SECONDS", Message: "DB_CONN_MAX_IDLE_SECONDS must be > 0"})
		cfg.DBConnMaxIdleSec = 300
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_LIFETIME_SECONDS", Message: "DB_CONN_MAX_LIFETIME_SECONDS must be > 0"})
		cfg.DBConnMaxLifeSec = 1800
	}
	if cfg.KafkaRetryMax < 0 {
		problems = append(problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		problems = append(problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if cfg.RedisDB < 0 {
		problems = append(problems, Problem{Field: "REDIS_DB", Message: "REDIS_DB must be >= 0"})
		cfg.RedisDB = 0
	}
	if cfg.AsynqRedisDB < 0 {
		problems = append(problems, Problem{Field: "ASYNQ_REDIS_DB", Message: "ASYNQ_REDIS_DB must be >= 0"})
		cfg.AsynqRedisDB = 0
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.OutboxScanSec <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_SCAN_INTERVAL_SECONDS", Message: "OUTBOX_SCAN_INTERVAL_SECONDS must be > 0"})
		cfg.OutboxScanSec = 5
	}
	if cfg.OutboxBatchSize <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_BATCH_SIZE", Message: "OUTBOX_BATCH_SIZE must be > 0"})
		cfg.OutboxBatchSize = 50
	}
	if cfg.OutboxMaxAttempts <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_MAX_ATTEMPTS", Message: "OUTBOX_MAX_ATTEMPTS must be > 0"})
		cfg.OutboxMaxAttempts = 20
	}
	if cfg.InfluxTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.SLACacheTTLSec <= 0 {
		problems = append(problems, Problem{Field: "SLA_CACHE_TTL_SECONDS", Message: "SLA_CACHE_TTL_SECONDS must be > 0"})
		cfg.SLACacheTTLSec = 300
	}
	cfg.SLACacheTTL = time.Duration(cfg.SLACacheTTLSec) * time.Second
	if cfg.SLAWarningHours < 0 {
		problems = append(problems, Problem{Field: "SLA_WARNING_WINDOW_HOURS", Message: "SLA_WARNING_WINDOW_HOURS must be >= 0"})
		cfg.SLAWarningHours = 24
	}
	cfg.SLAWarningWindow = time.Duration(cfg.SLAWarningHours) * time.Hour
	if cfg.SLADefaultHours < 0 {
		problems = append(problems, Problem{Field: "SLA_DEFAULT_HOURS", Message: "SLA_DEFAULT_HOURS must be >= 0"})
		cfg.SLADefaultHours = 0
	}
	if cfg.EscalationScanSec <= 0 {
		problems = append(problems, Problem{Field: "ESCALATION_SCAN_INTERVAL_SECONDS", Message: "ESCALATION_SCAN_INTERVAL_SECONDS must be > 0"})
		cfg.EscalationScanSec = 300
	}
	if cfg.EscalationBatchSize <= 0 {
		problems = append(problems, Problem{Field: "ESCALATION_BATCH_SIZE", Message: "ESCALATION_BATCH_SIZE must be > 0"})
		cfg.EscalationBatchSize = 200
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func applyEnv(cfg *Config, problems *[]Problem) {
	if v := strings.TrimSpace(os.Getenv("SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}

	portRaw := strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if portRaw == "" {
		portRaw = strings.TrimSpace(os.Getenv("PORT"))
	}
	if portRaw != "" {
		if p, err := strconv.Atoi(portRaw); err != nil || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	applyIntEnv("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, problems)
	if v := strings.TrimSpace(os.Getenv("OIDC_ISSUER")); v != "" {
		cfg.OIDCIssuer = v
	}
	if v := strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")); v != "" {
		cfg.OIDCAudience = v
	}
	if v := strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")); v != "" {
		cfg.OIDCJWKSURL = v
	}
	applyIntEnv("JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds, problems)
	applyIntEnv("JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec, problems)
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	applyIntEnv("DB_MAX_CONNS", &cfg.DBMaxConns, problems)
	applyIntEnv("DB_MIN_CONNS", &cfg.DBMinConns, problems)
	applyIntEnv("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, problems)
	applyIntEnv("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, problems)
	applyBoolEnv("AUDIT_ENABLED", &cfg.AuditEnabled, problems)
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID")); v != "" {
		cfg.KafkaClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_CONSUMER_GROUP")); v != "" {
		cfg.KafkaGroupID = v
	}
	applyIntEnv("KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, problems)
	applyIntEnv("KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, problems)
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.RedisPassword = v
	}
	applyIntEnv("REDIS_DB", &cfg.RedisDB, problems)
	if v := strings.TrimSpace(os.Getenv("ASYNQ_REDIS_ADDR")); v != "" {
		cfg.AsynqRedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ASYNQ_REDIS_PASSWORD")); v != "" {
		cfg.AsynqRedisPass = v
	}
	applyIntEnv("ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, problems)
	if v := strings.TrimSpace(os.Getenv("ASYNQ_QUEUE")); v != "" {
		cfg.AsynqQueue = v
	}
	applyIntEnv("ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, problems)
	applyIntEnv("OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec, problems)
	applyIntEnv("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, problems)
	applyIntEnv("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, problems)
	if v := strings.TrimSpace(os.Getenv("INFLUX_URL")); v != "" {
		cfg.InfluxURL = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_TOKEN")); v != "" {
		cfg.InfluxToken = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_ORG")); v != "" {
		cfg.InfluxOrg = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_BUCKET")); v != "" {
		cfg.InfluxBucket = v
	}
	applyIntEnv("INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, problems)
	applyIntEnv("SLA_CACHE_TTL_SECONDS", &cfg.SLACacheTTLSec, problems)
	applyIntEnv("SLA_WARNING_WINDOW_HOURS", &cfg.SLAWarningHours, problems)
	applyFloatEnv("SLA_DEFAULT_HOURS", &cfg.SLADefaultHours, problems)
	applyIntEnv("ESCALATION_SCAN_INTERVAL_SECONDS", &cfg.EscalationScanSec, problems)
	applyIntEnv("ESCALATION_BATCH_SIZE", &cfg.EscalationBatchSize, problems)
	applyBoolEnv("OTEL_ENABLED", &cfg.OtelEnabled, problems)
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.OtelEndpoint = v
	}
	applyBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", &cfg.OtelInsecure, problems)
	applyFloatEnv("OTEL_SAMPLE_RATIO", &cfg.OtelSampleRatio, problems)
}

func applyIntEnv(name string, dest *int, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be an integer"})
		return
	}
	*dest = n
}

func applyFloatEnv(name string, dest *float64, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be a number"})
		return
	}
	*dest = f
}

func applyBoolEnv(name string, dest *bool, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be a boolean"})
		return
	}
	*dest = b
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch key {
		case "ENV":
			if s, ok := v.(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
		case "SERVICE_NAME":
			applyStringKey(v, &cfg.ServiceName)
		case "HTTP_PORT":
			p, ok := asInt(v)
			if !ok || p <= 0 || p > 65535 {
				*problems = append(*problems, Problem{Field: key, Message: "HTTP_PORT must be 1-65535"})
			} else {
				cfg.HTTPPort = p
			}
		case "LOG_LEVEL":
			applyStringKey(v, &cfg.LogLevel)
		case "REQUEST_TIMEOUT_MS":
			applyIntKey(key, v, &cfg.RequestTimeoutMS, problems)
		case "OIDC_ISSUER":
			applyStringKey(v, &cfg.OIDCIssuer)
		case "OIDC_AUDIENCE":
			applyStringKey(v, &cfg.OIDCAudience)
		case "OIDC_JWKS_URL":
			applyStringKey(v, &cfg.OIDCJWKSURL)
		case "JWKS_CACHE_TTL_SECONDS":
			applyIntKey(key, v, &cfg.JWKSTTLSeconds, problems)
		case "JWT_CLOCK_SKEW_SECONDS":
			applyIntKey(key, v, &cfg.JWTClockSkewSec, problems)
		case "DATABASE_URL":
			applyStringKey(v, &cfg.DatabaseURL)
		case "DB_MAX_CONNS":
			applyIntKey(key, v, &cfg.DBMaxConns, problems)
		case "DB_MIN_CONNS":
			applyIntKey(key, v, &cfg.DBMinConns, problems)
		case "DB_CONN_MAX_IDLE_SECONDS":
			applyIntKey(key, v, &cfg.DBConnMaxIdleSec, problems)
		case "DB_CONN_MAX_LIFETIME_SECONDS":
			applyIntKey(key, v, &cfg.DBConnMaxLifeSec, problems)
		case "AUDIT_ENABLED":
			applyBoolKey(key, v, &cfg.AuditEnabled, problems)
		case "KAFKA_BROKERS":
			if s, ok := v.(string); ok {
				cfg.KafkaBrokers = parseCSV(s)
			} else if arr, ok := v.([]any); ok {
				cfg.KafkaBrokers = parseAnyCSV(arr)
			}
		case "KAFKA_CLIENT_ID":
			applyStringKey(v, &cfg.KafkaClientID)
		case "KAFKA_CONSUMER_GROUP":
			applyStringKey(v, &cfg.KafkaGroupID)
		case "KAFKA_RETRY_MAX":
			applyIntKey(key, v, &cfg.KafkaRetryMax, problems)
		case "KAFKA_WRITE_TIMEOUT_MS":
			applyIntKey(key, v, &cfg.KafkaWriteMS, problems)
		case "REDIS_ADDR":
			applyStringKey(v, &cfg.RedisAddr)
		case "REDIS_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.RedisPassword = s
			}
		case "REDIS_DB":
			applyIntKey(key, v, &cfg.RedisDB, problems)
		case "ASYNQ_REDIS_ADDR":
			applyStringKey(v, &cfg.AsynqRedisAddr)
		case "ASYNQ_REDIS_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.AsynqRedisPass = s
			}
		case "ASYNQ_REDIS_DB":
			applyIntKey(key, v, &cfg.AsynqRedisDB, problems)
		case "ASYNQ_QUEUE":
			applyStringKey(v, &cfg.AsynqQueue)
		case "ASYNQ_CONCURRENCY":
			applyIntKey(key, v, &cfg.AsynqConcurrency, problems)
		case "OUTBOX_SCAN_INTERVAL_SECONDS":
			applyIntKey(key, v, &cfg.OutboxScanSec, problems)
		case "OUTBOX_BATCH_SIZE":
			applyIntKey(key, v, &cfg.OutboxBatchSize, problems)
		case "OUTBOX_MAX_ATTEMPTS":
			applyIntKey(key, v, &cfg.OutboxMaxAttempts, problems)
		case "INFLUX_URL":
			applyStringKey(v, &cfg.InfluxURL)
		case "INFLUX_TOKEN":
			if s, ok := v.(string); ok {
				cfg.InfluxToken = s
			}
		case "INFLUX_ORG":
			applyStringKey(v, &cfg.InfluxOrg)
		case "INFLUX_BUCKET":
			applyStringKey(v, &cfg.InfluxBucket)
		case "INFLUX_TIMEOUT_MS":
			applyIntKey(key, v, &cfg.InfluxTimeoutMS, problems)
		case "SLA_CACHE_TTL_SECONDS":
			applyIntKey(key, v, &cfg.SLACacheTTLSec, problems)
		case "SLA_WARNING_WINDOW_HOURS":
			applyIntKey(key, v, &cfg.SLAWarningHours, problems)
		case "SLA_DEFAULT_HOURS":
			applyFloatKey(key, v, &cfg.SLADefaultHours, problems)
		case "ESCALATION_SCAN_INTERVAL_SECONDS":
			applyIntKey(key, v, &cfg.EscalationScanSec, problems)
		case "ESCALATION_BATCH_SIZE":
			applyIntKey(key, v, &cfg.EscalationBatchSize, problems)
		case "OTEL_ENABLED":
			applyBoolKey(key, v, &cfg.OtelEnabled, problems)
		case "OTEL_EXPORTER_OTLP_ENDPOINT":
			applyStringKey(v, &cfg.OtelEndpoint)
		case "OTEL_EXPORTER_OTLP_INSECURE":
			applyBoolKey(key, v, &cfg.OtelInsecure, problems)
		case "OTEL_SAMPLE_RATIO":
			applyFloatKey(key, v, &cfg.OtelSampleRatio, problems)
		}
	}
}

func applyStringKey(v any, dest *string) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		*dest = strings.TrimSpace(s)
	}
}

func applyIntKey(name string, v any, dest *int, problems *[]Problem) {
	n, ok := asInt(v)
	if !ok {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be an integer"})
		return
	}
	*dest = n
}

func applyFloatKey(name string, v any, dest *float64, problems *[]Problem) {
	f, ok := asFloat(v)
	if !ok {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be a number"})
		return
	}
	*dest = f
}

func applyBoolKey(name string, v any, dest *bool, problems *[]Problem) {
	switch t := v.(type) {
	case bool:
		*dest = t
	case string:
		if b, ok := asBool(t); ok {
			*dest = b
		} else {
			*problems = append(*problems, Problem{Field: name, Message: name + " must be a boolean"})
		}
	default:
		*problems = append(*problems, Problem{Field: name, Message: name + " must be a boolean"})
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
