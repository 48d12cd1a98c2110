// Package config provides agent configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// local API server, the cloud sync client, the local store backends, the
// print agent's control channel, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// PrinterConfig describes one physical receipt printer the agent may
// address. Parsed from POS_PRINTERS as "name=host:port" entries.
type PrinterConfig struct {
	Name    string
	Address string // host:port of the raw ESC/POS socket, usually :9100
}

// CloudConfig defines how the agent reaches the cloud API.
type CloudConfig struct {
	BaseURL        string        // CLOUD_BASE_URL (e.g. "https://pos.example.com")
	EnterpriseID   string        // ENTERPRISE_ID
	PropertyID     string        // PROPERTY_ID
	WorkstationID  string        // WORKSTATION_ID
	RequestTimeout time.Duration // CLOUD_REQUEST_TIMEOUT per pull/push call
	ProbeTimeout   time.Duration // HEALTH_PROBE_TIMEOUT for the reachability probe
	ProbeInterval  time.Duration // HEALTH_PROBE_INTERVAL
	PullInterval   time.Duration // SYNC_PULL_INTERVAL periodic full pull
	PushInterval   time.Duration // SYNC_PUSH_INTERVAL queue drain cadence
	PushBatchSize  int           // SYNC_PUSH_BATCH max ops per drain pass
}

// StoreConfig defines the local store backends.
//
// AllowPlaintextFallback makes the degrade-vs-refuse policy explicit:
// when the structured SQLite store cannot be opened, true falls back to
// the unencrypted file-backed store so the terminal keeps serving, false
// refuses to start. Sites that mandate encryption at rest set it false.
type StoreConfig struct {
	DBPath                 string        // DB_PATH SQLite file
	FilePath               string        // FILE_STORE_PATH fallback JSON file
	AllowPlaintextFallback bool          // STORE_ALLOW_PLAINTEXT_FALLBACK
	IdempotencyTTL         time.Duration // IDEMPOTENCY_TTL
	IdempotencyPurgeEvery  time.Duration // IDEMPOTENCY_PURGE_INTERVAL
}

// PrintConfig defines the print agent's control channel and delivery knobs.
type PrintConfig struct {
	ControlURL        string        // PRINT_CONTROL_URL websocket endpoint
	AgentToken        string        // PRINT_AGENT_TOKEN presented in HELLO
	AgentID           string        // PRINT_AGENT_ID stable agent identity
	HeartbeatInterval time.Duration // PRINT_HEARTBEAT_INTERVAL
	DeliveryTimeout   time.Duration // PRINT_DELIVERY_TIMEOUT connect+write per job
	JobRetryDelay     time.Duration // PRINT_JOB_RETRY_DELAY between local retries
	Printers          []PrinterConfig
	DefaultPrinter    string // WORKSTATION_PRINTER, the workstation's own device
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "pos-agent")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CORSConfig defines Cross-Origin Resource Sharing settings for the local API.
type CORSConfig struct {
	AllowedOrigins []string
}

// Config holds all configuration values for the agent process.
type Config struct {
	// Local API server
	Port              string        // just the number
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Rate limiting (local API)
	RateRPS   float64
	RateBurst int

	CORS  CORSConfig
	Cloud CloudConfig
	Store StoreConfig
	Print PrintConfig
	OTEL  OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8085"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		RateRPS:   getfloat("RATE_RPS", 50.0),
		RateBurst: getint("RATE_BURST", 100),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		Cloud: CloudConfig{
			BaseURL:        strings.TrimRight(getenv("CLOUD_BASE_URL", "http://localhost:8080"), "/"),
			EnterpriseID:   getenv("ENTERPRISE_ID", ""),
			PropertyID:     getenv("PROPERTY_ID", ""),
			WorkstationID:  getenv("WORKSTATION_ID", ""),
			RequestTimeout: getdur("CLOUD_REQUEST_TIMEOUT", 15*time.Second),
			ProbeTimeout:   getdur("HEALTH_PROBE_TIMEOUT", 3*time.Second),
			ProbeInterval:  getdur("HEALTH_PROBE_INTERVAL", 10*time.Second),
			PullInterval:   getdur("SYNC_PULL_INTERVAL", 15*time.Minute),
			PushInterval:   getdur("SYNC_PUSH_INTERVAL", 30*time.Second),
			PushBatchSize:  getint("SYNC_PUSH_BATCH", 50),
		},

		Store: StoreConfig{
			DBPath:                 getenv("DB_PATH", "pos-agent.db"),
			FilePath:               getenv("FILE_STORE_PATH", "pos-agent.json"),
			AllowPlaintextFallback: getbool("STORE_ALLOW_PLAINTEXT_FALLBACK", true),
			IdempotencyTTL:         getdur("IDEMPOTENCY_TTL", 24*time.Hour),
			IdempotencyPurgeEvery:  getdur("IDEMPOTENCY_PURGE_INTERVAL", time.Hour),
		},

		Print: PrintConfig{
			ControlURL:        getenv("PRINT_CONTROL_URL", ""),
			AgentToken:        getenv("PRINT_AGENT_TOKEN", ""),
			AgentID:           getenv("PRINT_AGENT_ID", ""),
			HeartbeatInterval: getdur("PRINT_HEARTBEAT_INTERVAL", 30*time.Second),
			DeliveryTimeout:   getdur("PRINT_DELIVERY_TIMEOUT", 10*time.Second),
			JobRetryDelay:     getdur("PRINT_JOB_RETRY_DELAY", 2*time.Second),
			Printers:          parsePrinters(getenv("POS_PRINTERS", "")),
			DefaultPrinter:    getenv("WORKSTATION_PRINTER", ""),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "pos-agent"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Store.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Store.FilePath) == "" {
		return cfg, errors.New("FILE_STORE_PATH must not be empty")
	}
	if cfg.Store.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Cloud.RequestTimeout <= 0 || cfg.Cloud.ProbeTimeout <= 0 {
		return cfg, errors.New("cloud timeouts must be positive durations")
	}
	if cfg.Cloud.ProbeInterval <= 0 || cfg.Cloud.PullInterval <= 0 || cfg.Cloud.PushInterval <= 0 {
		return cfg, errors.New("sync intervals must be positive durations")
	}
	if cfg.Cloud.PushBatchSize < 1 {
		return cfg, errors.New("SYNC_PUSH_BATCH must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Print.HeartbeatInterval <= 0 || cfg.Print.DeliveryTimeout <= 0 {
		return cfg, errors.New("print intervals must be positive durations")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parsePrinters parses "front=192.168.1.21:9100,bar=192.168.1.22:9100"
// into printer configs. Malformed entries are skipped.
func parsePrinters(s string) []PrinterConfig {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]PrinterConfig, 0, len(parts))
	for _, p := range parts {
		name, addr, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || name == "" || addr == "" {
			continue
		}
		out = append(out, PrinterConfig{Name: name, Address: addr})
	}
	return out
}
