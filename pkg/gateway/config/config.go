package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DatabaseDriver string

const (
	DatabaseNone     DatabaseDriver = ""
	DatabasePostgres DatabaseDriver = "postgres"
	DatabaseSQLite   DatabaseDriver = "sqlite"
)

type Config struct {
	Addr string

	// Persistence. An empty DatabaseURL disables call records.
	DatabaseURL string

	// Artifact storage: S3 when S3Bucket is set, else ArtifactDir when set.
	ArtifactDir       string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	ArtifactBaseURL   string

	// Speech synthesis.
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsModel   string
	TTSMinGap         time.Duration
	TTSTimeout        time.Duration

	// Post-call transcript analysis. Empty key disables it.
	GeminiAPIKey  string
	AnalysisModel string

	ScenarioFile string

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes int64

	// Live WebSocket mode (/v1/calls/live).
	LiveMaxMessageBytes  int64
	LiveHandshakeTimeout time.Duration
	LivePingInterval     time.Duration
	LiveWriteTimeout     time.Duration
	LiveMaxDuration      time.Duration
	GuardrailTimeout     time.Duration

	// Inbound realtime event limits per session. 0 disables a limit.
	LiveMaxEventsPerSecond  int
	LiveMaxBytesPerSecond   int64
	LiveInboundBurstSeconds int

	// Per-client limits, keyed by remote IP. Zero disables a limit.
	ClientRPS             float64
	ClientBurst           int
	MaxLiveCallsPerClient int

	MetricsEnabled bool

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	TeardownTimeout     time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("CALLSIM_ADDR", ":8080"),
		DatabaseURL:             envOr("CALLSIM_DATABASE_URL", ""),
		ArtifactDir:             envOr("CALLSIM_ARTIFACT_DIR", ""),
		S3Bucket:                envOr("CALLSIM_S3_BUCKET", ""),
		S3Region:                envOr("CALLSIM_S3_REGION", "us-east-1"),
		S3Endpoint:              envOr("CALLSIM_S3_ENDPOINT", ""),
		S3AccessKeyID:           envOr("CALLSIM_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:       envOr("CALLSIM_S3_SECRET_ACCESS_KEY", ""),
		ArtifactBaseURL:         envOr("CALLSIM_S3_PUBLIC_BASE_URL", ""),
		ElevenLabsAPIKey:        envOr("CALLSIM_ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL:       envOr("CALLSIM_ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsModel:         envOr("CALLSIM_ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		TTSMinGap:               envDurationOr("CALLSIM_TTS_MIN_GAP", 100*time.Millisecond),
		TTSTimeout:              envDurationOr("CALLSIM_TTS_TIMEOUT", 30*time.Second),
		GeminiAPIKey:            envOr("CALLSIM_GEMINI_API_KEY", ""),
		AnalysisModel:           envOr("CALLSIM_ANALYSIS_MODEL", "gemini-2.5-flash"),
		ScenarioFile:            envOr("CALLSIM_SCENARIO_FILE", ""),
		CORSAllowedOrigins:      make(map[string]struct{}),
		MaxBodyBytes:            envInt64Or("CALLSIM_MAX_BODY_BYTES", 1<<20), // 1 MiB
		LiveMaxMessageBytes:     envInt64Or("CALLSIM_LIVE_MAX_MESSAGE_BYTES", 256*1024),
		LiveHandshakeTimeout:    envDurationOr("CALLSIM_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LivePingInterval:        envDurationOr("CALLSIM_LIVE_PING_INTERVAL", 20*time.Second),
		LiveWriteTimeout:        envDurationOr("CALLSIM_LIVE_WRITE_TIMEOUT", 5*time.Second),
		LiveMaxDuration:         envDurationOr("CALLSIM_LIVE_MAX_DURATION", time.Hour),
		GuardrailTimeout:        envDurationOr("CALLSIM_GUARDRAIL_TIMEOUT", 30*time.Second),
		LiveMaxEventsPerSecond:  envIntOr("CALLSIM_LIVE_MAX_EVENTS_PER_SECOND", 200),
		LiveMaxBytesPerSecond:   envInt64Or("CALLSIM_LIVE_MAX_BYTES_PER_SECOND", 0),
		LiveInboundBurstSeconds: envIntOr("CALLSIM_LIVE_INBOUND_BURST_SECONDS", 2),
		ClientRPS:               envFloatOr("CALLSIM_CLIENT_RPS", 0),
		ClientBurst:             envIntOr("CALLSIM_CLIENT_BURST", 20),
		MaxLiveCallsPerClient:   envIntOr("CALLSIM_MAX_LIVE_CALLS_PER_CLIENT", 0),
		MetricsEnabled:          envBoolOr("CALLSIM_METRICS_ENABLED", true),
		ReadHeaderTimeout:       envDurationOr("CALLSIM_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("CALLSIM_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		TeardownTimeout:         envDurationOr("CALLSIM_TEARDOWN_TIMEOUT", 60*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("CALLSIM_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if _, _, err := cfg.Database(); err != nil {
		return Config{}, err
	}
	if cfg.S3Bucket == "" && (cfg.S3AccessKeyID != "" || cfg.S3SecretAccessKey != "" || cfg.S3Endpoint != "") {
		return Config{}, fmt.Errorf("CALLSIM_S3_BUCKET must be set when other CALLSIM_S3_* settings are present")
	}
	if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return Config{}, fmt.Errorf("CALLSIM_S3_ACCESS_KEY_ID and CALLSIM_S3_SECRET_ACCESS_KEY must be set together")
	}
	if cfg.TTSMinGap < 0 {
		return Config{}, fmt.Errorf("CALLSIM_TTS_MIN_GAP must be >= 0")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_TTS_TIMEOUT must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LivePingInterval <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxDuration <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_MAX_DURATION must be > 0")
	}
	if cfg.GuardrailTimeout < 0 {
		return Config{}, fmt.Errorf("CALLSIM_GUARDRAIL_TIMEOUT must be >= 0")
	}
	if cfg.LiveMaxEventsPerSecond < 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_MAX_EVENTS_PER_SECOND must be >= 0")
	}
	if cfg.LiveMaxBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_MAX_BYTES_PER_SECOND must be >= 0")
	}
	if cfg.LiveInboundBurstSeconds <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_LIVE_INBOUND_BURST_SECONDS must be > 0")
	}
	if cfg.ClientRPS < 0 {
		return Config{}, fmt.Errorf("CALLSIM_CLIENT_RPS must be >= 0")
	}
	if cfg.ClientRPS > 0 && cfg.ClientBurst <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_CLIENT_BURST must be > 0 when CALLSIM_CLIENT_RPS is set")
	}
	if cfg.MaxLiveCallsPerClient < 0 {
		return Config{}, fmt.Errorf("CALLSIM_MAX_LIVE_CALLS_PER_CLIENT must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.TeardownTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLSIM_TEARDOWN_TIMEOUT must be > 0")
	}

	return cfg, nil
}

// Database splits DatabaseURL into a driver and the DSN that driver expects.
func (c Config) Database() (DatabaseDriver, string, error) {
	raw := strings.TrimSpace(c.DatabaseURL)
	switch {
	case raw == "":
		return DatabaseNone, "", nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DatabasePostgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return DatabaseNone, "", fmt.Errorf("CALLSIM_DATABASE_URL sqlite:// requires a file path")
		}
		return DatabaseSQLite, path, nil
	default:
		return DatabaseNone, "", fmt.Errorf("CALLSIM_DATABASE_URL must start with postgres://, postgresql:// or sqlite://")
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloatOr(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
