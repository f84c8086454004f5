package config

import (
	"strings"
	"testing"
	"time"
)

var callsimEnvKeys = []string{
	"CALLSIM_ADDR",
	"CALLSIM_DATABASE_URL",
	"CALLSIM_ARTIFACT_DIR",
	"CALLSIM_S3_BUCKET",
	"CALLSIM_S3_REGION",
	"CALLSIM_S3_ENDPOINT",
	"CALLSIM_S3_ACCESS_KEY_ID",
	"CALLSIM_S3_SECRET_ACCESS_KEY",
	"CALLSIM_S3_PUBLIC_BASE_URL",
	"CALLSIM_ELEVENLABS_API_KEY",
	"CALLSIM_ELEVENLABS_BASE_URL",
	"CALLSIM_ELEVENLABS_MODEL",
	"CALLSIM_TTS_MIN_GAP",
	"CALLSIM_TTS_TIMEOUT",
	"CALLSIM_GEMINI_API_KEY",
	"CALLSIM_ANALYSIS_MODEL",
	"CALLSIM_SCENARIO_FILE",
	"CALLSIM_CORS_ORIGINS",
	"CALLSIM_MAX_BODY_BYTES",
	"CALLSIM_LIVE_MAX_MESSAGE_BYTES",
	"CALLSIM_LIVE_HANDSHAKE_TIMEOUT",
	"CALLSIM_LIVE_PING_INTERVAL",
	"CALLSIM_LIVE_WRITE_TIMEOUT",
	"CALLSIM_LIVE_MAX_DURATION",
	"CALLSIM_GUARDRAIL_TIMEOUT",
	"CALLSIM_LIVE_MAX_EVENTS_PER_SECOND",
	"CALLSIM_LIVE_MAX_BYTES_PER_SECOND",
	"CALLSIM_LIVE_INBOUND_BURST_SECONDS",
	"CALLSIM_CLIENT_RPS",
	"CALLSIM_CLIENT_BURST",
	"CALLSIM_MAX_LIVE_CALLS_PER_CLIENT",
	"CALLSIM_METRICS_ENABLED",
	"CALLSIM_READ_HEADER_TIMEOUT",
	"CALLSIM_SHUTDOWN_GRACE_PERIOD",
	"CALLSIM_TEARDOWN_TIMEOUT",
}

func clearCallsimEnv(t *testing.T) {
	t.Helper()
	for _, key := range callsimEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearCallsimEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if driver, _, _ := cfg.Database(); driver != DatabaseNone {
		t.Fatalf("Database() driver = %q, want none", driver)
	}
	if cfg.ElevenLabsBaseURL != "https://api.elevenlabs.io" || cfg.ElevenLabsModel != "eleven_multilingual_v2" {
		t.Fatalf("ElevenLabs = %q %q", cfg.ElevenLabsBaseURL, cfg.ElevenLabsModel)
	}
	if cfg.TTSMinGap != 100*time.Millisecond {
		t.Fatalf("TTSMinGap = %v, want 100ms", cfg.TTSMinGap)
	}
	if cfg.TTSTimeout != 30*time.Second {
		t.Fatalf("TTSTimeout = %v, want 30s", cfg.TTSTimeout)
	}
	if cfg.S3Region != "us-east-1" {
		t.Fatalf("S3Region = %q", cfg.S3Region)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, int64(1<<20))
	}
	if cfg.LiveMaxMessageBytes != 256*1024 {
		t.Fatalf("LiveMaxMessageBytes = %d, want 262144", cfg.LiveMaxMessageBytes)
	}
	if cfg.LiveHandshakeTimeout != 5*time.Second {
		t.Fatalf("LiveHandshakeTimeout = %v, want 5s", cfg.LiveHandshakeTimeout)
	}
	if cfg.LivePingInterval != 20*time.Second {
		t.Fatalf("LivePingInterval = %v, want 20s", cfg.LivePingInterval)
	}
	if cfg.LiveWriteTimeout != 5*time.Second {
		t.Fatalf("LiveWriteTimeout = %v, want 5s", cfg.LiveWriteTimeout)
	}
	if cfg.LiveMaxDuration != time.Hour {
		t.Fatalf("LiveMaxDuration = %v, want 1h", cfg.LiveMaxDuration)
	}
	if cfg.GuardrailTimeout != 30*time.Second {
		t.Fatalf("GuardrailTimeout = %v, want 30s", cfg.GuardrailTimeout)
	}
	if cfg.LiveMaxEventsPerSecond != 200 || cfg.LiveMaxBytesPerSecond != 0 || cfg.LiveInboundBurstSeconds != 2 {
		t.Fatalf("inbound limits = %d %d %d, want 200 0 2", cfg.LiveMaxEventsPerSecond, cfg.LiveMaxBytesPerSecond, cfg.LiveInboundBurstSeconds)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.TeardownTimeout != time.Minute {
		t.Fatalf("TeardownTimeout = %v, want 1m", cfg.TeardownTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
	if cfg.ClientRPS != 0 || cfg.ClientBurst != 20 || cfg.MaxLiveCallsPerClient != 0 {
		t.Fatalf("client limits = %v %d %d, want 0 20 0", cfg.ClientRPS, cfg.ClientBurst, cfg.MaxLiveCallsPerClient)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = false, want true")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearCallsimEnv(t)
	t.Setenv("CALLSIM_ADDR", ":9090")
	t.Setenv("CALLSIM_DATABASE_URL", "sqlite:///var/lib/callsim/calls.db")
	t.Setenv("CALLSIM_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("CALLSIM_GUARDRAIL_TIMEOUT", "0")
	t.Setenv("CALLSIM_TTS_MIN_GAP", "250ms")
	t.Setenv("CALLSIM_S3_BUCKET", "calls")
	t.Setenv("CALLSIM_S3_ACCESS_KEY_ID", "AKIA")
	t.Setenv("CALLSIM_S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("CALLSIM_CLIENT_RPS", "0.5")
	t.Setenv("CALLSIM_MAX_LIVE_CALLS_PER_CLIENT", "2")
	t.Setenv("CALLSIM_METRICS_ENABLED", "false")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	driver, dsn, err := cfg.Database()
	if err != nil || driver != DatabaseSQLite || dsn != "/var/lib/callsim/calls.db" {
		t.Fatalf("Database() = %q, %q, %v", driver, dsn, err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Fatalf("missing https://b.example")
	}
	if cfg.GuardrailTimeout != 0 {
		t.Fatalf("GuardrailTimeout = %v, want 0", cfg.GuardrailTimeout)
	}
	if cfg.TTSMinGap != 250*time.Millisecond {
		t.Fatalf("TTSMinGap = %v", cfg.TTSMinGap)
	}
	if cfg.ClientRPS != 0.5 || cfg.MaxLiveCallsPerClient != 2 || cfg.MetricsEnabled {
		t.Fatalf("limits = %v %d metrics=%v", cfg.ClientRPS, cfg.MaxLiveCallsPerClient, cfg.MetricsEnabled)
	}
}

func TestLoadFromEnv_InvalidDurationFallsBack(t *testing.T) {
	clearCallsimEnv(t)
	t.Setenv("CALLSIM_LIVE_PING_INTERVAL", "often")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.LivePingInterval != 20*time.Second {
		t.Fatalf("LivePingInterval = %v, want default", cfg.LivePingInterval)
	}
}

func TestLoadFromEnv_Rejects(t *testing.T) {
	tests := []struct {
		key, value string
		wantVar    string
	}{
		{"CALLSIM_DATABASE_URL", "mysql://x", "CALLSIM_DATABASE_URL"},
		{"CALLSIM_DATABASE_URL", "sqlite://", "CALLSIM_DATABASE_URL"},
		{"CALLSIM_S3_ENDPOINT", "http://minio:9000", "CALLSIM_S3_BUCKET"},
		{"CALLSIM_TTS_TIMEOUT", "-1s", "CALLSIM_TTS_TIMEOUT"},
		{"CALLSIM_LIVE_MAX_MESSAGE_BYTES", "0", "CALLSIM_LIVE_MAX_MESSAGE_BYTES"},
		{"CALLSIM_LIVE_WRITE_TIMEOUT", "0s", "CALLSIM_LIVE_WRITE_TIMEOUT"},
		{"CALLSIM_GUARDRAIL_TIMEOUT", "-5s", "CALLSIM_GUARDRAIL_TIMEOUT"},
		{"CALLSIM_TEARDOWN_TIMEOUT", "-1s", "CALLSIM_TEARDOWN_TIMEOUT"},
		{"CALLSIM_LIVE_MAX_EVENTS_PER_SECOND", "-1", "CALLSIM_LIVE_MAX_EVENTS_PER_SECOND"},
		{"CALLSIM_LIVE_INBOUND_BURST_SECONDS", "0", "CALLSIM_LIVE_INBOUND_BURST_SECONDS"},
		{"CALLSIM_CLIENT_RPS", "-2", "CALLSIM_CLIENT_RPS"},
		{"CALLSIM_MAX_LIVE_CALLS_PER_CLIENT", "-1", "CALLSIM_MAX_LIVE_CALLS_PER_CLIENT"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearCallsimEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantVar) {
				t.Fatalf("error %q does not name %s", err, tt.wantVar)
			}
		})
	}
}

func TestLoadFromEnv_S3KeysTogether(t *testing.T) {
	clearCallsimEnv(t)
	t.Setenv("CALLSIM_S3_BUCKET", "calls")
	t.Setenv("CALLSIM_S3_ACCESS_KEY_ID", "AKIA")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "CALLSIM_S3_SECRET_ACCESS_KEY") {
		t.Fatalf("err=%v", err)
	}
}

func TestDatabase_Postgres(t *testing.T) {
	cfg := Config{DatabaseURL: "postgresql://u:p@db:5432/callsim"}
	driver, dsn, err := cfg.Database()
	if err != nil || driver != DatabasePostgres || dsn != cfg.DatabaseURL {
		t.Fatalf("Database() = %q, %q, %v", driver, dsn, err)
	}
}
