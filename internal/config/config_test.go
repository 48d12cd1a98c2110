package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults must succeed: %v", err)
	}
	if cfg.Port != "8085" {
		t.Errorf("Port default = %q", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode default = %q", cfg.GinMode)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q", cfg.LogLevel)
	}
	if !cfg.Store.AllowPlaintextFallback {
		t.Errorf("plaintext fallback must default on")
	}
	if cfg.Store.IdempotencyTTL != 24*time.Hour {
		t.Errorf("IdempotencyTTL default = %v", cfg.Store.IdempotencyTTL)
	}
	if cfg.Cloud.PullInterval != 15*time.Minute || cfg.Cloud.PushInterval != 30*time.Second {
		t.Errorf("sync interval defaults wrong: %v / %v", cfg.Cloud.PullInterval, cfg.Cloud.PushInterval)
	}
	if cfg.Cloud.PushBatchSize != 50 {
		t.Errorf("PushBatchSize default = %d", cfg.Cloud.PushBatchSize)
	}
	if cfg.Print.ControlURL != "" {
		t.Errorf("control channel must default off, got %q", cfg.Print.ControlURL)
	}
	if cfg.OTEL.Enabled {
		t.Errorf("OTEL must default off")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("GIN_MODE", "bogus")    // normalized to release
	t.Setenv("CLOUD_BASE_URL", "https://pos.example.com/")
	t.Setenv("SYNC_PUSH_BATCH", "10")
	t.Setenv("STORE_ALLOW_PLAINTEXT_FALLBACK", "off")
	t.Setenv("PRINT_HEARTBEAT_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("warning must normalize to warn, got %q", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Errorf("unknown gin mode must normalize to release, got %q", cfg.GinMode)
	}
	if cfg.Cloud.BaseURL != "https://pos.example.com" {
		t.Errorf("base URL must drop the trailing slash, got %q", cfg.Cloud.BaseURL)
	}
	if cfg.Cloud.PushBatchSize != 10 {
		t.Errorf("PushBatchSize = %d", cfg.Cloud.PushBatchSize)
	}
	if cfg.Store.AllowPlaintextFallback {
		t.Errorf("off must disable the fallback")
	}
	if cfg.Print.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Print.HeartbeatInterval)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		key, val, wantSub string
	}{
		{"LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"IDEMPOTENCY_TTL", "-1h", "IDEMPOTENCY_TTL"},
		{"SYNC_PUSH_BATCH", "0", "SYNC_PUSH_BATCH"},
		{"RATE_BURST", "0", "RATE_BURST"},
		{"OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
		{"CLOUD_REQUEST_TIMEOUT", "-5s", "cloud timeouts"},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			t.Setenv(c.key, c.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), c.wantSub) {
				t.Fatalf("%s=%s: expected error mentioning %q, got %v", c.key, c.val, c.wantSub, err)
			}
		})
	}
}

func TestParsePrinters(t *testing.T) {
	got := parsePrinters("front=192.168.1.21:9100, bar=192.168.1.22:9100,broken,=10.0.0.1:9100")
	want := []PrinterConfig{
		{Name: "front", Address: "192.168.1.21:9100"},
		{Name: "bar", Address: "192.168.1.22:9100"},
	}
	if len(got) != len(want) {
		t.Fatalf("parsePrinters returned %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if parsePrinters("") != nil {
		t.Errorf("empty input must yield nil")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,, c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("splitCSV = %v", got)
	}
	if splitCSV("") != nil {
		t.Fatalf("empty input must yield nil")
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("FLAG", "YES")
	if !getbool("FLAG", false) {
		t.Errorf("YES must parse true")
	}
	t.Setenv("FLAG", "0")
	if getbool("FLAG", true) {
		t.Errorf("0 must parse false")
	}
	t.Setenv("FLAG", "maybe")
	if !getbool("FLAG", true) {
		t.Errorf("garbage must fall back to the default")
	}
}
