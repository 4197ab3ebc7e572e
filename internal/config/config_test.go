package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mode: host\n"), 0600)

	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	tests := []struct {
		mode         string
		wantEmitter  int
		wantInput    string
		wantClientID string
	}{
		{ModeDevice, 1, InputSimulated, "thingy-device-thingy"},
		{ModeHost, 100, InputSensor, "thingy-host-thingy"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			os.WriteFile(path, []byte("mode: "+tt.mode+"\n"), 0600)

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if cfg.Emitter.IntervalMS != tt.wantEmitter {
				t.Errorf("emitter.interval_ms = %d, want %d", cfg.Emitter.IntervalMS, tt.wantEmitter)
			}
			if cfg.Classifier.Input != tt.wantInput {
				t.Errorf("classifier.input = %q, want %q", cfg.Classifier.Input, tt.wantInput)
			}
			if cfg.MQTT.ClientID != tt.wantClientID {
				t.Errorf("mqtt.client_id = %q, want %q", cfg.MQTT.ClientID, tt.wantClientID)
			}
			if cfg.Device.ID != DefaultDeviceID {
				t.Errorf("device.id = %q, want %q", cfg.Device.ID, DefaultDeviceID)
			}
			if cfg.Device.Service != "0000dad0-0000-0000-0000-000000000000" {
				t.Errorf("device.service = %q", cfg.Device.Service)
			}
			if cfg.Classifier.Tilt != 0.3 || cfg.Classifier.Jump != -6.5 || cfg.Classifier.Spin != 3.0 {
				t.Errorf("thresholds = %v/%v/%v, want 0.3/-6.5/3", cfg.Classifier.Tilt, cfg.Classifier.Jump, cfg.Classifier.Spin)
			}
			if cfg.Journal.Path != filepath.Join("data", "journal.db") {
				t.Errorf("journal.path = %q, want data/journal.db", cfg.Journal.Path)
			}
			if cfg.Journal.RetentionDays != 30 {
				t.Errorf("journal.retention_days = %d, want 30", cfg.Journal.RetentionDays)
			}
		})
	}
}

func TestLoad_ExplicitZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  qos: 0\nclassifier:\n  tilt: 0\n  jump: 0\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Classifier.Tilt != 0 || cfg.Classifier.Jump != 0 {
		t.Errorf("tilt/jump = %v/%v, want 0/0", cfg.Classifier.Tilt, cfg.Classifier.Jump)
	}
	if cfg.Classifier.Spin != 3.0 {
		t.Errorf("spin = %v, want default 3", cfg.Classifier.Spin)
	}
	if cfg.MQTT.QoS != 0 {
		t.Errorf("mqtt.qos = %d, want 0", cfg.MQTT.QoS)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  password: ${THINGY_TEST_PASSWORD}\n"), 0600)
	t.Setenv("THINGY_TEST_PASSWORD", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".env"), []byte("THINGY_TEST_BROKER=mqtt://broker.lan:1883\n"), 0600)
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  broker: ${THINGY_TEST_BROKER}\n"), 0600)
	t.Setenv("THINGY_TEST_BROKER", "")
	os.Unsetenv("THINGY_TEST_BROKER")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Broker != "mqtt://broker.lan:1883" {
		t.Errorf("broker = %q, want value from .env", cfg.MQTT.Broker)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mode: [unterminated\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"host ok", func(c *Config) { c.MQTT.Broker = "mqtt://localhost:1883" }, ""},
		{"host without broker", func(c *Config) {}, "host mode requires mqtt.broker"},
		{"bad mode", func(c *Config) { c.Mode = "peripheral" }, `mode "peripheral" invalid`},
		{"host with device input", func(c *Config) {
			c.MQTT.Broker = "mqtt://localhost:1883"
			c.Classifier.Input = InputSimulated
		}, "invalid for host mode"},
		{"qos range", func(c *Config) {
			c.MQTT.Broker = "mqtt://localhost:1883"
			c.MQTT.QoS = 3
		}, "mqtt.qos 3"},
		{"influx without bucket", func(c *Config) {
			c.MQTT.Broker = "mqtt://localhost:1883"
			c.Influx.URL = "http://localhost:8086"
		}, "influx.bucket"},
		{"bad log level", func(c *Config) {
			c.MQTT.Broker = "mqtt://localhost:1883"
			c.LogLevel = "chatty"
		}, `log_level "chatty" not recognized`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(ModeHost)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DeviceModes(t *testing.T) {
	cfg := Default(ModeDevice)
	if err := cfg.Validate(); err != nil {
		t.Errorf("default device config: %v", err)
	}

	cfg.Classifier.Input = InputQueue
	if err := cfg.Validate(); err == nil {
		t.Error("queue input without broker should fail")
	}

	cfg.MQTT.Broker = "mqtt://localhost:1883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("queue input with broker: %v", err)
	}

	cfg.MQTT.Notify = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mqtt.notify") {
		t.Errorf("queue input with notify: Validate() = %v, want mqtt.notify error", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLogLevel_Unknown(t *testing.T) {
	_, err := ParseLogLevel("verbose")
	if err == nil {
		t.Fatal("ParseLogLevel(\"verbose\") should fail")
	}
	if !strings.Contains(err.Error(), "use trace, debug, info, warn or error") {
		t.Errorf("error = %q, want the accepted levels listed", err)
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("level = %q, want TRACE", a.Value.String())
	}
	a = ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelDebug))
	if a.Value.Any() != slog.LevelDebug {
		t.Errorf("debug level rewritten to %v", a.Value)
	}
}
