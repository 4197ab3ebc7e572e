// Package config handles Thingy configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/thingy-control/internal/control"
)

// Pipeline modes.
const (
	// ModeDevice runs the controller side: classify local samples and
	// notify peers of every field transition.
	ModeDevice = "device"
	// ModeHost runs the receiving side: consume broker queues and turn
	// transitions into virtual key events.
	ModeHost = "host"
)

// Classifier inputs.
const (
	InputSimulated = "simulated" // device: synthetic IMU
	InputQueue     = "queue"     // device: control fields written over the broker
	InputNone      = "none"      // device: characteristic writes only
	InputSensor    = "sensor"    // host: raw sensor queues, classified locally
	InputControl   = "control"   // host: control-field queues applied directly
)

// DefaultDeviceID is the peripheral address used in queue names when
// none is configured.
const DefaultDeviceID = "DF:89:2B:DA:0B:CB"

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/thingy/config.yaml, /etc/thingy/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "thingy", "config.yaml"))
	}

	paths = append(paths, "/etc/thingy/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Thingy configuration.
type Config struct {
	Mode       string           `yaml:"mode"`
	Device     DeviceConfig     `yaml:"device"`
	Listen     ListenConfig     `yaml:"listen"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Emitter    EmitterConfig    `yaml:"emitter"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Keyboard   KeyboardConfig   `yaml:"keyboard"`
	Influx     InfluxConfig     `yaml:"influx"`
	Journal    JournalConfig    `yaml:"journal"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text (default) or json
}

// DeviceConfig names the peripheral and service that prefix every
// queue: {id}/{service}/{characteristic uuid}.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Service string `yaml:"service"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MQTTConfig defines the broker connection. An empty Broker disables
// MQTT entirely.
type MQTTConfig struct {
	Broker          string `yaml:"broker"` // mqtt://, mqtts://, tcp:// or ssl://
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	DeviceName      string `yaml:"device_name"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	// QoS for queue subscriptions and notifies. Defaults to 1 when
	// absent; queues are consumed at least once.
	QoS int `yaml:"qos"`
	// Notify publishes every field transition to its queue (device mode).
	Notify bool `yaml:"notify"`
	// PublishIntervalSec is the cadence of diagnostic state updates.
	PublishIntervalSec int `yaml:"publish_interval_sec"`
	// RateWarnPerMinute is the inbound message rate above which a
	// warning is logged. Queue messages are never dropped.
	RateWarnPerMinute int `yaml:"rate_warn_per_minute"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// EmitterConfig sets the edge emitter cadence.
type EmitterConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// ClassifierConfig sets the sampler cadence, its input and the angle
// thresholds.
type ClassifierConfig struct {
	Input      string  `yaml:"input"`
	IntervalMS int     `yaml:"interval_ms"`
	Tilt       float64 `yaml:"tilt"`
	Jump       float64 `yaml:"jump"`
	Spin       float64 `yaml:"spin"`
	Seed       uint64  `yaml:"seed"` // simulated input only
}

// KeyboardConfig defines the host virtual keyboard.
type KeyboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"` // uinput node (default /dev/uinput)
	DeviceName string `yaml:"device_name"`
	// Keys overrides the default keymap: left, right, up, down, shoot,
	// jump and spin mapped to key names.
	Keys map[string]string `yaml:"keys"`
}

// InfluxConfig defines the optional time-series sink. An empty URL
// disables it.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Configured reports whether an InfluxDB URL is set.
func (c InfluxConfig) Configured() bool {
	return c.URL != ""
}

// JournalConfig defines the SQLite transition journal.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"` // default {data_dir}/journal.db
	RetentionDays int    `yaml:"retention_days"`
}

// LoadDotEnv loads KEY=value pairs from each existing path into the
// process environment. Variables already set are left alone; missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file. A .env file next to the
// config is loaded first so ${VAR} references can resolve from it.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := newConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration for mode.
func Default(mode string) *Config {
	cfg := newConfig()
	cfg.Mode = mode
	cfg.applyDefaults()
	return cfg
}

// newConfig presets the fields whose zero value is a valid setting.
// The YAML decoder leaves them alone when the key is absent, so an
// explicit 0 survives applyDefaults.
func newConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{QoS: 1},
		Classifier: ClassifierConfig{
			Tilt: 0.3,
			Jump: -6.5,
			Spin: 3.0,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeHost
	}
	if c.Device.ID == "" {
		c.Device.ID = DefaultDeviceID
	}
	if c.Device.Service == "" {
		c.Device.Service = control.ServiceUUID
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "thingy"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "thingy-" + c.Mode + "-" + c.MQTT.DeviceName
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.MQTT.RateWarnPerMinute == 0 {
		c.MQTT.RateWarnPerMinute = 6000
	}
	if c.Emitter.IntervalMS == 0 {
		if c.Mode == ModeDevice {
			c.Emitter.IntervalMS = 1
		} else {
			c.Emitter.IntervalMS = 100
		}
	}
	if c.Classifier.Input == "" {
		if c.Mode == ModeDevice {
			c.Classifier.Input = InputSimulated
		} else {
			c.Classifier.Input = InputSensor
		}
	}
	if c.Classifier.IntervalMS == 0 {
		c.Classifier.IntervalMS = 100
	}
	if c.Keyboard.DeviceName == "" {
		c.Keyboard.DeviceName = "Thingy Virtual Keyboard"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.DataDir, "journal.db")
	}
	if c.Journal.RetentionDays == 0 {
		c.Journal.RetentionDays = 30
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeDevice:
		switch c.Classifier.Input {
		case InputSimulated, InputNone:
		case InputQueue:
			if !c.MQTT.Configured() {
				errs = append(errs, errors.New("classifier.input queue requires mqtt.broker"))
			}
			// Notifies go out on the consumed queues; the device would
			// read its own retained values back over newer writes.
			if c.MQTT.Notify {
				errs = append(errs, errors.New("classifier.input queue cannot be combined with mqtt.notify: the device would consume its own notifications"))
			}
		default:
			errs = append(errs, fmt.Errorf("classifier.input %q invalid for device mode (valid: simulated, queue, none)", c.Classifier.Input))
		}
	case ModeHost:
		switch c.Classifier.Input {
		case InputSensor, InputControl:
		default:
			errs = append(errs, fmt.Errorf("classifier.input %q invalid for host mode (valid: sensor, control)", c.Classifier.Input))
		}
		if !c.MQTT.Configured() {
			errs = append(errs, errors.New("host mode requires mqtt.broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("mode %q invalid (valid: device, host)", c.Mode))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range 0-2", c.MQTT.QoS))
	}
	if c.Emitter.IntervalMS < 0 {
		errs = append(errs, fmt.Errorf("emitter.interval_ms %d must be positive", c.Emitter.IntervalMS))
	}
	if c.Classifier.IntervalMS < 0 {
		errs = append(errs, fmt.Errorf("classifier.interval_ms %d must be positive", c.Classifier.IntervalMS))
	}
	if c.Classifier.Tilt < 0 {
		errs = append(errs, fmt.Errorf("classifier.tilt %v must be positive", c.Classifier.Tilt))
	}
	if c.Influx.Configured() && c.Influx.Bucket == "" {
		errs = append(errs, errors.New("influx.bucket is required when influx.url is set"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q invalid (valid: text, json)", c.LogFormat))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
