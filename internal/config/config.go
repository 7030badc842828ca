// Package config loads the gate timer configuration from YAML over
// compiled-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/gate-timer/internal/announce"
	"github.com/sweeney/gate-timer/internal/gpio"
	"github.com/sweeney/gate-timer/internal/logic"
)

// Config is the complete daemon configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Detector  DetectorConfig  `yaml:"detector"`
	Announcer AnnouncerConfig `yaml:"announcer"`
	Buzzer    BuzzerConfig    `yaml:"buzzer"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// DeviceConfig locates the timing device's HTTP API.
type DeviceConfig struct {
	URL            string        `yaml:"url"` // empty runs without a device
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	SyncConfig     bool          `yaml:"sync_config"` // seed settings from the device at startup
}

// DetectorConfig holds the crossing thresholds and tick rate.
type DetectorConfig struct {
	Enter  int           `yaml:"enter"`
	Exit   int           `yaml:"exit"`
	Tick   time.Duration `yaml:"tick"`
	Active bool          `yaml:"active"` // start the signal stream at startup
}

// AnnouncerConfig holds speech settings.
type AnnouncerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Mode          string        `yaml:"mode"`
	Rate          float64       `yaml:"rate"`
	Pilot         string        `yaml:"pilot"`
	Poll          time.Duration `yaml:"poll"`
	SpeechCommand string        `yaml:"speech_command"`
}

// BuzzerConfig selects the GPIO line driving the buzzer.
type BuzzerConfig struct {
	Chip    string `yaml:"chip"`
	Line    int    `yaml:"line"` // negative disables the buzzer
	Passive bool   `yaml:"passive"`
}

// MQTTConfig holds the broker connection. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// HTTPConfig holds the status server address. Empty disables the server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls logging. An empty file logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			URL:            "http://192.168.4.1",
			RequestTimeout: 5 * time.Second,
			ReconnectDelay: 2 * time.Second,
			SyncConfig:     true,
		},
		Detector: DetectorConfig{
			Enter:  logic.DefaultEnterLevel,
			Exit:   logic.DefaultExitLevel,
			Tick:   200 * time.Millisecond,
			Active: true,
		},
		Announcer: AnnouncerConfig{
			Enabled:       true,
			Mode:          "tone",
			Rate:          1.0,
			Poll:          100 * time.Millisecond,
			SpeechCommand: announce.DefaultSpeechCommand,
		},
		Buzzer: BuzzerConfig{
			Chip: gpio.DefaultChip,
			Line: gpio.DefaultLine,
		},
		MQTT: MQTTConfig{
			ClientID:    "gate-timer",
			TopicPrefix: "gate-timer",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// AnnouncerMode returns the parsed announcer mode.
func (c Config) AnnouncerMode() logic.AnnouncerMode {
	m, _ := logic.ParseAnnouncerMode(c.Announcer.Mode)
	return m
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Detector.Enter < logic.MinLevel || c.Detector.Enter > logic.MaxLevel {
		return fmt.Errorf("detector.enter %d outside [%d, %d]", c.Detector.Enter, logic.MinLevel, logic.MaxLevel)
	}
	if c.Detector.Exit < logic.MinLevel || c.Detector.Exit > logic.MaxLevel {
		return fmt.Errorf("detector.exit %d outside [%d, %d]", c.Detector.Exit, logic.MinLevel, logic.MaxLevel)
	}
	if c.Detector.Enter <= c.Detector.Exit {
		return fmt.Errorf("detector.enter %d must be above detector.exit %d", c.Detector.Enter, c.Detector.Exit)
	}
	if c.Detector.Tick <= 0 {
		return fmt.Errorf("detector.tick must be positive, got %v", c.Detector.Tick)
	}
	if c.Announcer.Rate <= 0 {
		return fmt.Errorf("announcer.rate must be positive, got %v", c.Announcer.Rate)
	}
	if c.Announcer.Poll <= 0 {
		return fmt.Errorf("announcer.poll must be positive, got %v", c.Announcer.Poll)
	}
	if _, err := logic.ParseAnnouncerMode(c.Announcer.Mode); err != nil {
		return fmt.Errorf("announcer.mode: %w", err)
	}
	if c.Device.URL != "" {
		if c.Device.RequestTimeout <= 0 {
			return fmt.Errorf("device.request_timeout must be positive, got %v", c.Device.RequestTimeout)
		}
		if c.Device.ReconnectDelay <= 0 {
			return fmt.Errorf("device.reconnect_delay must be positive, got %v", c.Device.ReconnectDelay)
		}
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return errors.New("log.max_size_mb and log.max_backups must not be negative")
	}
	return nil
}
