package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/busmirror/internal/busmirror"
)

// Config is the bmird daemon configuration.
type Config struct {
	Listen ListenConfig `toml:"listen"`
	Decode DecodeConfig `toml:"decode"`
	HTTP   HTTPConfig   `toml:"http"`
	MQTT   MQTTConfig   `toml:"mqtt"`
	CANBus CANBusConfig `toml:"canbus"`
	Stream StreamConfig `toml:"stream"`
}

type ListenConfig struct {
	Addr       string `toml:"addr"`
	ReadBuffer int    `toml:"read_buffer"`
}

type DecodeConfig struct {
	StrictDataLength bool `toml:"strict_data_length"`
	BestEffort       bool `toml:"best_effort"`
}

func (d DecodeConfig) Options() busmirror.Options {
	return busmirror.Options{
		StrictDataLength: d.StrictDataLength,
		BestEffort:       d.BestEffort,
	}
}

type HTTPConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Recent      int      `toml:"recent"`
}

type MQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Broker         string `toml:"broker"`
	ClientID       string `toml:"client_id"`
	TopicPrefix    string `toml:"topic_prefix"`
	QoS            int    `toml:"qos"`
	PublishTimeout string `toml:"publish_timeout"`
}

// Timeout returns the parsed publish timeout. Validate has already
// rejected malformed values.
func (m MQTTConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(m.PublishTimeout))
	if err != nil {
		return 0
	}
	return d
}

type CANBusConfig struct {
	Enabled    bool   `toml:"enabled"`
	Interface  string `toml:"interface"`
	NetworkIDs []int  `toml:"network_ids"`
}

type StreamConfig struct {
	Enabled bool `toml:"enabled"`
}

func Default() Config {
	return Config{
		Listen: ListenConfig{
			Addr:       fmt.Sprintf(":%d", busmirror.DefaultPort),
			ReadBuffer: 64 * 1024,
		},
		HTTP: HTTPConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:9511",
			CorsOrigins: []string{"http://localhost:3000"},
			Recent:      64,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       "bmird",
			TopicPrefix:    "busmirror",
			PublishTimeout: "2s",
		},
		CANBus: CANBusConfig{
			Interface: "vcan0",
		},
		Stream: StreamConfig{
			Enabled: true,
		},
	}
}

// Load overlays the file at path on Default and validates the result.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Listen.Addr = strings.TrimSpace(cfg.Listen.Addr)
	cfg.HTTP.Addr = strings.TrimSpace(cfg.HTTP.Addr)
	cfg.MQTT.Broker = strings.TrimSpace(cfg.MQTT.Broker)
	cfg.MQTT.TopicPrefix = strings.Trim(strings.TrimSpace(cfg.MQTT.TopicPrefix), "/")
	cfg.CANBus.Interface = strings.TrimSpace(cfg.CANBus.Interface)
}

func Validate(cfg Config) error {
	if cfg.Listen.Addr == "" {
		return fmt.Errorf("listen.addr is required")
	}
	if cfg.Listen.ReadBuffer < busmirror.HeaderLen || cfg.Listen.ReadBuffer > 64*1024 {
		return fmt.Errorf("listen.read_buffer must be within [%d, %d]", busmirror.HeaderLen, 64*1024)
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when http is enabled")
	}
	if cfg.HTTP.Recent < 0 {
		return fmt.Errorf("http.recent must not be negative")
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if strings.TrimSpace(cfg.MQTT.ClientID) == "" {
			return fmt.Errorf("mqtt.client_id is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if _, err := time.ParseDuration(strings.TrimSpace(cfg.MQTT.PublishTimeout)); err != nil {
			return fmt.Errorf("parse mqtt.publish_timeout: %w", err)
		}
	}
	if cfg.CANBus.Enabled {
		if cfg.CANBus.Interface == "" {
			return fmt.Errorf("canbus.interface is required when canbus is enabled")
		}
		for i, id := range cfg.CANBus.NetworkIDs {
			if id < 0 || id > 0xFF {
				return fmt.Errorf("canbus.network_ids[%d]=%d out of range", i, id)
			}
		}
	}
	return nil
}
