package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"breaker-monitor/internal/tariff"
)

// Config mirrors config/config.yaml.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Tuya     TuyaConfig    `yaml:"tuya"`
	Polling  PollingConfig `yaml:"polling"`
	Storage  StorageConfig `yaml:"storage"`
	HTTP     HTTPConfig    `yaml:"http"`
	Modbus   ModbusConfig  `yaml:"modbus"`
	Influx   InfluxConfig  `yaml:"influx"`
	Tariff   TariffConfig  `yaml:"tariff"`
	Log      LogConfig     `yaml:"log"`
	Timezone string        `yaml:"timezone"`
}

type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type TuyaConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessID  string        `yaml:"access_id"`
	AccessKey string        `yaml:"access_key"`
	Timeout   time.Duration `yaml:"timeout"`

	// ConnectTimeout bounds the initial token retry loop.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type PollingConfig struct {
	// Interval of 0 disables polling; the service then relies on push.
	Interval time.Duration `yaml:"interval"`
}

type StorageConfig struct {
	DBPath     string `yaml:"db_path"`
	Workbook   string `yaml:"workbook"`
	QueueSize  int    `yaml:"queue_size"`
	JournalDir string `yaml:"journal_dir"`

	// JournalFormat is json, csv or both. Empty journal_dir disables the journal.
	JournalFormat string `yaml:"journal_format"`
}

type HTTPConfig struct {
	Listen         string        `yaml:"listen"`
	PushToken      string        `yaml:"push_token"`
	SwitchCacheTTL time.Duration `yaml:"switch_cache_ttl"`
}

type ModbusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type TariffConfig struct {
	Currency string       `yaml:"currency"`
	Slabs    tariff.Table `yaml:"slabs"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for any key the file omits.
func Default() Config {
	return Config{
		Tuya: TuyaConfig{
			Endpoint:       "https://openapi.tuyain.com",
			Timeout:        10 * time.Second,
			ConnectTimeout: 2 * time.Minute,
		},
		Polling: PollingConfig{Interval: 30 * time.Second},
		Storage: StorageConfig{
			DBPath:        "data/breaker.sqlite",
			Workbook:      "data/breaker.xlsx",
			QueueSize:     256,
			JournalFormat: "both",
		},
		HTTP: HTTPConfig{
			Listen:         ":8080",
			SwitchCacheTTL: 10 * time.Second,
		},
		Modbus:   ModbusConfig{Listen: ":1502"},
		Tariff:   TariffConfig{Currency: "BDT"},
		Log:      LogConfig{Level: "info"},
		Timezone: "Asia/Dhaka",
	}
}

// LoadYAML reads path over the defaults, applies environment overrides and validates.
func LoadYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse is LoadYAML without the file read.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	if len(cfg.Tariff.Slabs) == 0 {
		cfg.Tariff.Slabs = tariff.DefaultTable()
	}
	if cfg.Storage.QueueSize <= 0 {
		cfg.Storage.QueueSize = 256
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Tuya.AccessID, "TUYA_ACCESS_ID")
	set(&c.Tuya.AccessKey, "TUYA_ACCESS_KEY")
	set(&c.Device.ID, "TUYA_DEVICE_ID")
	set(&c.Influx.Token, "INFLUX_TOKEN")
	set(&c.HTTP.PushToken, "PUSH_TOKEN")
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Device.ID) == "" {
		return errors.New("device.id is required")
	}
	if c.Polling.Interval < 0 {
		return errors.New("polling.interval must not be negative")
	}
	if err := c.Tariff.Slabs.Validate(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	switch strings.ToLower(c.Storage.JournalFormat) {
	case "json", "jsonl", "csv", "both", "":
	default:
		return fmt.Errorf("unsupported storage.journal_format %q", c.Storage.JournalFormat)
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return errors.New("influx.url and influx.bucket are required when influx is enabled")
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PollingEnabled reports whether a Tuya poller should run.
func (c Config) PollingEnabled() bool {
	return c.Polling.Interval > 0 && c.Tuya.AccessID != "" && c.Tuya.AccessKey != ""
}
