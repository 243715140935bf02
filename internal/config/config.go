package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MimeLyc/print-queue/pkg/icron"
	"github.com/MimeLyc/print-queue/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// Printer:
// - PRINTER_DRIVER: device driver (default: sim)
// - SIM_PRINT_DURATION: simulated print length in seconds (default: 30)
//
// Service:
// - HTTP_ADDR: listen address (default: :5000)
// - DATA_DIR: data directory (default: /app/data)
// - QUEUE_DATA_FILE: queue snapshot (default: <DATA_DIR>/queue_data.json)
// - MONITOR_INTERVAL: seconds between monitor ticks (default: 5)
// - MONITOR_STOP_TIMEOUT: seconds to wait for the monitor on shutdown (default: 10)
//
// Archive:
// - ARCHIVE_ENABLED: mirror archived jobs into SQLite (default: true)
// - ARCHIVE_DB: history database (default: <DATA_DIR>/archive.db)
// - ARCHIVE_CRON: mirror schedule (default: */5 * * * *)
//
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - SETTINGS_FILE: runtime settings file (default: /app/config/settings.json)
type Config struct {
	Printer PrinterConfig `json:"printer"`
	HTTP    HTTPConfig    `json:"http"`
	Queue   QueueConfig   `json:"queue"`
	Monitor MonitorConfig `json:"monitor"`
	Archive ArchiveConfig `json:"archive"`
	System  SystemConfig  `json:"system"`
}

const DriverSim = "sim"

type PrinterConfig struct {
	Driver string `json:"driver"`
	// SimPrintDuration is in seconds.
	SimPrintDuration int `json:"sim_print_duration"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type QueueConfig struct {
	DataFile string `json:"data_file"`
}

type MonitorConfig struct {
	IntervalSeconds    int `json:"interval_seconds"`
	StopTimeoutSeconds int `json:"stop_timeout_seconds"`
}

func (c MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c MonitorConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

type ArchiveConfig struct {
	Enabled  bool   `json:"enabled"`
	DBPath   string `json:"db_path"`
	CronExpr string `json:"cron_expr"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

// QueueDataFile is the snapshot path, defaulting into the data directory.
func (c *Config) QueueDataFile() string {
	if c.Queue.DataFile != "" {
		return c.Queue.DataFile
	}
	return filepath.Join(c.System.DataDir, "queue_data.json")
}

func (c *Config) DBPath() string {
	if c.Archive.DBPath != "" {
		return c.Archive.DBPath
	}
	return filepath.Join(c.System.DataDir, "archive.db")
}

func (c *Config) SimPrintDuration() time.Duration {
	return time.Duration(c.Printer.SimPrintDuration) * time.Second
}

type Option func(*Config)

// LoadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// NewFromEnv creates a Config from environment variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Printer: PrinterConfig{
			Driver:           strings.ToLower(getEnvString("PRINTER_DRIVER", DriverSim)),
			SimPrintDuration: getEnvInt("SIM_PRINT_DURATION", 30),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":5000"),
		},
		Queue: QueueConfig{
			DataFile: getEnvString("QUEUE_DATA_FILE", ""),
		},
		Monitor: MonitorConfig{
			IntervalSeconds:    getEnvInt("MONITOR_INTERVAL", 5),
			StopTimeoutSeconds: getEnvInt("MONITOR_STOP_TIMEOUT", 10),
		},
		Archive: ArchiveConfig{
			Enabled:  getEnvBool("ARCHIVE_ENABLED", true),
			DBPath:   getEnvString("ARCHIVE_DB", ""),
			CronExpr: getEnvString("ARCHIVE_CRON", "*/5 * * * *"),
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: driver=%s http=%s data=%s monitor=%ds archive=%t(%s)",
		config.Printer.Driver, config.HTTP.Addr, config.QueueDataFile(),
		config.Monitor.IntervalSeconds, config.Archive.Enabled, config.Archive.CronExpr)
	return config, nil
}

func (c *Config) validate() error {
	if c.Printer.Driver != DriverSim {
		return fmt.Errorf("unsupported PRINTER_DRIVER %q", c.Printer.Driver)
	}
	if c.Printer.SimPrintDuration <= 0 {
		return fmt.Errorf("SIM_PRINT_DURATION must be positive")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	if c.Monitor.StopTimeoutSeconds <= 0 {
		return fmt.Errorf("MONITOR_STOP_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.Archive.Enabled {
		if err := icron.Validate(c.Archive.CronExpr); err != nil {
			return fmt.Errorf("ARCHIVE_CRON: %w", err)
		}
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
