package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"github.com/natefinch/atomic"

	"github.com/KobraKid/bestiary-sub000/pkg/templating"
)

// ServerConfig holds the configuration for the HTTP server and the store.
type ServerConfig struct {
	ServerAddr     string `json:"server_addr"`
	LogLevel       string `json:"log_level"`
	PackagesDir    string `json:"packages_dir"`
	WatchTemplates bool   `json:"watch_templates"`
	DatabaseDriver string `json:"database_driver"`
	DatabasePath   string `json:"database_path"`
	MongoURI       string `json:"mongo_uri"`
	MongoDatabase  string `json:"mongo_database"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config"`
	Templates *templating.TemplateConfig `json:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:     ":7280",
		LogLevel:       "info",
		PackagesDir:    "./data/packages",
		WatchTemplates: false,
		DatabaseDriver: "sqlite",
		DatabasePath:   "./data/bestiary.db?_journal_mode=WAL&_busy_timeout=5000",
		MongoURI:       "mongodb://localhost:27017",
		MongoDatabase:  "bestiary",
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		Server:    DefaultServerConfig(),
		Templates: templating.DefaultConfig(),
	}

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The defaults are still usable.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Templates == nil {
		config.Templates = templating.DefaultConfig()
	}
	return config, nil
}

// ConfigManager handles thread-safe access to the configuration and pushes
// template settings to the manager.
type ConfigManager struct {
	config     *Config
	configPath string
	tm         *templating.Manager
	mu         sync.RWMutex
}

// NewConfigManager loads the config at path.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{config: cfg, configPath: path}, nil
}

// SetTemplateManager registers the template manager to receive config updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.Manager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// UpdateTemplates applies new template settings, then saves the whole config to disk.
func (cm *ConfigManager) UpdateTemplates(templates *templating.TemplateConfig) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.tm != nil {
		if err := cm.tm.SetConfig(templates); err != nil {
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}
	cm.config.Templates = templates

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// parseLevel maps a config log level onto a charm log level.
func parseLevel(level string) charmlog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// newLogger builds the process logger. The charm logger serves as the slog
// handler so every package logs through log/slog.
func newLogger(w io.Writer, level string) *slog.Logger {
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           parseLevel(level),
	})
	return slog.New(handler)
}
