package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by Config.Transport.
const (
	TransportStdio     = "stdio"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config contains language server configuration.
type Config struct {
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Transport selects how sessions are served: stdio (the default),
	// tcp, or websocket. The listener transports need Listen set.
	Transport string `yaml:"transport,omitempty"`

	// Listen is the host:port address for the tcp and websocket
	// transports.
	Listen string `yaml:"listen,omitempty"`

	// Languages maps a language identifier to the file extensions that
	// select it when a document was not opened with an explicit language.
	Languages map[string][]string `yaml:"languages"`
}

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		Transport: TransportStdio,
		Languages: map[string][]string{
			"go":         {".go"},
			"python":     {".py", ".pyi"},
			"javascript": {".js", ".jsx"},
			"typescript": {".ts", ".tsx"},
			"java":       {".java"},
		},
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefaultConfig writes the built-in configuration to a file.
func GenerateDefaultConfig(path string) error {
	return SaveConfig(GetDefaultConfig(), path)
}

func applyDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Transport == "" {
		// A bare listen address keeps selecting the websocket listener
		// for configurations written before transport existed.
		if config.Listen != "" {
			config.Transport = TransportWebSocket
		} else {
			config.Transport = TransportStdio
		}
	}
	if len(config.Languages) == 0 {
		config.Languages = GetDefaultConfig().Languages
	}
}

func validateConfig(config *Config) error {
	switch config.Transport {
	case TransportStdio:
	case TransportTCP, TransportWebSocket:
		if config.Listen == "" {
			return fmt.Errorf("transport %q requires a listen address", config.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", config.Transport)
	}

	seen := make(map[string]string)
	for language, extensions := range config.Languages {
		if language == "" {
			return fmt.Errorf("language with empty identifier")
		}
		if len(extensions) == 0 {
			return fmt.Errorf("language %q has no file extensions", language)
		}
		for _, ext := range extensions {
			if !strings.HasPrefix(ext, ".") {
				return fmt.Errorf("language %q: extension %q must start with a dot", language, ext)
			}
			if prev, ok := seen[ext]; ok && prev != language {
				return fmt.Errorf("extension %q mapped to both %q and %q", ext, prev, language)
			}
			seen[ext] = language
		}
	}
	return nil
}
