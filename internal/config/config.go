package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	LogLevel  string       `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string       `yaml:"log_format" env:"LOG_FORMAT"` // json or text
	Codec     CodecConfig  `yaml:"codec"`
	Audit     AuditConfig  `yaml:"audit"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Watch     WatchConfig  `yaml:"watch"`
}

// CodecConfig holds packet codec settings.
type CodecConfig struct {
	Algorithm  string `yaml:"algorithm" env:"CODEC_ALGORITHM"`     // 3DES, CAST5, Blowfish, AES-128, AES-192, AES-256, Twofish
	KeyFile    string `yaml:"key_file" env:"CODEC_KEY_FILE"`       // hex-encoded session key
	DisableMDC bool   `yaml:"disable_mdc" env:"CODEC_DISABLE_MDC"` // only honored for 64-bit block ciphers
	Legacy     bool   `yaml:"legacy" env:"CODEC_LEGACY"`           // old-style packet framing where permitted
	Partial    bool   `yaml:"partial" env:"CODEC_PARTIAL"`         // partial-body-length chunking
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"AUDIT_ENABLED"`
	Path    string `yaml:"path" env:"AUDIT_PATH"` // JSON lines file; empty means stderr
}

// MetricsConfig holds the Prometheus exposition settings used by the
// long-running watch command.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	InputDir  string `yaml:"input_dir" env:"WATCH_INPUT_DIR"`
	OutputDir string `yaml:"output_dir" env:"WATCH_OUTPUT_DIR"`
	Suffix    string `yaml:"suffix" env:"WATCH_SUFFIX"` // appended to encrypted file names
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Codec: CodecConfig{
			Algorithm: "AES-256",
			Partial:   true,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
		Watch: WatchConfig{
			Suffix: ".pgp",
		},
	}

	// Load from file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	loadFromEnv(config)

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		config.LogFormat = v
	}
	if v := os.Getenv("CODEC_ALGORITHM"); v != "" {
		config.Codec.Algorithm = v
	}
	if v := os.Getenv("CODEC_KEY_FILE"); v != "" {
		config.Codec.KeyFile = v
	}
	if v := os.Getenv("CODEC_DISABLE_MDC"); v != "" {
		config.Codec.DisableMDC = parseBool(v)
	}
	if v := os.Getenv("CODEC_LEGACY"); v != "" {
		config.Codec.Legacy = parseBool(v)
	}
	if v := os.Getenv("CODEC_PARTIAL"); v != "" {
		config.Codec.Partial = parseBool(v)
	}
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		config.Audit.Enabled = parseBool(v)
	}
	if v := os.Getenv("AUDIT_PATH"); v != "" {
		config.Audit.Path = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		config.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("METRICS_LISTEN_ADDR"); v != "" {
		config.Metrics.ListenAddr = v
	}
	if v := os.Getenv("WATCH_INPUT_DIR"); v != "" {
		config.Watch.InputDir = v
	}
	if v := os.Getenv("WATCH_OUTPUT_DIR"); v != "" {
		config.Watch.OutputDir = v
	}
	if v := os.Getenv("WATCH_SUFFIX"); v != "" {
		config.Watch.Suffix = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v == "1" || strings.EqualFold(v, "yes")
	}
	return b
}

var validAlgorithms = []string{
	"3DES", "CAST5", "Blowfish", "AES-128", "AES-192", "AES-256", "Twofish",
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q (want json or text)", c.LogFormat)
	}

	valid := false
	for _, a := range validAlgorithms {
		if c.Codec.Algorithm == a {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid codec algorithm %q (supported: %s)",
			c.Codec.Algorithm, strings.Join(validAlgorithms, ", "))
	}

	if c.Codec.Legacy && c.Codec.Partial {
		return fmt.Errorf("legacy framing cannot be combined with partial mode")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics enabled without a listen address")
	}
	return nil
}
