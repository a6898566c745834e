package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`

	// TraceSampleRatio is the fraction of root spans recorded, 0 to 1.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

type HTTPConfig struct {
	Bind          string   `yaml:"bind"`
	Port          int      `yaml:"port"`
	MaxTextLength int      `yaml:"max_text_length"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	TTS         TTSConfig       `yaml:"tts"`
	Chunking    ChunkingConfig  `yaml:"chunking"`
	Library     LibraryConfig   `yaml:"library"`
	Voices      VoicesConfig    `yaml:"voices"`
	MCP         MCPConfig       `yaml:"mcp"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, http
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

// ChunkingConfig holds the defaults applied when a request does not carry its
// own chunking options.
type ChunkingConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxChars    int  `yaml:"max_chars"`
	CrossfadeMS int  `yaml:"crossfade_ms"`
	Parallelism int  `yaml:"parallelism"`
}

type LibraryConfig struct {
	OutputDir     string `yaml:"output_dir"`
	IndexPath     string `yaml:"index_path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxFiles      int    `yaml:"max_files"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type VoicesConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

type MCPConfig struct {
	BackendURL string `yaml:"backend_url"`
	Bind       string `yaml:"bind"`
	Port       int    `yaml:"port"`

	// LogFile receives a rotated copy of the MCP server log. Empty disables it.
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

func Default() Config {
	return Config{
		RuntimeName: "mayari-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:          "127.0.0.1",
			Port:          8787,
			MaxTextLength: 10000,
			CORSOrigins:   []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			OTLPEndpoint:     "",
			OTLPInsecure:     true,
			PrometheusBind:   ":9091",
			TraceSampleRatio: 1,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Voice:      "bf_emma",
			SampleRate: 24000,
			Channels:   1,
			TimeoutMS:  120000,
		},
		Chunking: ChunkingConfig{
			Enabled:     true,
			MaxChars:    1500,
			CrossfadeMS: 0,
			Parallelism: 1,
		},
		Library: LibraryConfig{
			OutputDir:     "./outputs",
			IndexPath:     "./data/mayari-audio.db",
			RetentionDays: 0,
			MaxFiles:      0,
		},
		MCP: MCPConfig{
			BackendURL:    "http://127.0.0.1:8787",
			Bind:          "127.0.0.1",
			Port:          8086,
			LogFile:       "runs/logs/mayari_mcp_server.log",
			LogMaxSizeMB:  5,
			LogMaxBackups: 3,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MAYARI_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MAYARI_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MAYARI_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MAYARI_HTTP_PORT")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.MaxTextLength, "MAYARI_HTTP_MAX_TEXT_LENGTH")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "MAYARI_HTTP_CORS_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "MAYARI_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MAYARI_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MAYARI_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MAYARI_TELEMETRY_PROMETHEUS_BIND")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "MAYARI_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Enabled, "MAYARI_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MAYARI_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MAYARI_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MAYARI_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MAYARI_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MAYARI_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MAYARI_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MAYARI_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MAYARI_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MAYARI_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "MAYARI_TTS_MODE")
	overrideString(&cfg.TTS.Command, "MAYARI_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "MAYARI_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Voice, "MAYARI_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "MAYARI_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "MAYARI_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "MAYARI_TTS_TIMEOUT_MS")
	overrideBool(&cfg.Chunking.Enabled, "MAYARI_CHUNKING_ENABLED")
	overrideInt(&cfg.Chunking.MaxChars, "MAYARI_CHUNKING_MAX_CHARS")
	overrideInt(&cfg.Chunking.CrossfadeMS, "MAYARI_CHUNKING_CROSSFADE_MS")
	overrideInt(&cfg.Chunking.Parallelism, "MAYARI_CHUNKING_PARALLELISM")
	overrideString(&cfg.Library.OutputDir, "MAYARI_LIBRARY_OUTPUT_DIR")
	overrideString(&cfg.Library.IndexPath, "MAYARI_LIBRARY_INDEX_PATH")
	overrideInt(&cfg.Library.RetentionDays, "MAYARI_LIBRARY_RETENTION_DAYS")
	overrideInt(&cfg.Library.MaxFiles, "MAYARI_LIBRARY_MAX_FILES")
	overrideBool(&cfg.Library.VacuumOnStart, "MAYARI_LIBRARY_VACUUM_ON_START")
	overrideString(&cfg.Voices.CatalogPath, "MAYARI_VOICES_CATALOG_PATH")
	overrideString(&cfg.MCP.BackendURL, "MAYARI_BACKEND_URL")
	overrideString(&cfg.MCP.Bind, "MAYARI_MCP_BIND")
	overrideInt(&cfg.MCP.Port, "MAYARI_MCP_PORT")
	overrideOptionalString(&cfg.MCP.LogFile, "MAYARI_MCP_LOG_FILE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// overrideOptionalString applies envKey even when it is set to the empty
// string, which disables the setting.
func overrideOptionalString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxTextLength <= 0 {
		return errors.New("http.max_text_length must be positive")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("tts.mode must be one of mock|exec|http")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=http")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.TimeoutMS < 0 {
		return errors.New("tts.timeout_ms must be >= 0")
	}
	if cfg.Chunking.MaxChars <= 0 {
		return errors.New("chunking.max_chars must be positive")
	}
	if cfg.Chunking.CrossfadeMS < 0 {
		return errors.New("chunking.crossfade_ms must be >= 0")
	}
	if cfg.Chunking.Parallelism <= 0 {
		return errors.New("chunking.parallelism must be >= 1")
	}
	if cfg.Library.OutputDir == "" {
		return errors.New("library.output_dir must not be empty")
	}
	if cfg.Library.IndexPath == "" {
		return errors.New("library.index_path must not be empty")
	}
	if cfg.Library.RetentionDays < 0 {
		return errors.New("library.retention_days must be >= 0")
	}
	if cfg.Library.MaxFiles < 0 {
		return errors.New("library.max_files must be >= 0")
	}
	if cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535 {
		return errors.New("mcp.port must be between 1 and 65535")
	}
	if cfg.MCP.LogFile != "" && (cfg.MCP.LogMaxSizeMB <= 0 || cfg.MCP.LogMaxBackups < 0) {
		return errors.New("mcp.log_max_size_mb must be positive and mcp.log_max_backups non-negative")
	}
	return nil
}
