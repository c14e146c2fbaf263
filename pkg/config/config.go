package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the application configuration (config.json / config.yaml).
// It holds provider credentials, channel payloads and public URLs.
type Config struct {
	// Channels maps a chat channel identifier ("telegram", "web") to its raw payload.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the provider groups consumed by llm.NewFromConfig.
	LLM jsoniter.RawMessage `json:"llm"`
	// OpenAI holds the credentials used for audio and image endpoints.
	OpenAI OpenAIConfig `json:"openai"`
	// Search configures the web_search tool backend.
	Search SearchConfig `json:"search"`
	// ServerURL is the public base URL used to build links to generated files.
	ServerURL string `json:"server_url"`
	// SystemPrompt overrides the developer agent instruction text when set.
	SystemPrompt string `json:"system_prompt"`
	// GPTModel overrides the model used by the /gpt text use cases.
	GPTModel string `json:"gpt_model,omitempty"`
}

// OpenAIConfig holds the credentials for the media client.
type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
}

// SearchConfig holds the Google Custom Search credentials.
type SearchConfig struct {
	APIKey   string `json:"api_key"`
	EngineID string `json:"engine_id"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Validate ensures the configuration contains all mandatory fields.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// applyEnv fills empty credentials from the process environment.
func (c *Config) applyEnv() {
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Search.APIKey == "" {
		c.Search.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.Search.EngineID == "" {
		c.Search.EngineID = os.Getenv("GOOGLE_CSE_ID")
	}
	if c.Search.EngineID == "" {
		c.Search.EngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	}
	if c.ServerURL == "" {
		c.ServerURL = os.Getenv("SERVER_URL")
	}
}

// SystemConfig defines engine-level technical parameters (system.json).
type SystemConfig struct {
	// MaxRetries is the number of attempts per provider before falling back.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base wait between retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs bounds every single call to the reasoning provider.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// ToolTimeoutMs bounds every single tool invocation.
	ToolTimeoutMs int `json:"tool_timeout_ms"`
	// HistoryWindow is the number of turns kept per conversation.
	HistoryWindow int `json:"history_window"`
	// MaxToolHops is the number of tool round trips allowed per request.
	MaxToolHops int `json:"max_tool_hops"`
	// EnableTools globally toggles tool offering to the agent.
	EnableTools bool `json:"enable_tools"`
	// DebugChunks writes every raw provider chunk under debug/chunks.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel accepts "debug", "info", "warn" and "error".
	LogLevel string `json:"log_level"`
	// HTTPAddr is the listen address of the REST API.
	HTTPAddr string `json:"http_addr"`
	// GeneratedDir is the root folder for audios, images and uploads.
	GeneratedDir string `json:"generated_dir"`
	// MaxUploadBytes caps audio uploads.
	MaxUploadBytes int64 `json:"max_upload_bytes"`
	// DownloadTimeoutMs bounds remote media downloads.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// InternalChannelBuffer sizes the gateway stream buffers.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// TelegramMessageLimit is the maximum rune count of a telegram bubble.
	TelegramMessageLimit int `json:"telegram_message_limit"`
}

// DefaultSystemConfig returns the values used when system.json is missing or corrupt.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          60000,
		ToolTimeoutMs:         15000,
		HistoryWindow:         10,
		MaxToolHops:           1,
		EnableTools:           true,
		LogLevel:              "info",
		HTTPAddr:              ":3000",
		GeneratedDir:          "generated",
		MaxUploadBytes:        5 * 1024 * 1024,
		DownloadTimeoutMs:     10000,
		InternalChannelBuffer: 100,
		TelegramMessageLimit:  4000,
	}
}

// normalize replaces out-of-range values with their defaults.
func (s *SystemConfig) normalize() {
	def := DefaultSystemConfig()
	if s.HistoryWindow <= 0 {
		s.HistoryWindow = def.HistoryWindow
	}
	if s.MaxToolHops < 0 {
		s.MaxToolHops = def.MaxToolHops
	}
	if s.LLMTimeoutMs <= 0 {
		s.LLMTimeoutMs = def.LLMTimeoutMs
	}
	if s.ToolTimeoutMs <= 0 {
		s.ToolTimeoutMs = def.ToolTimeoutMs
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = def.MaxUploadBytes
	}
	if s.GeneratedDir == "" {
		s.GeneratedDir = def.GeneratedDir
	}
	if s.HTTPAddr == "" {
		s.HTTPAddr = def.HTTPAddr
	}
}

// Load reads the app config from appPath (mandatory) and the system config
// from sysPath (optional, defaults on failure). Both accept JSON or YAML.
func Load(appPath, sysPath string) (*Config, *SystemConfig, error) {
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	raw, err := readDocument(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, LoadSystemConfig(sysPath), nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()
	if path == "" {
		return cfg
	}

	raw, err := readDocument(path)
	if err != nil {
		return cfg
	}

	if err := json.Unmarshal(raw, cfg); err != nil {
		return DefaultSystemConfig()
	}

	cfg.normalize()
	return cfg
}

// readDocument returns the file content as JSON, converting YAML documents
// based on the file extension.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid yaml in %s: %w", path, err)
		}
		return json.Marshal(stringKeys(doc))
	default:
		return data, nil
	}
}

// stringKeys converts nested map[any]any values produced by the YAML
// decoder into map[string]any so they can be encoded as JSON.
func stringKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = stringKeys(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = stringKeys(item)
		}
		return val
	default:
		return v
	}
}
