package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL         = "https://openrouter.ai/api/v1"
	DefaultModel           = "nvidia/nemotron-nano-9b-v2"
	DefaultChatTemperature = 0.7
	DefaultChatMaxTokens   = 800
	DefaultAgentTemp       = 0.4
	DefaultAgentMaxTokens  = 2500
	DefaultRequestTimeout  = "60s"
	DefaultReferer         = "https://potion-cauldron-network.app"
	DefaultTitle           = "Potion Cauldron Network"

	DefaultHost          = "0.0.0.0"
	DefaultPort          = 18791
	DefaultBufSize       = 100
	DefaultDashboardTick = "5s"
	DefaultNetworkTick   = "1s"
	DefaultHistoryDays   = 7
	DefaultCourierFlagAt = 3

	TranscriptBackendFile   = "file"
	TranscriptBackendSQLite = "sqlite"
	DefaultTranscriptKey    = "cauldron_chat_history"
)

type Config struct {
	Provider   ProviderConfig   `json:"provider"`
	Assistant  AssistantConfig  `json:"assistant"`
	Dashboard  DashboardConfig  `json:"dashboard"`
	Transcript TranscriptConfig `json:"transcript"`
	Channels   ChannelsConfig   `json:"channels"`
	Gateway    GatewayConfig    `json:"gateway"`
}

type ProviderConfig struct {
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseUrl,omitempty"`
	Referer        string `json:"referer,omitempty"`
	Title          string `json:"title,omitempty"`
	RequestTimeout string `json:"requestTimeout,omitempty"`
}

type AssistantConfig struct {
	Model            string  `json:"model"`
	ChatTemperature  float64 `json:"chatTemperature"`
	ChatMaxTokens    int     `json:"chatMaxTokens"`
	AgentTemperature float64 `json:"agentTemperature"`
	AgentMaxTokens   int     `json:"agentMaxTokens"`
}

type DashboardConfig struct {
	// Seed drives the telemetry random source; 0 seeds from the clock.
	Seed          uint64 `json:"seed,omitempty"`
	DashboardTick string `json:"dashboardTick"`
	NetworkTick   string `json:"networkTick"`
	HistoryDays   int    `json:"historyDays"`
	CourierFlagAt int    `json:"courierFlagAt"`
	DatasetDir    string `json:"datasetDir,omitempty"`
}

type TranscriptConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path,omitempty"`
	Key     string `json:"key,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:        DefaultBaseURL,
			Referer:        DefaultReferer,
			Title:          DefaultTitle,
			RequestTimeout: DefaultRequestTimeout,
		},
		Assistant: AssistantConfig{
			Model:            DefaultModel,
			ChatTemperature:  DefaultChatTemperature,
			ChatMaxTokens:    DefaultChatMaxTokens,
			AgentTemperature: DefaultAgentTemp,
			AgentMaxTokens:   DefaultAgentMaxTokens,
		},
		Dashboard: DashboardConfig{
			DashboardTick: DefaultDashboardTick,
			NetworkTick:   DefaultNetworkTick,
			HistoryDays:   DefaultHistoryDays,
			CourierFlagAt: DefaultCourierFlagAt,
		},
		Transcript: TranscriptConfig{
			Backend: TranscriptBackendFile,
			Key:     DefaultTranscriptKey,
		},
		Channels: ChannelsConfig{
			WebUI: WebUIConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".cauldronwatch")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// TranscriptPath resolves the transcript location for the configured backend.
func (c *Config) TranscriptPath() string {
	if p := strings.TrimSpace(c.Transcript.Path); p != "" {
		return p
	}
	if c.Transcript.Backend == TranscriptBackendSQLite {
		return filepath.Join(ConfigDir(), "data", "transcripts.db")
	}
	return filepath.Join(ConfigDir(), "data", "transcripts")
}

func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.Provider.RequestTimeout))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultRequestTimeout)
	}
	return d
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("CAULDRON_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("CAULDRON_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("CAULDRON_MODEL"); model != "" {
		cfg.Assistant.Model = model
	}
	if port := os.Getenv("CAULDRON_PORT"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("parse CAULDRON_PORT: %w", err)
		}
		cfg.Gateway.Port = parsed
	}
	if seed := os.Getenv("CAULDRON_SEED"); seed != "" {
		parsed, err := strconv.ParseUint(seed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse CAULDRON_SEED: %w", err)
		}
		cfg.Dashboard.Seed = parsed
	}
	if backend := os.Getenv("CAULDRON_TRANSCRIPT_BACKEND"); backend != "" {
		cfg.Transcript.Backend = backend
	}
	if token := os.Getenv("CAULDRON_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = DefaultModel
	}
	if cfg.Assistant.ChatMaxTokens <= 0 {
		cfg.Assistant.ChatMaxTokens = DefaultChatMaxTokens
	}
	if cfg.Assistant.AgentMaxTokens <= 0 {
		cfg.Assistant.AgentMaxTokens = DefaultAgentMaxTokens
	}
	if cfg.Dashboard.DashboardTick == "" {
		cfg.Dashboard.DashboardTick = DefaultDashboardTick
	}
	if cfg.Dashboard.NetworkTick == "" {
		cfg.Dashboard.NetworkTick = DefaultNetworkTick
	}
	if cfg.Dashboard.HistoryDays <= 0 {
		cfg.Dashboard.HistoryDays = DefaultHistoryDays
	}
	if cfg.Dashboard.CourierFlagAt <= 0 {
		cfg.Dashboard.CourierFlagAt = DefaultCourierFlagAt
	}
	if cfg.Transcript.Backend == "" {
		cfg.Transcript.Backend = TranscriptBackendFile
	}
	if cfg.Transcript.Key == "" {
		cfg.Transcript.Key = DefaultTranscriptKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values LoadConfig cannot default away.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"dashboardTick": c.Dashboard.DashboardTick,
		"networkTick":   c.Dashboard.NetworkTick,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if d < 100*time.Millisecond {
			return fmt.Errorf("invalid %s %q: must be at least 100ms", name, raw)
		}
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	switch c.Transcript.Backend {
	case TranscriptBackendFile, TranscriptBackendSQLite:
	default:
		return fmt.Errorf("unknown transcript backend %q", c.Transcript.Backend)
	}
	return nil
}

// TickIntervals returns the parsed dashboard and network-map refresh intervals.
func (c *Config) TickIntervals() (dashboard, network time.Duration) {
	dashboard, err := time.ParseDuration(c.Dashboard.DashboardTick)
	if err != nil {
		dashboard, _ = time.ParseDuration(DefaultDashboardTick)
	}
	network, err = time.ParseDuration(c.Dashboard.NetworkTick)
	if err != nil {
		network, _ = time.ParseDuration(DefaultNetworkTick)
	}
	return dashboard, network
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
