// Package config provides the configuration schema, loader and file watcher
// for the JARVIS voice assistant.
//
// Non-secret settings come from a YAML file. Credentials come only from the
// process environment, optionally seeded from a .env file, and a missing
// credential fails validation.
package config

import (
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/s2s/gemini"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Environment variables holding credentials.
const (
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
)

// Config is the root configuration structure.
// It is typically loaded with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Assistant AssistantConfig `yaml:"assistant"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Audio     AudioConfig     `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the control surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied without restart.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (e.g. "localhost:5173") whose
	// browsers may open the event feed. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds paths to a certificate and key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// GeminiConfig configures the Gemini Live session.
type GeminiConfig struct {
	// Model is the Live API model name without the "models/" prefix.
	Model string `yaml:"model"`

	// BaseURL overrides the WebSocket endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`

	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// GoogleSearch declares the built-in search grounding tool.
	GoogleSearch *bool `yaml:"google_search"`

	// APIKey is read from GEMINI_API_KEY.
	APIKey string `yaml:"-"`
}

// SearchEnabled reports whether search grounding is on. It defaults to true.
func (g GeminiConfig) SearchEnabled() bool {
	return g.GoogleSearch == nil || *g.GoogleSearch
}

// AssistantConfig configures the persona and the audio pipelines.
type AssistantConfig struct {
	// Persona is the system instruction. Defaults to [DefaultPersona].
	Persona string `yaml:"persona"`

	// PersonaFile, when set, replaces Persona with the file's contents.
	PersonaFile string `yaml:"persona_file"`

	// MeterFPS is the output level refresh rate. Default: 60.
	MeterFPS int `yaml:"meter_fps"`

	// CaptureFrameSize is the number of microphone samples per chunk.
	// Default: 4096.
	CaptureFrameSize int `yaml:"capture_frame_size"`
}

// MeterInterval converts MeterFPS into a ticker period.
func (a AssistantConfig) MeterInterval() time.Duration {
	if a.MeterFPS <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(a.MeterFPS)
}

// TelegramConfig configures message delivery.
type TelegramConfig struct {
	// BaseURL overrides the Bot API endpoint.
	BaseURL string `yaml:"base_url"`

	// RateLimit is the sustained number of messages per second. Unset or
	// zero means the default of 1; negative values are rejected.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the limiter bucket size. Default: 3.
	Burst int `yaml:"burst"`

	// Breaker guards the Bot API.
	Breaker BreakerConfig `yaml:"breaker"`

	// BotToken is read from TELEGRAM_BOT_TOKEN.
	BotToken string `yaml:"-"`

	// ChatID is read from TELEGRAM_CHAT_ID.
	ChatID string `yaml:"-"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AudioConfig selects audio devices by name. Empty means the system default.
type AudioConfig struct {
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = gemini.DefaultModel
	}
	if c.Gemini.Voice == "" {
		c.Gemini.Voice = "Puck"
	}
	if c.Assistant.Persona == "" {
		c.Assistant.Persona = DefaultPersona
	}
	if c.Assistant.MeterFPS == 0 {
		c.Assistant.MeterFPS = 60
	}
	if c.Assistant.CaptureFrameSize == 0 {
		c.Assistant.CaptureFrameSize = 4096
	}
	if c.Telegram.RateLimit == 0 {
		c.Telegram.RateLimit = 1
	}
	if c.Telegram.Burst == 0 {
		c.Telegram.Burst = 3
	}
	if c.Telegram.Breaker.MaxFailures == 0 {
		c.Telegram.Breaker.MaxFailures = 3
	}
	if c.Telegram.Breaker.ResetTimeout == 0 {
		c.Telegram.Breaker.ResetTimeout = 30 * time.Second
	}
}
