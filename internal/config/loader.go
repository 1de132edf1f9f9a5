package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies defaults and
// credentials from the environment and validates the result. An empty path
// yields the defaults. A relative persona_file is resolved against the
// directory of path.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if p := cfg.Assistant.PersonaFile; p != "" && !filepath.IsAbs(p) {
		cfg.Assistant.PersonaFile = filepath.Join(filepath.Dir(path), p)
	}
	return finish(cfg, os.LookupEnv)
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment credentials and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return finish(cfg, os.LookupEnv)
}

func finish(cfg *Config, lookup LookupFunc) (*Config, error) {
	cfg.ApplyEnv(lookup)
	if err := cfg.loadPersonaFile(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML from r and applies defaults. Unknown keys are errors.
// Parse does not read the environment or validate.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnv copies credentials from the environment into cfg.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	if v, ok := lookup(EnvGeminiAPIKey); ok {
		c.Gemini.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTelegramBotToken); ok {
		c.Telegram.BotToken = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTelegramChatID); ok {
		c.Telegram.ChatID = strings.TrimSpace(v)
	}
}

func (c *Config) loadPersonaFile() error {
	if c.Assistant.PersonaFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Assistant.PersonaFile)
	if err != nil {
		return fmt.Errorf("config: assistant.persona_file: %w", err)
	}
	c.Assistant.Persona = strings.TrimSpace(string(data))
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it reads ".env" in the working
// directory.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values, including all
// credentials. It returns a joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Gemini
	if cfg.Gemini.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvGeminiAPIKey))
	}
	if strings.HasPrefix(cfg.Gemini.Model, "models/") {
		errs = append(errs, fmt.Errorf("gemini.model %q must not include the models/ prefix", cfg.Gemini.Model))
	}

	// Assistant
	if strings.TrimSpace(cfg.Assistant.Persona) == "" {
		errs = append(errs, errors.New("assistant.persona must not be empty"))
	}
	if cfg.Assistant.MeterFPS < 1 || cfg.Assistant.MeterFPS > 240 {
		errs = append(errs, fmt.Errorf("assistant.meter_fps %d must be between 1 and 240", cfg.Assistant.MeterFPS))
	}
	if n := cfg.Assistant.CaptureFrameSize; n < 256 || n > 16384 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("assistant.capture_frame_size %d must be a power of two between 256 and 16384", n))
	}

	// Telegram
	if cfg.Telegram.BotToken == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvTelegramBotToken))
	}
	if cfg.Telegram.ChatID == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvTelegramChatID))
	}
	if cfg.Telegram.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("telegram.rate_limit %v must not be negative", cfg.Telegram.RateLimit))
	}
	if cfg.Telegram.Burst < 0 {
		errs = append(errs, fmt.Errorf("telegram.burst %d must not be negative", cfg.Telegram.Burst))
	}
	if cfg.Telegram.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("telegram.breaker.max_failures %d must not be negative", cfg.Telegram.Breaker.MaxFailures))
	}

	return errors.Join(errs...)
}
