package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all voice-journal environment variables.
const EnvPrefix = "VOICE_JOURNAL_"

const (
	defaultRecordDuration     = 5 * time.Second
	defaultSessionIdleTimeout = 30 * time.Minute
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr      string `yaml:"listen_addr"`
	DBPath          string `yaml:"db_path"`
	TempDir         string `yaml:"temp_dir"`
	RecordDuration  string `yaml:"record_duration"`
	MicSampleRate   int    `yaml:"mic_sample_rate"`
	MicSampleRates  []int  `yaml:"mic_sample_rates"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`

	TranscriptionProvider string `yaml:"transcription_provider"`
	TranscriptionModel    string `yaml:"transcription_model"`
	ChatModel             string `yaml:"chat_model"`
	SystemPrompt          string `yaml:"system_prompt"`
	IncludeHistory        bool   `yaml:"include_history"`
	SpeechProvider        string `yaml:"speech_provider"`
	SpeechModel           string `yaml:"speech_model"`
	SpeechVoice           string `yaml:"speech_voice"`

	SessionIdleTimeout string `yaml:"session_idle_timeout"`
	RemoteTimeout      string `yaml:"remote_timeout"`
	LogLevel           string `yaml:"log_level"`
	LogFormat          string `yaml:"log_format"`

	// Secrets: env vars only, never serialized to YAML.
	OpenAIAPIKey     string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	GeminiAPIKey     string `yaml:"-"`
	DeepgramAPIKey   string `yaml:"-"`
	ElevenLabsAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            "127.0.0.1:8080",
		DBPath:                "data/voice-journal.db",
		RecordDuration:        "5s",
		MicSampleRate:         44100,
		MicSampleRates:        []int{48000, 32000, 16000},
		FramesPerBuffer:       1024,
		TranscriptionProvider: "openai",
		TranscriptionModel:    "whisper-1",
		ChatModel:             "openai/gpt-3.5-turbo",
		SpeechProvider:        "openai",
		SpeechModel:           "tts-1",
		SpeechVoice:           "alloy",
		SessionIdleTimeout:    "30m",
		RemoteTimeout:         "0s",
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is fine.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedRecordDuration returns RecordDuration, falling back to 5s when the
// value is invalid or not positive.
func (c *Config) ParsedRecordDuration() time.Duration {
	d, err := time.ParseDuration(c.RecordDuration)
	if err != nil || d <= 0 {
		return defaultRecordDuration
	}
	return d
}

// ParsedSessionIdleTimeout returns SessionIdleTimeout. Zero disables the
// idle timeout.
func (c *Config) ParsedSessionIdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.SessionIdleTimeout)
	if err != nil || d < 0 {
		return defaultSessionIdleTimeout
	}
	return d
}

// ParsedRemoteTimeout returns RemoteTimeout. Zero keeps each SDK's default.
func (c *Config) ParsedRemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.RemoteTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// APIKey returns the credential for a provider name used in the config.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	case "deepgram":
		return c.DeepgramAPIKey
	case "elevenlabs":
		return c.ElevenLabsAPIKey
	default:
		return ""
	}
}

// ChatProvider returns the provider half of ChatModel.
func (c *Config) ChatProvider() string {
	provider, _, _ := strings.Cut(c.ChatModel, "/")
	return provider
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{44100, 48000, 32000, 16000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	fields := map[string]*string{
		"LISTEN_ADDR":            &cfg.ListenAddr,
		"DB_PATH":                &cfg.DBPath,
		"TEMP_DIR":               &cfg.TempDir,
		"RECORD_DURATION":        &cfg.RecordDuration,
		"TRANSCRIPTION_PROVIDER": &cfg.TranscriptionProvider,
		"TRANSCRIPTION_MODEL":    &cfg.TranscriptionModel,
		"CHAT_MODEL":             &cfg.ChatModel,
		"SYSTEM_PROMPT":          &cfg.SystemPrompt,
		"SPEECH_PROVIDER":        &cfg.SpeechProvider,
		"SPEECH_MODEL":           &cfg.SpeechModel,
		"SPEECH_VOICE":           &cfg.SpeechVoice,
		"SESSION_IDLE_TIMEOUT":   &cfg.SessionIdleTimeout,
		"REMOTE_TIMEOUT":         &cfg.RemoteTimeout,
		"LOG_LEVEL":              &cfg.LogLevel,
		"LOG_FORMAT":             &cfg.LogFormat,
	}
	for key, dst := range fields {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(trim(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "FRAMES_PER_BUFFER"); v != "" {
		if n, err := strconv.Atoi(trim(v)); err == nil && n > 0 {
			cfg.FramesPerBuffer = n
		}
	}
	if v := os.Getenv(EnvPrefix + "INCLUDE_HISTORY"); v != "" {
		if b, err := strconv.ParseBool(trim(v)); err == nil {
			cfg.IncludeHistory = b
		}
	}
}

// loadSecrets prefers the prefixed variable and falls back to the provider's
// conventional name, so an existing OPENAI_API_KEY keeps working.
func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = secret("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = secret("ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = secret("GEMINI_API_KEY")
	cfg.DeepgramAPIKey = secret("DEEPGRAM_API_KEY")
	cfg.ElevenLabsAPIKey = secret("ELEVENLABS_API_KEY")
}

func secret(name string) string {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		return v
	}
	return os.Getenv(name)
}

func validate(cfg *Config) []string {
	var warnings []string

	needed := []struct {
		provider string
		purpose  string
	}{
		{cfg.TranscriptionProvider, "transcription"},
		{cfg.ChatProvider(), "replies"},
		{cfg.SpeechProvider, "speech"},
	}
	warned := map[string]bool{}
	for _, n := range needed {
		if cfg.APIKey(n.provider) != "" || warned[n.provider] {
			continue
		}
		warned[n.provider] = true
		envName := strings.ToUpper(n.provider) + "_API_KEY"
		warnings = append(warnings, fmt.Sprintf(
			"%s API key not configured, %s will fail. Set %s%s or %s.",
			n.provider, n.purpose, EnvPrefix, envName, envName))
	}

	if d, err := time.ParseDuration(cfg.RecordDuration); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid record_duration %q, using default %s.", cfg.RecordDuration, defaultRecordDuration))
	}
	if d, err := time.ParseDuration(cfg.SessionIdleTimeout); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid session_idle_timeout %q, using default %s.", cfg.SessionIdleTimeout, defaultSessionIdleTimeout))
	}
	if d, err := time.ParseDuration(cfg.RemoteTimeout); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid remote_timeout %q, using transport defaults.", cfg.RemoteTimeout))
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := trim(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
