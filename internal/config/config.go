package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type LiveKit struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

type Deepgram struct {
	APIKey   string `mapstructure:"api_key"`
	URL      string `mapstructure:"url"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type OpenAI struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	TTSModel string `mapstructure:"tts_model"`
}

type Providers struct {
	STT string `mapstructure:"stt"`
	TTS string `mapstructure:"tts"`
	LLM string `mapstructure:"llm"`
}

// VAD durations are in seconds.
type VAD struct {
	MinSpeechDuration  float64 `mapstructure:"min_speech_duration"`
	MinSilenceDuration float64 `mapstructure:"min_silence_duration"`
	PaddingDuration    float64 `mapstructure:"padding_duration"`
}

type Persistence struct {
	BaseURL     string        `mapstructure:"base_url"`
	IngestToken string        `mapstructure:"ingest_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Session struct {
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout"`
	// StartLimit session starts are allowed per client within StartWindow.
	StartLimit  int           `mapstructure:"start_limit"`
	StartWindow time.Duration `mapstructure:"start_window"`
}

type Token struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	LogLevel    string        `mapstructure:"log_level"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	Secret      string        `mapstructure:"secret"`
	CORSOrigins string        `mapstructure:"cors_origins"`

	SystemPrompt string `mapstructure:"system_prompt"`
	TTSVoice     string `mapstructure:"tts_voice"`

	LiveKit     LiveKit     `mapstructure:"livekit"`
	Deepgram    Deepgram    `mapstructure:"deepgram"`
	OpenAI      OpenAI      `mapstructure:"openai"`
	Providers   Providers   `mapstructure:"providers"`
	VAD         VAD         `mapstructure:"vad"`
	Persistence Persistence `mapstructure:"persistence"`
	Session     Session     `mapstructure:"session"`
	Token       Token       `mapstructure:"token"`
}

// DevOrigins are allowed when cors_origins is empty or "*".
var DevOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:5174",
	"http://localhost:5175",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:5174",
	"http://127.0.0.1:5175",
}

// legacyEnv binds keys to the environment names the deployment already uses.
var legacyEnv = map[string]string{
	"livekit.url":              "LIVEKIT_URL",
	"livekit.api_key":          "LIVEKIT_API_KEY",
	"livekit.api_secret":       "LIVEKIT_API_SECRET",
	"deepgram.api_key":         "DEEPGRAM_API_KEY",
	"openai.api_key":           "OPENAI_API_KEY",
	"system_prompt":            "SYSTEM_PROMPT",
	"cors_origins":             "CORS_ORIGINS",
	"providers.stt":            "STT_PROVIDER",
	"providers.tts":            "TTS_PROVIDER",
	"providers.llm":            "LLM_PROVIDER",
	"tts_voice":                "TTS_VOICE",
	"persistence.base_url":     "DJANGO_BASE_URL",
	"persistence.ingest_token": "INGEST_TOKEN",
	"vad.min_speech_duration":  "VAD_MIN_SPEECH_DURATION",
	"vad.min_silence_duration": "VAD_MIN_SILENCE_DURATION",
	"vad.padding_duration":     "VAD_PADDING_DURATION",
	"session.teardown_timeout": "SESSION_TEARDOWN_TIMEOUT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("cors_origins", "*")

	v.SetDefault("system_prompt", "You are a friendly travel assistant.")
	v.SetDefault("tts_voice", "alloy")

	v.SetDefault("livekit.url", "")
	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.url", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.language", "en-US")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.tts_model", "tts-1")

	v.SetDefault("providers.stt", "deepgram")
	v.SetDefault("providers.tts", "openai")
	v.SetDefault("providers.llm", "openai")

	v.SetDefault("vad.min_speech_duration", 0.1)
	v.SetDefault("vad.min_silence_duration", 0.3)
	v.SetDefault("vad.padding_duration", 0.1)

	v.SetDefault("persistence.base_url", "")
	v.SetDefault("persistence.ingest_token", "")
	v.SetDefault("persistence.timeout", "5s")

	v.SetDefault("session.teardown_timeout", "10s")
	v.SetDefault("session.start_limit", 10)
	v.SetDefault("session.start_window", "1m")
	v.SetDefault("token.ttl", "6h")
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | STT: %s | TTS: %s | LLM: %s\n",
		cfg.Mode, cfg.Port, cfg.Providers.STT, cfg.Providers.TTS, cfg.Providers.LLM)
	return cfg, nil
}

// decode applies defaults and environment overrides on top of whatever v
// already holds.
func decode(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// MissingCredentials lists the credential keys a session cannot start without.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for _, kv := range []struct{ key, val string }{
		{"livekit.url", c.LiveKit.URL},
		{"livekit.api_key", c.LiveKit.APIKey},
		{"livekit.api_secret", c.LiveKit.APISecret},
		{"deepgram.api_key", c.Deepgram.APIKey},
		{"openai.api_key", c.OpenAI.APIKey},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	return missing
}

// RoomConfigured reports whether tokens can be minted for the media room.
func (c *Config) RoomConfigured() bool {
	return c.LiveKit.URL != "" && c.LiveKit.APIKey != "" && c.LiveKit.APISecret != ""
}

// Origins returns the CORS allow list.
func (c *Config) Origins() []string {
	var out []string
	if c.CORSOrigins != "*" {
		for _, o := range strings.Split(c.CORSOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DevOrigins...)
	}
	return out
}
