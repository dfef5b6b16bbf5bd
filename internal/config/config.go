package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the advisor call service.
type Config struct {
	BindAddr              string
	ShutdownTimeout       time.Duration
	CallInactivityTimeout time.Duration
	MetricsNamespace      string

	AllowAnyOrigin bool

	// Avatar streaming provider.
	AvatarAPIKey        string
	AvatarBaseURL       string
	AvatarID            string
	AvatarQuality       string
	AvatarVideoEncoding string
	PersonaPrompt       string
	CleanupSettle       time.Duration
	StepSettle          time.Duration

	// Chat completion and speech-to-text provider.
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	ChatMaxTokens  int
	ChatTemp       float64
	SpeechModel    string
	SpeechLanguage string

	// Reply mode for new calls: "talk" or "repeat".
	ReplyMode string

	// Price oracle used by the portfolio display.
	OracleBaseURL     string
	OraclePairIndexes []int

	// Gasless wallet relay.
	WalletRelayURL   string
	WalletSponsorKey string
	WalletChainID    int

	DatabaseURL string
}

const defaultPersonaPrompt = "You are a helpful finance advisor. Provide clear, actionable advice about budgeting, investing, and financial planning. Keep responses concise and practical."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "eleonora"),
		AllowAnyOrigin:   false,

		AvatarAPIKey:  envTrimmed("AVATAR_API_KEY"),
		AvatarBaseURL: envOrDefault("AVATAR_BASE_URL", "https://api.heygen.com"),
		// Default to the sitting Italian advisor avatar the product ships with.
		AvatarID:            envOrDefault("AVATAR_ID", "Elenora_IT_Sitting_public"),
		AvatarQuality:       envOrDefault("AVATAR_QUALITY", "high"),
		AvatarVideoEncoding: envOrDefault("AVATAR_VIDEO_ENCODING", "H264"),
		PersonaPrompt:       envOrDefault("ADVISOR_PERSONA_PROMPT", defaultPersonaPrompt),
		// Settle intervals let the provider release resources between
		// provisioning steps. They are not retry backoff.
		CleanupSettle: 2 * time.Second,
		StepSettle:    time.Second,

		OpenAIAPIKey:   envTrimmed("OPENAI_API_KEY"),
		OpenAIBaseURL:  envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		ChatModel:      envOrDefault("OPENAI_CHAT_MODEL", "gpt-3.5-turbo"),
		ChatMaxTokens:  150,
		ChatTemp:       0.7,
		SpeechModel:    envOrDefault("SPEECH_MODEL", "whisper-1"),
		SpeechLanguage: envOrDefault("SPEECH_LANGUAGE", "en"),

		ReplyMode: envOrDefault("APP_REPLY_MODE", "talk"),

		OracleBaseURL: envOrDefault("ORACLE_BASE_URL", "https://rpc-testnet-dora-2.supra.com"),

		WalletRelayURL:   envTrimmed("WALLET_RELAY_URL"),
		WalletSponsorKey: envTrimmed("WALLET_SPONSOR_API_KEY"),
		WalletChainID:    84532,

		DatabaseURL: envTrimmed("DATABASE_URL"),

		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CleanupSettle, err = durationFromEnv("AVATAR_CLEANUP_SETTLE", cfg.CleanupSettle)
	if err != nil {
		return Config{}, err
	}
	cfg.StepSettle, err = durationFromEnv("AVATAR_STEP_SETTLE", cfg.StepSettle)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatMaxTokens, err = intFromEnv("OPENAI_MAX_TOKENS", cfg.ChatMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatTemp, err = floatFromEnv("OPENAI_TEMPERATURE", cfg.ChatTemp)
	if err != nil {
		return Config{}, err
	}
	cfg.WalletChainID, err = intFromEnv("WALLET_CHAIN_ID", cfg.WalletChainID)
	if err != nil {
		return Config{}, err
	}
	cfg.OraclePairIndexes, err = intListFromEnv("ORACLE_PAIR_INDEXES", []int{0, 1, 10, 16})
	if err != nil {
		return Config{}, err
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.ReplyMode))
	if mode != "talk" && mode != "repeat" {
		return Config{}, fmt.Errorf("APP_REPLY_MODE must be talk or repeat, got %q", cfg.ReplyMode)
	}
	cfg.ReplyMode = mode

	if cfg.CallInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.CleanupSettle < 0 || cfg.StepSettle < 0 {
		return Config{}, fmt.Errorf("avatar settle intervals must not be negative")
	}
	if cfg.ChatMaxTokens <= 0 {
		return Config{}, fmt.Errorf("OPENAI_MAX_TOKENS must be positive")
	}
	if cfg.ChatTemp < 0 || cfg.ChatTemp > 2 {
		return Config{}, fmt.Errorf("OPENAI_TEMPERATURE must be within [0, 2]")
	}
	if len(cfg.OraclePairIndexes) == 0 {
		return Config{}, fmt.Errorf("ORACLE_PAIR_INDEXES must name at least one pair")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func intListFromEnv(key string, fallback []int) ([]int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%s parse error: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
