// Package config reads client settings from the environment.
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
)

const (
	DefaultEndpoint       = "wss://api.hume.ai/v0/evi/chat/stream"
	DefaultLookupURL      = "http://localhost:3000/api/db"
	DefaultReconnectDelay = 5 * time.Second
	DefaultChunkMs        = 100
	DefaultEncoding       = "flac"
	DefaultLookupTimeout  = 10 * time.Second
	DefaultMicGain        = 1
	MaxMicGain            = 16
)

type Config struct {
	Endpoint       string
	APIKey         string
	SecretKey      string
	ConfigID       string
	LookupURL      string
	ReconnectDelay time.Duration
	ChunkInterval  time.Duration
	Encoding       string
	LookupTimeout  time.Duration
	MicGain        int // linear multiplier on captured samples
}

// LoadDotEnv loads KEY=value pairs from the given files, or ./.env when none
// are given. Variables already set in the environment win. A missing file is
// not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	delay, err := parseDurationEnv("EVI_RECONNECT_DELAY", DefaultReconnectDelay)
	if err != nil {
		return nil, err
	}
	chunkMs, err := parseIntEnv("EVI_CHUNK_MS", DefaultChunkMs)
	if err != nil {
		return nil, err
	}
	if chunkMs <= 0 || chunkMs > 1000 {
		return nil, fmt.Errorf("invalid EVI_CHUNK_MS value %d: must be between 1 and 1000", chunkMs)
	}
	timeout, err := parseDurationEnv("PATIENT_LOOKUP_TIMEOUT", DefaultLookupTimeout)
	if err != nil {
		return nil, err
	}
	gain, err := parseIntEnv("EVI_MIC_GAIN", DefaultMicGain)
	if err != nil {
		return nil, err
	}
	if err := ValidateMicGain(gain); err != nil {
		return nil, fmt.Errorf("invalid EVI_MIC_GAIN: %w", err)
	}
	encoding := strings.ToLower(getEnvOrDefault("EVI_AUDIO_ENCODING", DefaultEncoding))
	if err := ValidateEncoding(encoding); err != nil {
		return nil, fmt.Errorf("invalid EVI_AUDIO_ENCODING: %w", err)
	}

	return &Config{
		Endpoint:       getEnvOrDefault("EVI_ENDPOINT", DefaultEndpoint),
		APIKey:         strings.TrimSpace(os.Getenv("HUME_API_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("HUME_SECRET_KEY")),
		ConfigID:       strings.TrimSpace(os.Getenv("HUME_CONFIG_ID")),
		LookupURL:      getEnvOrDefault("PATIENT_LOOKUP_URL", DefaultLookupURL),
		ReconnectDelay: delay,
		ChunkInterval:  time.Duration(chunkMs) * time.Millisecond,
		Encoding:       encoding,
		LookupTimeout:  timeout,
		MicGain:        gain,
	}, nil
}

func ValidateEncoding(encoding string) error {
	switch encoding {
	case "flac", "linear16":
		return nil
	}
	return fmt.Errorf("unknown audio encoding %q (want flac or linear16)", encoding)
}

func ValidateMicGain(gain int) error {
	if gain < 1 || gain > MaxMicGain {
		return fmt.Errorf("microphone gain %d out of range (want 1 to %d)", gain, MaxMicGain)
	}
	return nil
}

// HasCredentials reports whether an API key was configured. The server is
// still the one that decides whether the credentials are any good.
func (c *Config) HasCredentials() bool {
	return c.APIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv accepts Go durations ("5s") or bare milliseconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return d, nil
}
