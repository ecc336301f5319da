package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configVars = []string{
	"EVI_ENDPOINT", "HUME_API_KEY", "HUME_SECRET_KEY", "HUME_CONFIG_ID",
	"PATIENT_LOOKUP_URL", "EVI_RECONNECT_DELAY", "EVI_CHUNK_MS",
	"EVI_AUDIO_ENCODING", "PATIENT_LOOKUP_TIMEOUT", "EVI_MIC_GAIN",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configVars {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.LookupURL != DefaultLookupURL {
		t.Errorf("LookupURL = %q", cfg.LookupURL)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}
	if cfg.ChunkInterval != 100*time.Millisecond {
		t.Errorf("ChunkInterval = %v", cfg.ChunkInterval)
	}
	if cfg.Encoding != "flac" {
		t.Errorf("Encoding = %q", cfg.Encoding)
	}
	if cfg.LookupTimeout != 10*time.Second {
		t.Errorf("LookupTimeout = %v", cfg.LookupTimeout)
	}
	if cfg.MicGain != 1 {
		t.Errorf("MicGain = %d", cfg.MicGain)
	}
	if cfg.HasCredentials() {
		t.Error("HasCredentials with no key set")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVI_ENDPOINT", "ws://localhost:9000/chat")
	t.Setenv("HUME_API_KEY", " key ")
	t.Setenv("HUME_SECRET_KEY", "secret")
	t.Setenv("HUME_CONFIG_ID", "cfg-1")
	t.Setenv("PATIENT_LOOKUP_URL", "http://records.test/api/db")
	t.Setenv("EVI_RECONNECT_DELAY", "250ms")
	t.Setenv("EVI_CHUNK_MS", "40")
	t.Setenv("EVI_AUDIO_ENCODING", "LINEAR16")
	t.Setenv("PATIENT_LOOKUP_TIMEOUT", "1500")
	t.Setenv("EVI_MIC_GAIN", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		Endpoint:       "ws://localhost:9000/chat",
		APIKey:         "key",
		SecretKey:      "secret",
		ConfigID:       "cfg-1",
		LookupURL:      "http://records.test/api/db",
		ReconnectDelay: 250 * time.Millisecond,
		ChunkInterval:  40 * time.Millisecond,
		Encoding:       "linear16",
		LookupTimeout:  1500 * time.Millisecond,
		MicGain:        4,
	}
	if *cfg != want {
		t.Errorf("Load = %+v\nwant   %+v", *cfg, want)
	}
	if !cfg.HasCredentials() {
		t.Error("HasCredentials = false")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"EVI_RECONNECT_DELAY", "soon"},
		{"EVI_RECONNECT_DELAY", "-1s"},
		{"EVI_CHUNK_MS", "ten"},
		{"EVI_CHUNK_MS", "0"},
		{"EVI_AUDIO_ENCODING", "mp3"},
		{"PATIENT_LOOKUP_TIMEOUT", "0"},
		{"EVI_MIC_GAIN", "loud"},
		{"EVI_MIC_GAIN", "0"},
		{"EVI_MIC_GAIN", "17"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const fromFile = "EVICHAT_TEST_FROM_FILE"
	const preset = "EVICHAT_TEST_PRESET"
	t.Cleanup(func() {
		os.Unsetenv(fromFile)
	})
	t.Setenv(preset, "environment")

	path := filepath.Join(t.TempDir(), ".env")
	body := fromFile + "=file\n" + preset + "=file\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(fromFile); got != "file" {
		t.Errorf("%s = %q, want file", fromFile, got)
	}
	if got := os.Getenv(preset); got != "environment" {
		t.Errorf("%s = %q, environment should win", preset, got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}
