package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/diamondburned/arivoice/voice"
)

const testConfig = `
voice:
  guild_id: "123"
  user_id: "456"
  session_id: abc
  token: secret
  endpoint: us-east1.discord.media:80
  discovery_timeout: 3s
metrics:
  address: 127.0.0.1:9100
file: song.dca
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voicecat.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal("failed to write config:", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal("failed to load config:", err)
	}

	if cfg.Voice.DiscoveryTimeout != 3*time.Second {
		t.Fatal("unexpected discovery timeout:", cfg.Voice.DiscoveryTimeout)
	}
	// Defaults stay for what the file leaves out.
	if cfg.Voice.StartTimeout != 15*time.Second || cfg.LogLevel != "info" {
		t.Fatal("defaults lost:", spew.Sdump(cfg))
	}
	if cfg.File != "song.dca" || cfg.Metrics.Address != "127.0.0.1:9100" {
		t.Fatal("unexpected config:", spew.Sdump(cfg))
	}

	p, err := cfg.Params()
	if err != nil {
		t.Fatal("invalid params:", err)
	}

	expect := voice.Params{
		GuildID:   123,
		UserID:    456,
		SessionID: "abc",
		Token:     "secret",
		Endpoint:  "us-east1.discord.media:80",
	}
	if p != expect {
		t.Fatal("unexpected params:", spew.Sdump(p))
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("VOICE_TOKEN", "from-env")
	t.Setenv("VOICECAT_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal("failed to load config:", err)
	}

	if cfg.Voice.Token != "from-env" || cfg.LogLevel != "debug" {
		t.Fatal("environment not applied:", spew.Sdump(cfg))
	}
	if cfg.Voice.SessionID != "abc" {
		t.Fatal("file values lost:", cfg.Voice.SessionID)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing config file accepted")
	}
}

func TestConfigParamsInvalid(t *testing.T) {
	tests := map[string]func(*Config){
		"guild":    func(c *Config) { c.Voice.GuildID = "" },
		"user":     func(c *Config) { c.Voice.UserID = "x" },
		"session":  func(c *Config) { c.Voice.SessionID = "" },
		"token":    func(c *Config) { c.Voice.Token = "" },
		"endpoint": func(c *Config) { c.Voice.Endpoint = "" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Voice = VoiceConfig{
				GuildID:   "1",
				UserID:    "2",
				SessionID: "s",
				Token:     "t",
				Endpoint:  "e",
			}
			mutate(cfg)

			if _, err := cfg.Params(); err == nil {
				t.Fatal("invalid params accepted")
			}
		})
	}
}
