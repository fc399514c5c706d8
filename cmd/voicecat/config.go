package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/diamondburned/arivoice/discord"
	"github.com/diamondburned/arivoice/voice"
)

// VoiceConfig is the voice session handed out by the main gateway. IDs are
// strings, as Discord writes them.
type VoiceConfig struct {
	GuildID   string `yaml:"guild_id"`
	UserID    string `yaml:"user_id"`
	SessionID string `yaml:"session_id"`
	Token     string `yaml:"token"`
	Endpoint  string `yaml:"endpoint"`

	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	StartTimeout     time.Duration `yaml:"start_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address to serve /metrics on. Empty disables it.
	Address string `yaml:"address"`
}

// Config is the voicecat configuration file.
type Config struct {
	Voice    VoiceConfig   `yaml:"voice"`
	Metrics  MetricsConfig `yaml:"metrics"`
	LogLevel string        `yaml:"log_level"`
	// File is the DCA file to play.
	File string `yaml:"file"`
}

// DefaultConfig returns the configuration used for anything left unset.
func DefaultConfig() *Config {
	return &Config{
		Voice: VoiceConfig{
			DiscoveryTimeout: voice.DiscoveryTimeout,
			StartTimeout:     15 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}

		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config")
		}
	}

	// Missing .env files are fine.
	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, nil
}

func (cfg *Config) applyEnv() {
	for _, v := range []struct {
		name string
		dst  *string
	}{
		{"VOICE_GUILD_ID", &cfg.Voice.GuildID},
		{"VOICE_USER_ID", &cfg.Voice.UserID},
		{"VOICE_SESSION_ID", &cfg.Voice.SessionID},
		{"VOICE_TOKEN", &cfg.Voice.Token},
		{"VOICE_ENDPOINT", &cfg.Voice.Endpoint},
		{"VOICECAT_METRICS_ADDRESS", &cfg.Metrics.Address},
		{"VOICECAT_LOG_LEVEL", &cfg.LogLevel},
	} {
		if env := os.Getenv(v.name); env != "" {
			*v.dst = env
		}
	}
}

// Params validates the voice section and returns the session parameters.
func (cfg *Config) Params() (voice.Params, error) {
	gid, err := discord.ParseSnowflake(cfg.Voice.GuildID)
	if err != nil {
		return voice.Params{}, errors.Wrap(err, "invalid guild ID")
	}

	uid, err := discord.ParseSnowflake(cfg.Voice.UserID)
	if err != nil {
		return voice.Params{}, errors.Wrap(err, "invalid user ID")
	}

	p := voice.Params{
		GuildID:   discord.GuildID(gid),
		UserID:    discord.UserID(uid),
		SessionID: cfg.Voice.SessionID,
		Token:     cfg.Voice.Token,
		Endpoint:  cfg.Voice.Endpoint,
	}

	switch {
	case !p.GuildID.IsValid():
		return p, errors.New("missing guild ID")
	case !p.UserID.IsValid():
		return p, errors.New("missing user ID")
	case p.SessionID == "":
		return p, errors.New("missing session ID")
	case p.Token == "":
		return p, errors.New("missing token")
	case p.Endpoint == "":
		return p, errors.New("missing endpoint")
	}

	return p, nil
}
