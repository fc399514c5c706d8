// Package testenv provides test fixtures: a fake voice server for unit tests
// and the environment for the live integration tests.
package testenv

import (
	"os"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/diamondburned/arivoice/discord"
)

// Env is the voice session handed out by a real Discord gateway, used by the
// integration tests.
type Env struct {
	GuildID   discord.GuildID
	UserID    discord.UserID
	SessionID string
	Token     string
	Endpoint  string
}

var (
	globalEnv Env
	globalErr error
	once      sync.Once
)

// Must returns the integration environment or skips the test.
func Must(t *testing.T) Env {
	e, err := GetEnv()
	if err != nil {
		t.Skip("integration test variables missing:", err)
	}
	return e
}

// GetEnv reads the environment once. A .env file in the working directory is
// loaded first if there is one; variables already set take precedence.
func GetEnv() (Env, error) {
	once.Do(getEnv)
	return globalEnv, globalErr
}

func getEnv() {
	// Missing .env files are fine.
	_ = godotenv.Load()

	var env Env

	gid, err := discord.ParseSnowflake(os.Getenv("VOICE_GUILD_ID"))
	if err != nil {
		globalErr = errors.Wrap(err, "invalid $VOICE_GUILD_ID")
		return
	}
	env.GuildID = discord.GuildID(gid)

	uid, err := discord.ParseSnowflake(os.Getenv("VOICE_USER_ID"))
	if err != nil {
		globalErr = errors.Wrap(err, "invalid $VOICE_USER_ID")
		return
	}
	env.UserID = discord.UserID(uid)

	for _, v := range []struct {
		name string
		dst  *string
	}{
		{"VOICE_SESSION_ID", &env.SessionID},
		{"VOICE_TOKEN", &env.Token},
		{"VOICE_ENDPOINT", &env.Endpoint},
	} {
		if *v.dst = os.Getenv(v.name); *v.dst == "" {
			globalErr = errors.New("missing $" + v.name)
			return
		}
	}

	globalEnv = env
}
