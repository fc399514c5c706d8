// Command voicecat plays a DCA file into a Discord voice channel, given the
// voice session that the main gateway handed out.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var override Config

	cmd := &cobra.Command{
		Use:   "voicecat [flags] <file.dca>",
		Short: "Play a DCA file into a voice channel",
		Long: `Play a DCA file into a voice channel.

The voice session is read from the config file, then from $VOICE_GUILD_ID,
$VOICE_USER_ID, $VOICE_SESSION_ID, $VOICE_TOKEN and $VOICE_ENDPOINT (a .env
file is loaded if present), then from flags.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			for name, dst := range map[string]*string{
				"guild":        &cfg.Voice.GuildID,
				"user":         &cfg.Voice.UserID,
				"session":      &cfg.Voice.SessionID,
				"token":        &cfg.Voice.Token,
				"endpoint":     &cfg.Voice.Endpoint,
				"metrics-addr": &cfg.Metrics.Address,
				"log-level":    &cfg.LogLevel,
			} {
				if flags.Changed(name) {
					v, _ := flags.GetString(name)
					*dst = v
				}
			}

			if len(args) > 0 {
				cfg.File = args[0]
			}

			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&override.Voice.GuildID, "guild", "", "guild ID")
	flags.StringVar(&override.Voice.UserID, "user", "", "user ID")
	flags.StringVar(&override.Voice.SessionID, "session", "", "voice session ID")
	flags.StringVar(&override.Voice.Token, "token", "", "voice token")
	flags.StringVar(&override.Voice.Endpoint, "endpoint", "", "voice server endpoint")
	flags.StringVar(&override.Metrics.Address, "metrics-addr", "", "address to serve /metrics on")
	flags.StringVar(&override.LogLevel, "log-level", "", "debug, info, warn or error")

	return cmd
}

// run starts the app and blocks until the file is played or a signal is
// received.
func run(ctx context.Context, cfg *Config) error {
	app := newApp(cfg)
	if err := app.Err(); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	<-app.Done()

	return app.Stop(context.Background())
}
