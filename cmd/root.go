// Package cmd is the kephasgate command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luciancaetano/kephasgate/gate"
	"github.com/luciancaetano/kephasgate/internal/config"
)

func Execute() error {
	return newRootCmd().Execute()
}

type app struct {
	v        *viper.Viper
	cfgFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "kephasgate",
		Short:         "Gateway client: stream cached domain events and page through history",
		Long:          "kephasgate connects the shards of a bot token to the gateway, keeps a local cache of guilds, channels, members and messages, and prints every change as a JSON line.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.String("token", "", "bot token (env KEPHASGATE_TOKEN)")
	flags.Int("shards", 0, "number of shards (env KEPHASGATE_GATEWAY_SHARDS)")
	_ = a.v.BindPFlag(config.KeyToken, flags.Lookup("token"))
	_ = a.v.BindPFlag(config.KeyShards, flags.Lookup("shards"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(a),
		newMessagesCmd(a),
	)

	return rootCmd
}

func (a *app) config() (config.Config, error) {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	}
	return config.Load(a.v)
}

func (a *app) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(a.logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", a.logLevel)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// clientConfig maps the loaded settings onto the client.
func clientConfig(cfg config.Config, logger *slog.Logger) (gate.Config, error) {
	overflow, err := gate.ParseOverflow(cfg.Events.Overflow)
	if err != nil {
		return gate.Config{}, err
	}
	return gate.Config{
		Token:               cfg.Token,
		Shards:              cfg.Gateway.Shards,
		Intents:             cfg.Gateway.Intents,
		GatewayURL:          cfg.Gateway.URL,
		RestBaseURL:         cfg.Rest.BaseURL,
		IdentifyConcurrency: cfg.Gateway.IdentifyConcurrency,
		IdentifyWindow:      cfg.Gateway.IdentifyWindow,
		HelloTimeout:        cfg.Gateway.HelloTimeout,
		CommandsPerMinute:   cfg.Gateway.CommandsPerMinute,
		MaxRetries:          cfg.Rest.MaxRetries,
		EventBuffer:         cfg.Events.Buffer,
		Overflow:            overflow,
		Logger:              logger,
	}, nil
}
