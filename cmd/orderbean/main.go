package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	clientcmd "github.com/socratat-b/orderbean/internal/cmd/client"
	serverrun "github.com/socratat-b/orderbean/internal/cmd/server"
	cfgpkg "github.com/socratat-b/orderbean/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orderbean",
		Short: "OrderBean event server CLI",
		Long:  "OrderBean distributes coffee-shop order events to live viewers. This CLI manages the server and basic operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the orderbean server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(cfgPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			overlayFlags(cmd, &cfg)

			logger := newLogger(cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serverrun.Run(ctx, serverrun.Options{Config: cfg, Logger: logger})
		},
	}
	serverStartCmd.Flags().String("config", "", "Path to JSON config file")
	serverStartCmd.Flags().String("http", "", "HTTP listen address")
	serverStartCmd.Flags().String("data-dir", "", "Data directory for the embedded broker")
	serverStartCmd.Flags().String("channel", "", "Channel mode: local|broker")
	serverStartCmd.Flags().String("broker", "", "Broker backend: embedded|redis")
	serverStartCmd.Flags().String("redis", "", "Redis address")
	serverStartCmd.Flags().Int64("stream-max-len", 0, "Approximate per-topic stream retention")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: console|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	cliLogger := newLogger(cfgpkg.Default())
	rootCmd.AddCommand(clientcmd.NewPublishCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewTailCommand(apiURL, cliLogger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func overlayFlags(cmd *cobra.Command, cfg *cfgpkg.Config) {
	if v, _ := cmd.Flags().GetString("http"); v != "" {
		cfg.HTTPAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("channel"); v != "" {
		cfg.ChannelMode = v
	}
	if v, _ := cmd.Flags().GetString("broker"); v != "" {
		cfg.BrokerBackend = v
	}
	if v, _ := cmd.Flags().GetString("redis"); v != "" {
		cfg.RedisAddr = v
	}
	if v, _ := cmd.Flags().GetInt64("stream-max-len"); v > 0 {
		cfg.StreamMaxLen = v
	}
	if v, _ := cmd.Flags().GetString("fsync"); v != "" {
		cfg.Fsync = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
}

func newLogger(cfg cfgpkg.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func apiURL() string {
	if v := os.Getenv("ORDERBEAN_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
