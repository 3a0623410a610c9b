// Copyright 2024-2026 Aiku AI

// Command telegram-relay duplicates posts between Telegram channels. It
// long-polls source channels through the Bot API, applies per-route
// filter and rewrite rules, and mirrors new posts, edits and deletions
// to the configured destination channels with durable message identity
// tracking.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aiku/telegram-relay/pkg/relay"
	"github.com/aiku/telegram-relay/pkg/relay/store"
	"github.com/aiku/telegram-relay/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "telegram-relay",
		Short:   "Telegram channel duplication relay",
		Version: fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and report compiled rule warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(configPath)
		},
	}
	exampleCmd := &cobra.Command{
		Use:   "example-config",
		Short: "Print the commented example config",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(relay.ExampleConfig)
		},
	}
	upgradeCmd := &cobra.Command{
		Use:   "upgrade-config",
		Short: "Rewrite the config file onto the current example layout, keeping your values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return upgradeConfig(configPath)
		},
	}
	rootCmd.AddCommand(validateCmd, exampleCmd, upgradeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger(), nil
}

func run(configPath string) error {
	cfg, err := relay.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	routes, warnings := cfg.CompileRoutes()
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	token := cfg.Telegram.Token()
	if token == "" {
		return fmt.Errorf("bot token not set (environment variable %s)", cfg.Telegram.TokenEnv)
	}

	db, err := store.New(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := telegram.New(token, cfg.Telegram.LongPollTimeout, log)
	if err != nil {
		return err
	}

	limiter := relay.NewLimiter(cfg.RateLimit.Default, cfg.RateLimit.Overrides)
	disp := relay.NewDispatcher(client, db, limiter, cfg.Send, log)
	engine := relay.NewEngine(client, disp, routes, cfg.QueueSize, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watchReload(ctx, configPath, engine, log)

	log.Info().
		Str("version", Tag).
		Int("routes", len(routes)).
		Msg("Starting relay")
	return engine.Run(ctx)
}

// watchReload recompiles routes on SIGHUP so filter and rewrite rules
// can change without dropping the update stream.
func watchReload(ctx context.Context, configPath string, engine *relay.Engine, log zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		cfg, err := relay.LoadConfig(configPath)
		if err != nil {
			log.Err(err).Msg("Config reload failed, keeping previous routes")
			continue
		}
		routes, warnings := cfg.CompileRoutes()
		for _, w := range warnings {
			log.Warn().Msg(w)
		}
		engine.Reload(routes)
	}
}

func upgradeConfig(configPath string) error {
	data, changed, err := relay.UpgradeConfig(configPath, true)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("%s: already up to date\n", configPath)
		return nil
	}
	// Re-validate the rewritten file before declaring success.
	var cfg relay.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("upgraded config does not parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("upgraded config is invalid: %w", err)
	}
	fmt.Printf("%s: upgraded\n", configPath)
	return nil
}

func validate(configPath string) error {
	cfg, err := relay.LoadConfig(configPath)
	if err != nil {
		return err
	}
	routes, warnings := cfg.CompileRoutes()
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	fmt.Printf("%s: ok (%d routes", configPath, len(routes))
	dests := 0
	for _, r := range routes {
		dests += len(r.Destinations)
	}
	fmt.Printf(", %d destinations)\n", dests)
	return nil
}
