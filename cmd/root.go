// Package cmd defines and implements the CLI commands for the pressroom executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/app"
	"github.com/JakeFAU/pressroom/internal/config"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/notify"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

type contextKey string

const (
	appKey    contextKey = "app"
	configKey contextKey = "config"

	// annotationMode set to "serve" builds the app for long-running workers.
	annotationMode = "pressroom/mode"
	// annotationNoApp skips building the app; only config is loaded.
	annotationNoApp = "pressroom/no-app"
)

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Notifier() notify.Notifier
	Pipeline() app.Pipeline
	Index() app.Index
	Importer() app.Importer
	Submit(ctx context.Context, kind string, payload any) (string, error)
	Serve(ctx context.Context) error
	Close()
}

// appFactory builds the application. Tests replace it with a fake.
type appFactory func(ctx context.Context, cfg config.Config, opts app.Options) (App, error)

func buildApp(ctx context.Context, cfg config.Config, opts app.Options) (App, error) {
	a, err := app.Build(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd(build appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pressroom",
		Short: "Builds a searchable directory of journalists from news sites.",
		Long: `pressroom crawls news publications, extracts the journalists who write for
them, tags their work with categories, embeds it for semantic search and keeps
a search index of the resulting directory in step with the database.`,
		SilenceUsage: true,

		// Config is loaded and the app built before every subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				alertFatal(cmd.Context(), cfg, err)
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			if cmd.Annotations[annotationNoApp] == "true" {
				cmd.SetContext(ctx)
				return nil
			}

			opts := app.Options{Mode: app.ModeCLI, Version: Version}
			if cmd.Annotations[annotationMode] == "serve" {
				opts.Mode = app.ModeServe
			}
			appInstance, err := build(ctx, cfg, opts)
			if err != nil {
				alertFatal(ctx, cfg, err)
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and PRESSROOM_* env vars otherwise)")

	cmd.AddCommand(
		newCrawlCmd(),
		newRecrawlCmd(),
		newProcessCmd(),
		newCategorizeCmd(),
		newEmbedCmd(),
		newIndexCmd(),
		newSourcesCmd(),
		newSyncCategoriesCmd(),
		newGuessEmailsCmd(),
		newCleanJournalistsCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(buildApp).Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// precondition runs a config check and alerts the operator when it fails.
func precondition(ctx context.Context, a App, check func(config.Config) error) error {
	if err := check(a.Config()); err != nil {
		notify.Alert(ctx, a.Notifier(), a.Logger(), "pressroom: "+err.Error())
		return err
	}
	return nil
}

// alertFatal tells the operator about a configuration the process cannot
// run with. Other errors are left to the command's exit status.
func alertFatal(ctx context.Context, cfg config.Config, err error) {
	if !errors.Is(err, core.ErrFatalConfig) {
		return
	}
	logger := zap.L()
	var n notify.Notifier = notify.NewLog(logger)
	if cfg.Notify.SlackWebhookURL != "" {
		slack, slackErr := notify.NewSlack(notify.SlackConfig{WebhookURL: cfg.Notify.SlackWebhookURL})
		if slackErr == nil {
			n = slack
		}
	}
	notify.Alert(ctx, n, logger, "pressroom: "+err.Error())
}
