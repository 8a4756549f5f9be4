// Package cmd defines the CLI commands for the sourcebatch executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kbrapp1/sourcebatch/internal/app"
	"github.com/kbrapp1/sourcebatch/internal/batch"
	"github.com/kbrapp1/sourcebatch/internal/config"
	"github.com/kbrapp1/sourcebatch/internal/publisher"
	"github.com/kbrapp1/sourcebatch/internal/store"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service container surface the commands depend on. It exists as
// an interface so tests can inject a fake container.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	RunStore() store.Store
	Publisher() publisher.Publisher
	Processor() batch.Processor
	Orchestrator() *batch.Orchestrator
	IDGen() IDGenerator
	Clock() batch.Clock
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// newApp is the application factory; a variable so tests can replace it.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	container, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	return &appAdapter{App: container}, nil
}

// appAdapter narrows the concrete container's accessors to the interfaces
// the commands use.
type appAdapter struct {
	*app.App
}

func (a *appAdapter) IDGen() IDGenerator {
	return a.App.IDGen()
}

func (a *appAdapter) Clock() batch.Clock {
	return a.App.Clock()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sourcebatch",
		Short: "Bounded-concurrency batch refresh service for remote sources.",
		Long: `sourcebatch refreshes many independent remote sources in one batch run,
bounding how many fetches run at once, isolating each source's failure from
the rest, and producing a single aggregated summary per run.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
