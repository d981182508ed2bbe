package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/achievio/badgehunter/internal/achievements"
	"github.com/achievio/badgehunter/internal/cli"
	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/grpcserver"
	"github.com/achievio/badgehunter/internal/httpserver"
	"github.com/achievio/badgehunter/internal/logging"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
	"github.com/achievio/badgehunter/internal/retry"
	"github.com/achievio/badgehunter/internal/telemetry"
)

func main() {
	rootCmd := cli.NewRootCommand()

	runE := func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		run(configPath, cli.OverridesFromFlags(cmd))
		return nil
	}
	rootCmd.RunE = runE
	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the enabled workflows to completion",
		RunE:  runE,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, overrides cli.Overrides) {
	app := fx.New(
		config.Module(configPath),
		fx.Decorate(overrides.Apply),
		logging.Module(),
		telemetry.Module(),
		ratelimit.Module(),
		retry.Module(),
		github.Module(),
		progress.Module(),
		achievements.Module(),
		engine.Module(),
		grpcserver.Module,
		httpserver.Module(),
	)

	app.Run()
}
