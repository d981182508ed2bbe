package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/progress"
)

// Overrides carries command-line settings that take precedence over the
// config file.
type Overrides struct {
	ProgressPath string
	Workflows    []string
	DryRun       bool
}

// Apply folds the overrides into a loaded config. Selecting a workflow
// subset disables everything outside it; it never enables a workflow the
// file disabled.
func (o Overrides) Apply(cfg config.Config) (config.Config, error) {
	if o.DryRun {
		cfg.DryRun = true
	}
	if o.ProgressPath != "" {
		cfg.Store.Backend = "file"
		cfg.Store.Path = o.ProgressPath
	}
	if len(o.Workflows) > 0 {
		known := map[string]bool{}
		for _, name := range config.WorkflowNames() {
			known[name] = true
		}
		keep := map[string]bool{}
		for _, name := range o.Workflows {
			if !known[name] {
				return cfg, fmt.Errorf("unknown workflow %q (one of: %s)",
					name, strings.Join(config.WorkflowNames(), ", "))
			}
			keep[name] = true
		}
		for name, wf := range cfg.Workflows {
			wf.Enabled = wf.Enabled && keep[name]
			cfg.Workflows[name] = wf
		}
	}
	return cfg, nil
}

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "badgehunter",
		Short: "Drives GitHub achievement workflows against a sandbox repository",
	}

	cmd.PersistentFlags().String("config", "config.yaml", "Path to config file")
	cmd.PersistentFlags().String("progress", "", "Override the progress file path")
	cmd.PersistentFlags().StringSlice("workflows", nil, "Run only this subset of workflows")
	cmd.PersistentFlags().Bool("dry-run", false, "Log intended API calls without making them")

	cmd.AddCommand(newStatusCommand())
	return cmd
}

// OverridesFromFlags reads the persistent flags off any command in the tree.
func OverridesFromFlags(cmd *cobra.Command) Overrides {
	progressPath, _ := cmd.Flags().GetString("progress")
	workflows, _ := cmd.Flags().GetStringSlice("workflows")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	return Overrides{ProgressPath: progressPath, Workflows: workflows, DryRun: dryRun}
}

// newStatusCommand prints saved workflow progress without starting the
// engine, so state can be inspected between runs.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved workflow progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg, err = OverridesFromFlags(cmd).Apply(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			defer store.Close(ctx)

			records, err := store.All(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no progress recorded yet")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WORKFLOW\tCOUNT\tNEXT\tDONE\tUPDATED")
			for _, rec := range records {
				next := "-"
				if n, ok := rec.NextThreshold(); ok {
					next = fmt.Sprintf("%d", n)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%v\t%s\n",
					rec.Name, rec.Count, next, rec.Completed,
					rec.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func openStore(cfg config.Config) (progress.Store, error) {
	if cfg.Store.Backend == "postgres" {
		return progress.NewPGStore(cfg.Store.Postgres.DSN)
	}
	log := zap.NewNop()
	if os.Getenv("BADGEHUNTER_DEBUG") != "" {
		log, _ = zap.NewDevelopment()
	}
	return progress.NewFileStore(cfg.Store.Path, cfg.Store.BackupDir, log)
}
