package engine

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/achievio/badgehunter/internal/clock"
	"github.com/achievio/badgehunter/internal/logging"
	"github.com/achievio/badgehunter/internal/progress"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(func() clock.Clock { return clock.System() }),
		fx.Provide(func(store progress.Store, notifier *logging.Notifier, log *zap.Logger) *Runner {
			return NewRunner(store, log.Named("engine"), WithResultHook(func(res Result) {
				notifier.Publish("workflow_result", map[string]any{
					"workflow":  res.Workflow,
					"status":    string(res.Status),
					"blocked":   res.Blocked,
					"resumable": res.Resumable,
					"count":     res.Record.Count,
				})
			}))
		}),
		fx.Invoke(runWorkflows),
	)
}

// runWorkflows drives every enabled workflow concurrently once the app is
// up, then shuts the process down with a non-zero exit code if any of them
// stopped on an error.
func runWorkflows(lc fx.Lifecycle, sd fx.Shutdowner, runner *Runner, workflows []Workflow, log *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if len(workflows) == 0 {
				log.Warn("no workflows enabled")
				go func() {
					defer close(done)
					_ = sd.Shutdown()
				}()
				return nil
			}
			results := make([]Result, len(workflows))
			var g errgroup.Group
			for i, wf := range workflows {
				g.Go(func() error {
					results[i] = runner.Run(runCtx, wf)
					return nil
				})
			}
			go func() {
				defer close(done)
				_ = g.Wait()
				code := 0
				for _, res := range results {
					if res.Status == StatusStopped {
						code = 1
					}
				}
				_ = sd.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
