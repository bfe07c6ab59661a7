package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and the operator HTTP surface",
		Long: `Start taskrun in long-running mode: load active tasks, schedule their
cron/interval fires, and serve /health and /metrics until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := appContext()
			defer cancel()

			if err := app.scheduler.Start(ctx); err != nil {
				return fmt.Errorf("starting scheduler: %w", err)
			}
			defer func() {
				if err := app.scheduler.Stop(); err != nil {
					app.sysLog.Error("error stopping scheduler", "error", err)
				}
			}()

			fmt.Fprintf(os.Stderr, "taskrun serving on :%d (data dir: %s)\n", app.cfg.Port, app.cfg.DataDir)
			return app.server.Run(ctx)
		},
	}
}
