// Package cmd implements the taskrun CLI: the one supported client for the
// admin facade (internal/service). There is no HTTP admin API — every
// task/log/stats operation is reached by running this binary.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/taskrun/internal/build"
	"github.com/shaharia-lab/taskrun/internal/chain"
	"github.com/shaharia-lab/taskrun/internal/config"
	"github.com/shaharia-lab/taskrun/internal/executor"
	"github.com/shaharia-lab/taskrun/internal/logger"
	"github.com/shaharia-lab/taskrun/internal/metrics"
	"github.com/shaharia-lab/taskrun/internal/scheduler"
	"github.com/shaharia-lab/taskrun/internal/server"
	"github.com/shaharia-lab/taskrun/internal/service"
	"github.com/shaharia-lab/taskrun/internal/storage"
	"github.com/shaharia-lab/taskrun/internal/tasklog"
)

// App bundles every wired dependency the CLI's subcommands need.
type App struct {
	cfg       *config.AppConfig
	store     *storage.FileStore
	scheduler *scheduler.Scheduler
	service   service.TaskService
	server    *server.Server
	sysLog    *slog.Logger
}

func newApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	sysLog, err := logger.NewSystemLogger(cfg.LogDir(), cfg.SlogLevel())
	if err != nil {
		return nil, fmt.Errorf("setting up system logger: %w", err)
	}

	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("setting up store: %w", err)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	tlog := tasklog.New(store, sysLog)
	exec := executor.New(time.Duration(cfg.StepTimeoutSeconds) * time.Second)
	runner := chain.New(exec, tlog, recorder)

	sch, err := scheduler.New(scheduler.Config{
		Store:          store,
		Runner:         runner,
		Metrics:        recorder,
		Logger:         sysLog,
		Log:            tlog,
		MaxConcurrency: cfg.MaxConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up scheduler: %w", err)
	}

	svc := service.NewTaskService(store, sch, sysLog)
	srv := server.New(cfg.Port, registry)

	return &App{
		cfg:       cfg,
		store:     store,
		scheduler: sch,
		service:   svc,
		server:    srv,
		sysLog:    sysLog,
	}, nil
}

// NewRootCmd returns the root cobra command.
func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "taskrun",
		Short: "taskrun — a scheduled HTTP step-chain runner",
		Long: "taskrun schedules tasks made of ordered HTTP step chains, runs them on a\n" +
			"cron or interval schedule, and persists their definitions and execution\n" +
			"history to disk.",
	}
}

// Execute is the process entrypoint: it wires the application, builds the
// command tree, and runs the root command.
func Execute() {
	app, err := newApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	root := NewRootCmd()
	root.AddCommand(newTaskCmd(app))
	root.AddCommand(newLogsCmd(app))
	root.AddCommand(newStatsCmd(app))
	root.AddCommand(newServeCmd(app))
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// appContext returns a context cancelled on SIGINT/SIGTERM, for commands
// that may run a long-lived operation (currently only `serve`).
func appContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(build.String())
			return nil
		},
	}
}
