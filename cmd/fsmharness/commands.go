package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fsmharness/internal/cluster"
	"fsmharness/internal/collector"
	"fsmharness/internal/config"
	"fsmharness/internal/metrics"
	"fsmharness/internal/progress"
	"fsmharness/internal/suite"
	"fsmharness/internal/workload"
	"fsmharness/internal/workloads"
)

// exitError carries the process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

type app struct {
	v        *viper.Viper
	registry *workload.Registry
	stdout   io.Writer
	stderr   io.Writer
}

func execute(args []string) int {
	a := &app{
		v:        viper.New(),
		registry: workloads.NewRegistry(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	return a.execute(args)
}

func (a *app) execute(args []string) int {
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintf(a.stderr, "error: %v\n", exit.err)
		}
		return exit.code
	}
	fmt.Fprintf(a.stderr, "error: %v\n", err)
	return ExitError
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fsmharness",
		Short:         "Run randomized state-machine workloads against a data store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(a.v.GetString("log-level"))
		if err != nil {
			return &exitError{code: ExitError, err: err}
		}
		log.SetLevel(level)
		log.SetOutput(a.stderr)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		return nil
	}
	_ = a.v.BindPFlag("log-level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(a.runCmd(), a.listCmd())
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered workloads.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range a.registry.Names() {
				d, err := a.registry.Load(name)
				if err != nil {
					return &exitError{code: ExitError, err: err}
				}
				fmt.Fprintf(a.stdout, "%-24s threads=%d iterations=%d start=%s\n", name, d.ThreadCount, d.Iterations, d.StartState)
			}
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workloads named in a suite file.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return &exitError{code: ExitError, err: err}
			}
			a.v.SetEnvPrefix("fsmharness")
			a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			a.v.AutomaticEnv()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringP("config", "c", "", "path to the suite YAML file (required)")
	f.String(config.KeyMode, "", "execution mode: parallel, serial, composed")
	f.Int(config.KeyMaxThreads, 0, "maximum number of units in one round")
	f.Float64(config.KeyAllowedFailurePercent, 0, "fraction of units allowed to fail while spawning")
	f.Int64(config.KeySeed, 0, "base random seed (0 picks one)")
	f.String(config.KeyClusterKind, "", "cluster kind: memory, redis")
	f.String(config.KeyClusterHost, "", "cluster host address")
	f.String("output", "text", "output format: text, json")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.Bool("quiet", false, "suppress progress output")
	return cmd
}

func (a *app) run(ctx context.Context) error {
	path := a.v.GetString("config")
	if path == "" {
		return &exitError{code: ExitError, err: errors.New("--config is required")}
	}
	output := a.v.GetString("output")
	if output != "text" && output != "json" {
		return &exitError{code: ExitError, err: errors.Errorf("--output must be 'text' or 'json', got %q", output)}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	if err := cfg.ApplyOverrides(a.v); err != nil {
		return &exitError{code: ExitError, err: err}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := a.v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	c, err := cluster.Open(ctx, cfg.Cluster)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("closing cluster")
		}
	}()

	quiet := a.v.GetBool("quiet")
	runner := suite.NewRunner(cfg, a.registry, c, suite.WithProgress(func(col *collector.Collector) *progress.Progress {
		p := progress.NewProgress(col, quiet)
		p.SetOutput(a.stderr)
		return p
	}))
	report, err := runner.Run(ctx)
	if report != nil {
		if output == "json" {
			if werr := report.WriteJSON(a.stdout); werr != nil {
				log.WithError(werr).Error("writing report")
			}
		} else {
			report.WriteText(a.stdout)
		}
	}
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	if err := report.Err(); err != nil {
		return &exitError{code: ExitUnitsFailed, err: err}
	}
	return nil
}
