// Command deepresearch runs citation-verified research pipelines from
// the command line.
//
// Exit codes distinguish pipeline outcomes: 0 on success, 1 on generic
// or clarification failure, 2 when a non-interactive run needs
// clarification answers, 3 when the final report fails structural
// verification.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/researchlab/deepresearch/internal/cache"
	"github.com/researchlab/deepresearch/internal/config"
	"github.com/researchlab/deepresearch/internal/pipeline"
	"github.com/researchlab/deepresearch/internal/store"
)

const (
	exitOK                    = 0
	exitFailure               = 1
	exitClarificationRequired = 2
	exitVerificationFailed    = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := &cliApp{}
	root := app.rootCommand()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "deepresearch: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps the pipeline's distinguished outcomes onto the exit
// codes documented in the package comment.
func exitCode(err error) int {
	var verr *pipeline.VerificationError
	var cerr *pipeline.ClarificationError
	switch {
	case errors.Is(err, pipeline.ErrClarificationRequired):
		return exitClarificationRequired
	case errors.As(err, &verr):
		return exitVerificationFailed
	case errors.As(err, &cerr):
		return exitFailure
	default:
		return exitFailure
	}
}

// cliApp carries state shared between the root command's flags and the
// subcommand runners.
type cliApp struct {
	configPath  string
	metricsAddr string

	cfg    *config.Config
	logger *zap.Logger
	index  *store.Store
}

func (a *cliApp) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "deepresearch",
		Short:         "Citation-verified research pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.teardown()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	root.AddCommand(a.runCommand())
	root.AddCommand(a.resumeCommand())
	root.AddCommand(a.verifyCommand())
	root.AddCommand(a.listCommand())
	return root
}

func (a *cliApp) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = buildLogger(cfg.Log)
	if err != nil {
		return err
	}

	a.index, err = store.Open(cfg.Store.Path, a.logger)
	if err != nil {
		return err
	}

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(a.metricsAddr, mux); err != nil {
				a.logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
		a.logger.Info("Serving metrics", zap.String("addr", a.metricsAddr))
	}
	return nil
}

func (a *cliApp) teardown() {
	if a.index != nil {
		a.index.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

// machine assembles a pipeline machine from the loaded configuration.
func (a *cliApp) machine(interactive bool) (*pipeline.Machine, error) {
	opts := []pipeline.Option{pipeline.WithRunIndex(a.index)}

	if a.cfg.Cache.Backend == "redis" {
		rc, err := cache.NewRedisCache(a.cfg.Cache.Redis.Addr, a.cfg.Cache.Redis.Password, a.cfg.Cache.TTL, a.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithCache(rc))
	}
	if interactive {
		opts = append(opts, pipeline.WithPrompter(pipeline.NewIOPrompter(os.Stdin, os.Stdout)))
	}

	return pipeline.New(a.cfg, a.logger, opts...)
}

func (a *cliApp) runCommand() *cobra.Command {
	var (
		runID       string
		workers     int
		budget      int
		depth       string
		lang        string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "run <topic>",
		Short: "Execute the full pipeline for a research topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.machine(interactive)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			topic := strings.Join(args, " ")
			st, err := m.Run(ctx, topic, pipeline.RunOptions{
				RunID:       runID,
				Workers:     workers,
				Budget:      budget,
				Depth:       depth,
				Lang:        lang,
				Interactive: interactive,
			})
			return report(cmd, st, err)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "reuse an explicit run id (resumes if it exists)")
	cmd.Flags().IntVar(&workers, "workers", 0, "override configured worker count")
	cmd.Flags().IntVar(&budget, "budget", 0, "override configured source budget")
	cmd.Flags().StringVar(&depth, "depth", "", "research depth: shallow, medium or deep")
	cmd.Flags().StringVar(&lang, "lang", "", "report language")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer clarification questions on the terminal")
	return cmd
}

func (a *cliApp) resumeCommand() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run at its first incomplete stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.machine(interactive)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			st, err := m.Resume(ctx, args[0], pipeline.RunOptions{Interactive: interactive})
			return report(cmd, st, err)
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer clarification questions on the terminal")
	return cmd
}

func (a *cliApp) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <run-id>",
		Short: "Re-run structural verification against a run's artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.machine(false)
			if err != nil {
				return err
			}

			res, verr := m.VerifyRun(args[0])
			if res != nil {
				out, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return verr
		},
	}
}

func (a *cliApp) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known runs and their statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := a.index.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTATUS\tSTAGE\tUPDATED\tTOPIC")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.RunID, r.Status, r.Stage, r.UpdatedAt.Format("2006-01-02 15:04"), r.Topic)
			}
			return w.Flush()
		},
	}
}

// report prints the run outcome for humans and passes the pipeline
// error through for exit-code mapping.
func report(cmd *cobra.Command, st *pipeline.RunState, err error) error {
	out := cmd.OutOrStdout()

	if st == nil {
		return err
	}

	switch {
	case err == nil:
		fmt.Fprintf(out, "Run %s completed.\n", st.RunID)
		fmt.Fprintf(out, "Report:       %s\n", st.Layout().ReportPath())
		fmt.Fprintf(out, "Verification: %s\n", st.Layout().VerificationPath())
	case errors.Is(err, pipeline.ErrClarificationRequired):
		fmt.Fprintf(out, "Run %s needs clarification before it can proceed:\n", st.RunID)
		if st.Clarification != nil {
			for i, q := range st.Clarification.Questions {
				fmt.Fprintf(out, "  %d. %s\n", i+1, q)
			}
		}
		fmt.Fprintf(out, "Re-run interactively (-i) or with a more specific topic.\n")
	default:
		fmt.Fprintf(out, "Run %s stopped with status %s.\n", st.RunID, st.Status)
	}
	return err
}

// buildLogger constructs the zap logger described by the log config.
func buildLogger(lc config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", lc.Level, err)
	}

	var zc zap.Config
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so an
// interrupted run leaves a resumable transition log behind.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
