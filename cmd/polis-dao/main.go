// Package main is the entry point for the polis-dao binary.
// It provides a CLI for running council governance against a local store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/polisai/polis-dao/pkg/config"
	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/engine"
	"github.com/polisai/polis-dao/pkg/logging"
	"github.com/polisai/polis-dao/pkg/policy"
	"github.com/polisai/polis-dao/pkg/storage"
	"github.com/polisai/polis-dao/pkg/telemetry"
	"github.com/spf13/cobra"
)

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the flags and the components opened for one invocation.
type app struct {
	configPath string
	logLevel   string
	caller     string
	now        string

	cfg      *config.Config
	logger   *slog.Logger
	store    domain.Store
	guard    *policy.Guard
	engine   *engine.Engine
	shutdown func(context.Context) error
}

// execute runs one command line and releases everything it opened.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// newRootCmd creates the root command for polis-dao
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-dao",
		Short: "Council governance for Polis",
		Long: `A council governance engine. Members vote on proposals that pay out
funds, remove council members, or change the vote period and voting policy.

Example:
  polis-dao -c dao.yaml init
  polis-dao -c dao.yaml --as carol.near propose payout --target carol.near --amount 10
  polis-dao -c dao.yaml --as alice.near vote 0 yes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&a.caller, "as", "", "Identity of the caller")
	rootCmd.PersistentFlags().StringVar(&a.now, "now", "", "Clock override in RFC3339 (defaults to the current time)")

	rootCmd.AddCommand(
		newInitCmd(a),
		newCouncilCmd(a),
		newProposeCmd(a),
		newVoteCmd(a),
		newFinalizeCmd(a),
		newProposalsCmd(a),
		newSettingsCmd(a),
		newTransfersCmd(a),
		newServeMetricsCmd(a),
	)
	return rootCmd
}

func (a *app) open(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.logger = logging.NewLogger(logging.Config{
		Level:  level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger)

	a.shutdown, err = telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	a.store, err = storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}

	opts := []engine.Option{engine.WithLogger(a.logger)}
	if cfg.Admission.PolicyFile != "" {
		a.guard, err = policy.NewGuard(ctx, cfg.Admission.PolicyFile, cfg.Admission.Entrypoint, a.logger)
		if err != nil {
			return err
		}
		if cfg.Admission.Watch {
			if err := a.guard.Watch(); err != nil {
				return err
			}
		}
		opts = append(opts, engine.WithAdmission(a.guard))
	}

	a.engine, err = engine.New(ctx, a.store, cfg.Settings(), opts...)
	if err != nil {
		return err
	}

	a.logger.Debug("polis-dao ready",
		"command", cmd.CommandPath(),
		"driver", cfg.Storage.Driver,
		"path", cfg.Storage.Path,
	)
	return nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.guard != nil {
		errs = append(errs, a.guard.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

// call builds the identity and clock for a mutating command.
func (a *app) call() (domain.Call, error) {
	caller := strings.TrimSpace(a.caller)
	if caller == "" {
		return domain.Call{}, fmt.Errorf("--as is required for this command")
	}
	now, err := a.clock()
	if err != nil {
		return domain.Call{}, err
	}
	return domain.Call{Caller: domain.Identity(caller), Now: now}, nil
}

func (a *app) clock() (time.Time, error) {
	if a.now == "" {
		return time.Now().UTC(), nil
	}
	now, err := time.Parse(time.RFC3339, a.now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now %q: %w", a.now, err)
	}
	return now, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
