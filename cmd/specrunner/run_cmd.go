package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/hansl/specification/pkg/archive"
	"github.com/hansl/specification/pkg/config"
	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/observability"
	"github.com/hansl/specification/pkg/protocol"
	"github.com/hansl/specification/pkg/scenario"
	"github.com/hansl/specification/pkg/schema"
	"github.com/hansl/specification/pkg/tape"
)

type runOptions struct {
	configPath string
	server     string
	schema     string
	faucetKey  string
	tags       string
	seed       uint64
	tapeDir    string
	tapeStore  string
	replay     string
	format     string
	noColors   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [feature paths...]",
		Short: "Run scenarios against a server or a recorded tape",
		Long: `Run executes the scenarios found in the given paths (or the configured
features paths). Each scenario gets its own variable environment and random
source seeded from --seed.

With --tape-dir or --tape-store every seed, rendered template and exchange is
recorded; with --replay the exchanges of an archived tape are served instead
of contacting a server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd, args)
			if err != nil {
				return runtimeErr(err)
			}
			return runScenarios(cmd.Context(), cfg, &opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&opts.server, "server", "", "server URL")
	f.StringVar(&opts.schema, "schema", "", "JSON Schema document (JSON or YAML) defining response rules")
	f.StringVar(&opts.faucetKey, "faucet-key", "", "PEM file of the funding identity")
	f.StringVarP(&opts.tags, "tags", "t", "", "only run scenarios matching this tag expression")
	f.Uint64Var(&opts.seed, "seed", 0, "random seed of every scenario")
	f.StringVar(&opts.tapeDir, "tape-dir", "", "write the run's tape to this directory")
	f.StringVar(&opts.tapeStore, "tape-store", "", "archive the tape in this store (path, file://, s3:// or gs://)")
	f.StringVar(&opts.replay, "replay", "", "replay the archived tape with this manifest hash")
	f.StringVar(&opts.format, "format", "pretty", "godog output format")
	f.BoolVar(&opts.noColors, "no-colors", false, "disable ANSI colors")
	return cmd
}

// load reads the configuration and applies flags that were set explicitly.
func (o *runOptions) load(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return nil, err
	}
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("server", &cfg.ServerURL, o.server)
	set("schema", &cfg.Schema, o.schema)
	set("faucet-key", &cfg.FaucetKey, o.faucetKey)
	set("tags", &cfg.Tags, o.tags)
	set("tape-dir", &cfg.TapeDir, o.tapeDir)
	set("tape-store", &cfg.TapeStore, o.tapeStore)
	set("replay", &cfg.Replay, o.replay)
	if cmd.Flags().Changed("seed") {
		cfg.Seed = o.seed
	}
	if len(args) > 0 {
		cfg.Features = args
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runScenarios(ctx context.Context, cfg *config.Config, opts *runOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return runtimeErr(err)
	}

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
		Global:         true,
	})
	if err != nil {
		return runtimeErr(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	sc, rec, err := buildScenarioConfig(ctx, cfg, logger)
	if err != nil {
		return runtimeErr(err)
	}

	suite := godog.TestSuite{
		Name:                "specrunner",
		ScenarioInitializer: scenario.NewSuite(sc, telemetry).InitializeScenario,
		Options: &godog.Options{
			Format:         opts.format,
			Paths:          cfg.Features,
			Tags:           cfg.Tags,
			Concurrency:    cfg.Concurrency,
			Strict:         true,
			NoColors:       opts.noColors,
			Output:         stdout,
			DefaultContext: ctx,
		},
	}
	status := suite.Run()
	logger.Info("run finished", "status", status)

	if rec != nil {
		logger.Info("tape recorded", "run_id", rec.RunID(), "entries", rec.Count())
		if err := saveTape(ctx, cfg, rec, stdout); err != nil {
			return runtimeErr(err)
		}
	}
	if status != 0 {
		return failed(nil)
	}
	return nil
}

// buildScenarioConfig wires the transport, tape and validator. The returned
// recorder is nil when the run is not being recorded.
func buildScenarioConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*scenario.Config, *tape.Recorder, error) {
	src, err := schema.LoadSource(cfg.Schema)
	if err != nil {
		return nil, nil, err
	}
	validator := schema.NewValidator(src)
	if _, err := src.Rules(); err != nil {
		return nil, nil, err
	}

	constraint, err := cfg.Constraint()
	if err != nil {
		return nil, nil, err
	}

	sc := &scenario.Config{
		Validator:     validator,
		Seed:          cfg.Seed,
		ServerVersion: constraint,
		Logger:        logger,
	}
	if cfg.FaucetKey != "" {
		faucet, err := identity.LoadPEM(cfg.FaucetKey)
		if err != nil {
			return nil, nil, fmt.Errorf("faucet key: %w", err)
		}
		sc.Faucet = faucet
	}

	if cfg.Replay != "" {
		store, err := archive.Open(ctx, cfg.TapeStore)
		if err != nil {
			return nil, nil, err
		}
		manifest, entries, err := archive.LoadTape(ctx, store, cfg.Replay)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("replaying tape", "run_id", manifest.RunID, "entries", len(entries))
		sc.Replayer = tape.NewReplayer(entries)
		return sc, nil, nil
	}

	sc.Transport = protocol.NewHTTPTransport(cfg.ServerURL,
		protocol.WithTimeout(cfg.Timeout),
		protocol.WithRateLimit(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
		protocol.WithLogger(logger),
	)
	var rec *tape.Recorder
	if cfg.TapeDir != "" || cfg.TapeStore != "" {
		rec = tape.NewRecorder(uuid.NewString())
		sc.Recorder = rec
	}
	return sc, rec, nil
}

func saveTape(ctx context.Context, cfg *config.Config, rec *tape.Recorder, stdout io.Writer) error {
	manifest := rec.BuildManifest()
	entries := rec.Entries()
	var errs []error

	if cfg.TapeDir != "" {
		if err := os.MkdirAll(cfg.TapeDir, 0o750); err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, tape.WriteManifest(cfg.TapeDir, manifest), tape.WriteEntries(cfg.TapeDir, entries))
		}
	}
	if cfg.TapeStore != "" {
		store, err := archive.Open(ctx, cfg.TapeStore)
		if err != nil {
			errs = append(errs, err)
		} else {
			hash, err := archive.SaveTape(ctx, store, manifest, entries)
			if err != nil {
				errs = append(errs, err)
			} else {
				_, _ = fmt.Fprintf(stdout, "tape: %s (%d entries, run %s)\n", hash, len(entries), manifest.RunID)
			}
		}
	}
	return errors.Join(errs...)
}
