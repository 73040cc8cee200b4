// Command specrunner runs payload scenarios written as .feature files against
// a ledger server, and can serve an in-memory ledger to run them against.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hansl/specification/pkg/config"
)

var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1
	exitRuntime = 2
)

// exitError carries an exit code out of a cobra command.
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

func (e *exitError) Unwrap() error { return e.err }

func failed(err error) error     { return &exitError{code: exitFailed, err: err} }
func runtimeErr(err error) error { return &exitError{code: exitRuntime, err: err} }

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. It returns 0 when every scenario passed,
// 1 when a scenario or check failed and 2 on usage or runtime errors.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitRuntime
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "specrunner",
		Short: "Run CBOR payload scenarios against a ledger server",
		Long: `specrunner executes Gherkin scenarios whose steps render CBOR templates,
send them to a server as signed requests and check the responses against
a JSON Schema document or CEL expressions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(`{{printf "specrunner version %s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newKeygenCmd(),
		newTapeCmd(),
	)
	return root
}

// newLogger builds the process logger from cfg and installs it as the slog
// default.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}
