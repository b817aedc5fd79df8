// Copyright Contributors to the Sykli project

// sykli is the pipeline engine binary: it elaborates a pipeline JSON
// file into a DAG, schedules and runs it against a target driver, and
// can act as the peer endpoint for cross-platform verification.
//
// Available commands:
//   - run:     elaborate and run a pipeline
//   - history: inspect past runs
//   - serve:   start the verify peer endpoint
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sykli",
	Short: "Sykli - a portable CI/CD pipeline engine",
	Long: `Sykli elaborates a pipeline description into a dependency graph and
executes it against a target driver (local process, Docker, or Kubernetes).

Examples:
  # Run a pipeline
  sykli run --pipeline pipeline.json

  # Print the elaborated plan without running anything
  sykli run --pipeline pipeline.json --explain

  # Start the peer endpoint used for cross-platform verification
  sykli serve --address :7469`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a top-level error back to the engine's exit-status
// contract; errors that never went through one of the typed wrappers
// below default to the generic invocation-error code.
func exitCode(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 2
}

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func taskFailure(err error) error      { return &cliError{code: 1, err: err} }
func invocationError(err error) error  { return &cliError{code: 2, err: err} }
func elaborationError(err error) error { return &cliError{code: 3, err: err} }
func cancelledError(err error) error   { return &cliError{code: 4, err: err} }
