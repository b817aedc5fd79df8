// Copyright Contributors to the Sykli project

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sykli/internal/logging"
	"github.com/yairfalse/sykli/internal/target"
	"github.com/yairfalse/sykli/internal/target/docker"
	"github.com/yairfalse/sykli/internal/target/local"
	"github.com/yairfalse/sykli/internal/verify"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddress, "address", ":7469", "Address the verify peer endpoint binds to")
	serveCmd.Flags().StringVar(&serveDriver, "driver", "local", "Driver used to execute dispatched single-task runs (local or docker)")
	serveCmd.Flags().StringVar(&serveWorkspace, "workspace", ".", "Workspace directory dispatched artifacts are materialized under")
}

var (
	serveAddress   string
	serveDriver    string
	serveWorkspace string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verify peer endpoint",
	Long: `Start the HTTP endpoint a remote engine's Verify Coordinator dispatches
single-task re-execution requests to. Run this on any host that should be
reachable as a remote_nodes entry for cross-platform verification.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := logging.New(os.Getenv("SYKLI_DEBUG") != "")
	if err != nil {
		return invocationError(err)
	}
	ctx := logging.Into(cmd.Context(), log)

	drv, err := serveDriverFor(serveDriver, serveWorkspace)
	if err != nil {
		return invocationError(err)
	}

	srv := verify.NewServer(drv, serveWorkspace)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received signal, shutting down verify server")
		cancel()
	}()

	log.Info("starting verify peer endpoint", "address", serveAddress, "driver", serveDriver)
	if err := srv.Run(runCtx, serveAddress); err != nil {
		return invocationError(err)
	}
	return nil
}

func serveDriverFor(name, workspace string) (target.Driver, error) {
	switch name {
	case "local":
		return local.New(workspace), nil
	case "docker":
		return docker.New(workspace)
	default:
		return nil, fmt.Errorf("unknown driver %q", name)
	}
}
