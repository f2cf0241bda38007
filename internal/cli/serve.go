package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/erawatcher/internal/control"
)

var (
	withWorkers int
	workerID    string
)

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run the crawl orchestrator and the health server",
	RunE:  runOrchestrator,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a crawl worker",
	RunE:  runWorker,
}

func init() {
	orchestratorCmd.Flags().IntVar(&withWorkers, "with-workers", 0, "run N workers in this process")
	workerCmd.Flags().StringVar(&workerID, "id", "", "worker id (default worker.id or a random uuid)")
	rootCmd.AddCommand(orchestratorCmd, workerCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runOrchestrator(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close()
	}()

	app, err := control.NewOrchestratorApp(deps, withWorkers)
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		return err
	}
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start orchestrator", "error", err)
		return err
	}
	slog.Info("Orchestrator started", "config", cfgPath)

	<-ctx.Done()
	slog.Info("Received signal, shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close()
	}()

	if !deps.Distributed() {
		slog.Warn("redis.url is empty, this worker can only be reached in-process")
	}

	app, err := control.NewWorkerApp(deps, workerID)
	if err != nil {
		return err
	}
	if err := app.Run(ctx); err != nil {
		slog.Error("Worker failed", "error", err)
		return err
	}
	slog.Info("Worker stopped", "worker_id", app.ID())
	return nil
}
