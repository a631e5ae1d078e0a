// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/klynelabs/uirunner/internal/agent"
	"github.com/klynelabs/uirunner/internal/coordinator"
	"github.com/klynelabs/uirunner/internal/drivers"
	"github.com/klynelabs/uirunner/internal/executor"
	"github.com/klynelabs/uirunner/internal/interpreter"
	"github.com/klynelabs/uirunner/internal/observability"
	"github.com/klynelabs/uirunner/internal/recording"
	"github.com/klynelabs/uirunner/internal/server"
	"github.com/klynelabs/uirunner/internal/store"
)

var (
	runMaxCapacity int
	runHeadless    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution agent: poll the coordinator for jobs and serve the local control surface.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("max-capacity") {
			appCfg.SetAgentMaxCapacity(runMaxCapacity)
		}
		if cmd.Flags().Changed("headless") {
			appCfg.SetBrowserHeadless(runHeadless)
		}
		if err := appCfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runAgent(cmd.Context())
	},
}

func init() {
	runCmd.Flags().IntVar(&runMaxCapacity, "max-capacity", 0, "maximum concurrent jobs (overrides config)")
	runCmd.Flags().BoolVar(&runHeadless, "headless", true, "run the browser headless (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runAgent(parent context.Context) error {
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coordinator.Version = Version
	client, err := coordinator.NewClient(appCfg.Coordinator(), logger)
	if err != nil {
		return fmt.Errorf("failed to create coordinator client: %w", err)
	}

	exec, err := executor.New(appCfg.Agent().MaxCapacity, logger)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	interp := interpreter.New(appCfg.Interpreter(), logger)
	provider := drivers.NewProvider(appCfg, logger)
	defer provider.Shutdown()

	var agentOpts []agent.Option
	if dbURL := appCfg.Database().URL; dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to report archive: %w", err)
		}
		defer pool.Close()

		archive, err := store.New(ctx, pool, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize report archive: %w", err)
		}
		agentOpts = append(agentOpts, agent.WithArchive(archive))
		logger.Info("Report archive enabled")
	}

	ag, err := agent.New(appCfg.Agent(), logger, client, exec, interp, provider, agentOpts...)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	recorder := recording.NewRecorder(logger)
	handlers := server.NewHandlers(logger, recorder, provider, interp)
	srv := server.NewServer(appCfg.Server(), logger, handlers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ag.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		handlers.Close(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Agent stopped", zap.String("version", Version))
	return nil
}
