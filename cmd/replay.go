// File: cmd/replay.go
package cmd

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/drivers"
	"github.com/klynelabs/uirunner/internal/interpreter"
	"github.com/klynelabs/uirunner/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	replayKind   string
	replayTarget string
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.json>",
	Short: "Execute a step script from a file against a local browser or device, without a coordinator.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		var steps []schemas.Step
		if err := json.Unmarshal(raw, &steps); err != nil {
			return fmt.Errorf("failed to parse script: %w", err)
		}
		if len(steps) == 0 {
			return fmt.Errorf("script %s contains no steps", args[0])
		}

		interp := interpreter.New(appCfg.Interpreter(), logger)
		provider := drivers.NewProvider(appCfg, logger)
		defer provider.Shutdown()

		ctx := cmd.Context()
		var report *schemas.ExecutionReport
		switch schemas.JobKind(replayKind) {
		case schemas.JobKindPage:
			driver, err := provider.AcquirePage(ctx, replayTarget)
			if err != nil {
				return fmt.Errorf("failed to acquire page driver: %w", err)
			}
			defer driver.Close(ctx)
			report = interp.RunPage(ctx, steps, driver, nil, nil)

		case schemas.JobKindDevice:
			driver, err := provider.AcquireDevice(ctx, replayTarget)
			if err != nil {
				return fmt.Errorf("failed to acquire device driver: %w", err)
			}
			defer driver.Close(ctx)
			report = interp.RunDevice(ctx, steps, driver, nil, nil)

		default:
			return fmt.Errorf("unknown kind %q (want page or device)", replayKind)
		}

		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Println(string(out))

		status := interpreter.StatusFor(report)
		logger.Info("Replay finished",
			zap.String("status", string(status)),
			zap.Int("passed", report.PassedSteps),
			zap.Int("failed", report.FailedSteps))
		if status == schemas.JobStatusFailed {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayKind, "kind", "page", "script kind: page or device")
	replayCmd.Flags().StringVar(&replayTarget, "target", "", "target context: base URL for page scripts, device serial for device scripts")
	rootCmd.AddCommand(replayCmd)
}
