// File: internal/interpreter/interpreter.go

// Package interpreter executes an ordered step script against a capability
// driver, producing one StepResult per executed step. The first failing step
// stops the script; whatever completed before it is still reported.
package interpreter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
	"github.com/klynelabs/uirunner/internal/locator"
)

// CancelCheck reports whether the job has been cancelled. It is consulted
// between steps only; a step already in flight always runs to completion.
type CancelCheck func() bool

// Hooks receives step progress notifications during a run. Used by the
// recording bridge to stream replay events; nil disables notification. Both
// callbacks fire on the interpreter's goroutine, before the next step starts.
type Hooks struct {
	OnStepStarted   func(index int, step schemas.Step)
	OnStepCompleted func(result schemas.StepResult)
}

// stepRunner executes one step against a concrete backend. handled is false
// for step types the backend does not recognize, which the interpreter treats
// as a warned no-op to stay forward-compatible with newer scripts.
type stepRunner interface {
	runStep(ctx context.Context, step schemas.Step) (handled bool, err error)
}

// Interpreter drives step scripts. It is stateless across jobs and safe to
// share between concurrently executing jobs.
type Interpreter struct {
	cfg      config.InterpreterConfig
	logger   *zap.Logger
	resolver *locator.Resolver
}

// New creates an interpreter.
func New(cfg config.InterpreterConfig, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "interpreter")),
		resolver: locator.NewResolver(logger),
	}
}

// Resolver exposes the locator resolver for callers that derive locator
// bundles outside a script run, such as recording enrichment.
func (i *Interpreter) Resolver() *locator.Resolver {
	return i.resolver
}

// RunPage executes a script against a browser page driver.
func (i *Interpreter) RunPage(ctx context.Context, steps []schemas.Step, driver schemas.PageDriver, cancelled CancelCheck, hooks *Hooks) *schemas.ExecutionReport {
	return i.run(ctx, steps, &pageRunner{driver: driver, cfg: i.cfg}, cancelled, hooks)
}

// RunDevice executes a script against a mobile device driver.
func (i *Interpreter) RunDevice(ctx context.Context, steps []schemas.Step, driver schemas.DeviceDriver, cancelled CancelCheck, hooks *Hooks) *schemas.ExecutionReport {
	return i.run(ctx, steps, &deviceRunner{driver: driver, resolver: i.resolver, logger: i.logger}, cancelled, hooks)
}

// run is the shared execution loop. Steps run strictly in script order; step
// N+1 never starts before step N's result is recorded.
func (i *Interpreter) run(ctx context.Context, steps []schemas.Step, runner stepRunner, cancelled CancelCheck, hooks *Hooks) *schemas.ExecutionReport {
	report := &schemas.ExecutionReport{
		TotalSteps:  len(steps),
		StepResults: make([]schemas.StepResult, 0, len(steps)),
	}
	start := time.Now()

	for idx, step := range steps {
		if cancelled != nil && cancelled() {
			i.logger.Info("Cancellation observed between steps, stopping script",
				zap.Int("next_step", idx))
			report.ErrorMessage = fmt.Sprintf("cancelled before step %d", idx)
			break
		}

		if hooks != nil && hooks.OnStepStarted != nil {
			hooks.OnStepStarted(idx, step)
		}
		result := i.executeStep(ctx, idx, step, runner)
		report.StepResults = append(report.StepResults, result)
		if hooks != nil && hooks.OnStepCompleted != nil {
			hooks.OnStepCompleted(result)
		}

		if result.Status == schemas.StepFailed {
			report.FailedSteps++
			report.ErrorMessage = result.Error
			break
		}
		report.PassedSteps++
	}

	report.ExecutionTimeMs = time.Since(start).Milliseconds()
	return report
}

// executeStep runs one step inside its own timeout and panic boundary. Any
// error or panic from the capability driver becomes a failed StepResult; the
// interpreter never propagates step-level failures upward.
func (i *Interpreter) executeStep(ctx context.Context, idx int, step schemas.Step, runner stepRunner) (result schemas.StepResult) {
	result = schemas.StepResult{StepIndex: idx, StepType: step.Type, Status: schemas.StepPassed}
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result.Status = schemas.StepFailed
			result.Error = fmt.Sprintf("step panicked: %v", rec)
		}
		// Wall clock is measured per step so a pathological single-step hang
		// stays attributable.
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	stepCtx := ctx
	if i.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, i.cfg.StepTimeout)
		defer cancel()
	}

	handled, err := runner.runStep(stepCtx, step)
	if !handled {
		// Forward compatibility: a newer script may carry step kinds this
		// agent does not know. Warn and keep going.
		i.logger.Warn("Unrecognized step type, skipping",
			zap.Int("step_index", idx),
			zap.String("step_type", string(step.Type)))
		return result
	}
	if err != nil {
		result.Status = schemas.StepFailed
		result.Error = err.Error()
		i.logger.Debug("Step failed",
			zap.Int("step_index", idx),
			zap.String("step_type", string(step.Type)),
			zap.Error(err))
	}
	return result
}

// StatusFor derives the terminal job status from a finished report.
func StatusFor(report *schemas.ExecutionReport) schemas.JobStatus {
	if report.FailedSteps > 0 || report.ErrorMessage != "" {
		return schemas.JobStatusFailed
	}
	return schemas.JobStatusCompleted
}
