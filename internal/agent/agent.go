// File: internal/agent/agent.go

// Package agent runs the execution node's main loops: a heartbeat cadence
// that advertises capacity to the coordinator and a poll cadence that pulls,
// claims and executes jobs inside the capacity-bounded executor.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
	"github.com/klynelabs/uirunner/internal/coordinator"
	"github.com/klynelabs/uirunner/internal/executor"
	"github.com/klynelabs/uirunner/internal/interpreter"
)

// lifecycleClient is the slice of the coordinator client the agent uses.
type lifecycleClient interface {
	Heartbeat(ctx context.Context, maxCapacity, activeJobs int) error
	Poll(ctx context.Context) (*schemas.Job, error)
	Claim(ctx context.Context, job *schemas.Job) (*schemas.Job, error)
	Report(ctx context.Context, jobID string, status schemas.JobStatus, report *schemas.ExecutionReport) error
}

// reportArchiver persists finished reports locally. Archival is best-effort
// and never affects the job outcome.
type reportArchiver interface {
	SaveReport(ctx context.Context, jobID string, status schemas.JobStatus, report *schemas.ExecutionReport) error
}

// Agent owns the run loops and the per-job execution path.
type Agent struct {
	cfg     config.AgentConfig
	logger  *zap.Logger
	client  lifecycleClient
	exec    *executor.Executor
	interp  *interpreter.Interpreter
	drivers schemas.DriverProvider
	archive reportArchiver

	mu        sync.Mutex
	cancelled map[string]bool
}

// Option configures optional agent collaborators.
type Option func(*Agent)

// WithArchive attaches a local report archive.
func WithArchive(a reportArchiver) Option {
	return func(ag *Agent) { ag.archive = a }
}

// New wires an agent from its collaborators.
func New(
	cfg config.AgentConfig,
	logger *zap.Logger,
	client lifecycleClient,
	exec *executor.Executor,
	interp *interpreter.Interpreter,
	drivers schemas.DriverProvider,
	opts ...Option,
) (*Agent, error) {
	if client == nil || exec == nil || interp == nil || drivers == nil {
		return nil, errors.New("agent requires a client, executor, interpreter and driver provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "agent")),
		client:    client,
		exec:      exec,
		interp:    interp,
		drivers:   drivers,
		cancelled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run blocks until ctx is done, driving the heartbeat and poll loops. On
// shutdown it waits for in-flight jobs to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Agent starting",
		zap.Int("max_capacity", a.exec.Capacity()),
		zap.Duration("poll_interval", a.cfg.PollInterval),
		zap.Duration("heartbeat_interval", a.cfg.HeartbeatInterval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.heartbeatLoop(gctx) })
	g.Go(func() error { return a.pollLoop(gctx) })
	err := g.Wait()

	a.logger.Info("Agent stopping, waiting for in-flight jobs",
		zap.Int("active_jobs", a.exec.Active()))
	a.exec.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// heartbeatLoop advertises capacity on a fixed cadence. Delivery failures
// are logged and swallowed; the coordinator treats a silent agent as
// unavailable on its own schedule.
func (a *Agent) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	a.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.beat(ctx)
		}
	}
}

func (a *Agent) beat(ctx context.Context) {
	if err := a.client.Heartbeat(ctx, a.exec.Capacity(), a.exec.Active()); err != nil && ctx.Err() == nil {
		a.logger.Warn("Heartbeat delivery failed", zap.Error(err))
	}
}

// pollLoop asks for work whenever a slot is free. A full executor skips the
// poll entirely so the coordinator never offers a job this agent would have
// to refuse.
func (a *Agent) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *Agent) pollOnce(ctx context.Context) {
	if !a.exec.HasCapacity() {
		a.logger.Debug("At capacity, skipping poll")
		return
	}

	job, err := a.client.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("Poll failed", zap.Error(err))
		}
		return
	}
	if job == nil {
		return
	}

	claimed, err := a.client.Claim(ctx, job)
	if err != nil {
		if errors.Is(err, coordinator.ErrClaimRejected) {
			a.logger.Info("Job claimed by another agent", zap.String("job_id", job.ID))
		} else if ctx.Err() == nil {
			a.logger.Warn("Claim failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	a.clearCancel(claimed.ID)
	if err := a.exec.Launch(ctx, claimed.ID, func(jobCtx context.Context) {
		a.executeJob(jobCtx, claimed)
	}); err != nil {
		// The slot disappeared between the capacity check and the launch.
		// The claim is abandoned; the coordinator re-offers after its
		// staleness timeout.
		a.logger.Warn("Launch refused after claim", zap.String("job_id", claimed.ID), zap.Error(err))
	}
}

// Cancel flags a running job so the interpreter stops before its next step.
// Cancellation is cooperative; the in-flight step finishes first.
func (a *Agent) Cancel(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled[jobID] = true
}

func (a *Agent) isCancelled(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled[jobID]
}

func (a *Agent) clearCancel(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cancelled, jobID)
}

// executeJob runs one claimed job end to end: acquire a driver, interpret
// the script, release the driver, report exactly once.
func (a *Agent) executeJob(ctx context.Context, job *schemas.Job) {
	logger := a.logger.With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	logger.Info("Job started", zap.Int("steps", len(job.Steps)))

	status, report := a.runJob(ctx, job, logger)

	if a.archive != nil {
		if err := a.archive.SaveReport(ctx, job.ID, status, report); err != nil {
			logger.Warn("Failed to archive report locally", zap.Error(err))
		}
	}

	// Exactly one report per job. Delivery failure is terminal for this job;
	// the coordinator reconciles stale jobs on its own timeout.
	if err := a.client.Report(ctx, job.ID, status, report); err != nil {
		logger.Error("Failed to deliver execution report", zap.Error(err))
	}

	a.clearCancel(job.ID)
	logger.Info("Job finished",
		zap.String("status", string(status)),
		zap.Int("passed", report.PassedSteps),
		zap.Int("failed", report.FailedSteps))
}

func (a *Agent) runJob(ctx context.Context, job *schemas.Job, logger *zap.Logger) (schemas.JobStatus, *schemas.ExecutionReport) {
	cancelled := func() bool { return a.isCancelled(job.ID) }

	switch job.Kind {
	case schemas.JobKindPage:
		driver, err := a.drivers.AcquirePage(ctx, job.TargetContext)
		if err != nil {
			logger.Error("Failed to acquire page driver", zap.Error(err))
			return schemas.JobStatusFailed, environmentFailure(job, err)
		}
		defer func() {
			if cerr := driver.Close(ctx); cerr != nil {
				logger.Debug("Driver close reported error", zap.Error(cerr))
			}
		}()
		report := a.interp.RunPage(ctx, job.Steps, driver, cancelled, nil)
		return interpreter.StatusFor(report), report

	case schemas.JobKindDevice:
		driver, err := a.drivers.AcquireDevice(ctx, job.TargetContext)
		if err != nil {
			logger.Error("Failed to acquire device driver", zap.Error(err))
			return schemas.JobStatusFailed, environmentFailure(job, err)
		}
		defer func() {
			if cerr := driver.Close(ctx); cerr != nil {
				logger.Debug("Driver close reported error", zap.Error(cerr))
			}
		}()
		report := a.interp.RunDevice(ctx, job.Steps, driver, cancelled, nil)
		return interpreter.StatusFor(report), report

	default:
		logger.Error("Unknown job kind", zap.String("kind", string(job.Kind)))
		return schemas.JobStatusFailed, environmentFailure(job, errors.New("unknown job kind "+string(job.Kind)))
	}
}

// environmentFailure builds the report for a job that failed before any step
// could run: zero step results, total step count preserved.
func environmentFailure(job *schemas.Job, err error) *schemas.ExecutionReport {
	return &schemas.ExecutionReport{
		TotalSteps:   len(job.Steps),
		StepResults:  []schemas.StepResult{},
		ErrorMessage: err.Error(),
	}
}
