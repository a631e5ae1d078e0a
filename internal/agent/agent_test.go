// File: internal/agent/agent_test.go
package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
	"github.com/klynelabs/uirunner/internal/coordinator"
	"github.com/klynelabs/uirunner/internal/executor"
	"github.com/klynelabs/uirunner/internal/interpreter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient scripts the coordinator side of the protocol.
type fakeClient struct {
	mu         sync.Mutex
	jobs       []*schemas.Job
	heartbeats []schemas.HeartbeatPayload
	claimErr   error
	pollErr    error
	reportErr  error
	reports    map[string][]schemas.ResultPayload
	polls      int
}

func newFakeClient(jobs ...*schemas.Job) *fakeClient {
	return &fakeClient{jobs: jobs, reports: make(map[string][]schemas.ResultPayload)}
}

func (c *fakeClient) Heartbeat(ctx context.Context, maxCapacity, activeJobs int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats = append(c.heartbeats, schemas.HeartbeatPayload{
		CurrentCapacity: maxCapacity - activeJobs,
		MaxCapacity:     maxCapacity,
		ActiveJobs:      activeJobs,
	})
	return nil
}

func (c *fakeClient) Poll(ctx context.Context) (*schemas.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.pollErr != nil {
		return nil, c.pollErr
	}
	if len(c.jobs) == 0 {
		return nil, nil
	}
	job := c.jobs[0]
	c.jobs = c.jobs[1:]
	return job, nil
}

func (c *fakeClient) Claim(ctx context.Context, job *schemas.Job) (*schemas.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return nil, c.claimErr
	}
	return job, nil
}

func (c *fakeClient) Report(ctx context.Context, jobID string, status schemas.JobStatus, report *schemas.ExecutionReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload := schemas.ResultPayload{Status: status}
	if report != nil {
		payload.ExecutionReport = *report
	}
	c.reports[jobID] = append(c.reports[jobID], payload)
	return c.reportErr
}

func (c *fakeClient) reportsFor(jobID string) []schemas.ResultPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.ResultPayload, len(c.reports[jobID]))
	copy(out, c.reports[jobID])
	return out
}

func (c *fakeClient) pollCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// stubProvider returns canned drivers. blockCh, when set, makes every page
// driver's first step block until the channel closes.
type stubProvider struct {
	mu         sync.Mutex
	pageErr    error
	deviceErr  error
	blockCh    chan struct{}
	pageOpens  int
	pageCloses int
}

func (p *stubProvider) AcquirePage(ctx context.Context, baseURL string) (schemas.PageDriver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pageErr != nil {
		return nil, p.pageErr
	}
	p.pageOpens++
	return &stubPageDriver{provider: p, blockCh: p.blockCh}, nil
}

func (p *stubProvider) AcquireDevice(ctx context.Context, deviceSelector string) (schemas.DeviceDriver, error) {
	if p.deviceErr != nil {
		return nil, p.deviceErr
	}
	return nil, errors.New("no device backend in this test")
}

func (p *stubProvider) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCloses
}

type stubPageDriver struct {
	provider *stubProvider
	blockCh  chan struct{}
}

func (d *stubPageDriver) wait(ctx context.Context) error {
	if d.blockCh == nil {
		return nil
	}
	select {
	case <-d.blockCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *stubPageDriver) Navigate(ctx context.Context, url string) error { return d.wait(ctx) }
func (d *stubPageDriver) Click(ctx context.Context, sel string) error    { return d.wait(ctx) }
func (d *stubPageDriver) Fill(ctx context.Context, sel, text string) error {
	return d.wait(ctx)
}
func (d *stubPageDriver) WaitVisible(ctx context.Context, sel string) error { return d.wait(ctx) }
func (d *stubPageDriver) Select(ctx context.Context, sel, value string) error {
	return d.wait(ctx)
}
func (d *stubPageDriver) Text(ctx context.Context, sel string) (string, error) {
	return "", d.wait(ctx)
}
func (d *stubPageDriver) Visible(ctx context.Context, sel string) (bool, error) {
	return true, d.wait(ctx)
}
func (d *stubPageDriver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return []byte{1}, d.wait(ctx)
}
func (d *stubPageDriver) Close(ctx context.Context) error {
	d.provider.mu.Lock()
	defer d.provider.mu.Unlock()
	d.provider.pageCloses++
	return nil
}

func testAgent(t *testing.T, client lifecycleClient, provider schemas.DriverProvider, capacity int) (*Agent, *executor.Executor) {
	t.Helper()
	exec, err := executor.New(capacity, zap.NewNop())
	require.NoError(t, err)
	interp := interpreter.New(config.InterpreterConfig{StepTimeout: time.Second}, zap.NewNop())
	a, err := New(config.AgentConfig{
		MaxCapacity:       capacity,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}, zap.NewNop(), client, exec, interp, provider)
	require.NoError(t, err)
	return a, exec
}

func pageJob(id string) *schemas.Job {
	return &schemas.Job{
		ID:            id,
		Kind:          schemas.JobKindPage,
		TargetContext: "https://example.com",
		Steps: []schemas.Step{
			{Type: schemas.StepNavigate, URL: "https://example.com"},
			{Type: schemas.StepClick, Locator: &schemas.Locator{Selector: "#go"}},
		},
	}
}

func runAgentUntil(t *testing.T, a *Agent, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("condition never reached")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(config.AgentConfig{}, zap.NewNop(), nil, nil, nil, nil)
	require.Error(t, err)
}

func TestAgent_ExecutesJobAndReportsOnce(t *testing.T) {
	client := newFakeClient(pageJob("job-1"))
	provider := &stubProvider{}
	a, _ := testAgent(t, client, provider, 2)

	runAgentUntil(t, a, func() bool { return len(client.reportsFor("job-1")) > 0 })

	reports := client.reportsFor("job-1")
	require.Len(t, reports, 1, "exactly one report per job")
	assert.Equal(t, schemas.JobStatusCompleted, reports[0].Status)
	assert.Equal(t, 2, reports[0].PassedSteps)
	assert.Equal(t, 1, provider.closes(), "driver released after the job")
}

func TestAgent_DriverAcquireFailureReportsImmediately(t *testing.T) {
	client := newFakeClient(pageJob("job-2"))
	provider := &stubProvider{pageErr: errors.New("browser did not start")}
	a, _ := testAgent(t, client, provider, 1)

	runAgentUntil(t, a, func() bool { return len(client.reportsFor("job-2")) > 0 })

	reports := client.reportsFor("job-2")
	require.Len(t, reports, 1)
	assert.Equal(t, schemas.JobStatusFailed, reports[0].Status)
	assert.Empty(t, reports[0].StepResults, "no step ran")
	assert.Contains(t, reports[0].ErrorMessage, "browser did not start")
}

func TestAgent_ReportFailureIsNotRetried(t *testing.T) {
	client := newFakeClient(pageJob("job-3"))
	client.reportErr = errors.New("coordinator down")
	provider := &stubProvider{}
	a, _ := testAgent(t, client, provider, 1)

	runAgentUntil(t, a, func() bool { return len(client.reportsFor("job-3")) > 0 })
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, client.reportsFor("job-3"), 1, "failed delivery must not be retried")
}

func TestAgent_RejectedClaimIsDropped(t *testing.T) {
	client := newFakeClient(pageJob("job-4"))
	client.claimErr = coordinator.ErrClaimRejected
	provider := &stubProvider{}
	a, _ := testAgent(t, client, provider, 1)

	runAgentUntil(t, a, func() bool { return client.pollCount() > 2 })

	assert.Empty(t, client.reportsFor("job-4"))
	assert.Equal(t, 0, provider.closes())
}

func TestAgent_HeartbeatAdvertisesCapacity(t *testing.T) {
	client := newFakeClient()
	a, _ := testAgent(t, client, &stubProvider{}, 3)

	runAgentUntil(t, a, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.heartbeats) >= 2
	})

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 3, client.heartbeats[0].MaxCapacity)
	assert.Equal(t, 3, client.heartbeats[0].CurrentCapacity)
}

func TestAgent_SaturationStopsPollingUntilSlotFrees(t *testing.T) {
	// Two blocking jobs saturate capacity 2; a third job must not be claimed
	// until one finishes.
	block := make(chan struct{})
	provider := &stubProvider{blockCh: block}
	client := newFakeClient(pageJob("job-a"), pageJob("job-b"), pageJob("job-c"))
	a, exec := testAgent(t, client, provider, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return exec.Active() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Saturated: further polls are skipped and job-c stays with the
	// coordinator.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, exec.Active())
	assert.Empty(t, client.reportsFor("job-c"))

	close(block)
	require.Eventually(t, func() bool {
		return len(client.reportsFor("job-a")) == 1 &&
			len(client.reportsFor("job-b")) == 1 &&
			len(client.reportsFor("job-c")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, exec.Active(), "capacity returns to zero")
}

func TestAgent_CancelStopsBetweenSteps(t *testing.T) {
	block := make(chan struct{})
	provider := &stubProvider{blockCh: block}
	client := newFakeClient(pageJob("job-x"))
	a, exec := testAgent(t, client, provider, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return exec.Active() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Flag the job while its first step is still blocking, then let it run.
	a.Cancel("job-x")
	close(block)

	require.Eventually(t, func() bool { return len(client.reportsFor("job-x")) == 1 }, 2*time.Second, 5*time.Millisecond)

	reports := client.reportsFor("job-x")
	assert.Equal(t, schemas.JobStatusFailed, reports[0].Status)
	assert.Equal(t, 1, reports[0].PassedSteps, "the in-flight step ran to completion")
	assert.Contains(t, reports[0].ErrorMessage, "cancelled before step 1")

	cancel()
	require.NoError(t, <-done)
}

// captureArchive records archived reports.
type captureArchive struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (c *captureArchive) SaveReport(ctx context.Context, jobID string, status schemas.JobStatus, report *schemas.ExecutionReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, jobID)
	return c.err
}

func TestAgent_ArchiveFailureDoesNotAffectReporting(t *testing.T) {
	client := newFakeClient(pageJob("job-z"))
	archive := &captureArchive{err: errors.New("disk full")}
	provider := &stubProvider{}

	exec, err := executor.New(1, zap.NewNop())
	require.NoError(t, err)
	interp := interpreter.New(config.InterpreterConfig{StepTimeout: time.Second}, zap.NewNop())
	a, err := New(config.AgentConfig{
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}, zap.NewNop(), client, exec, interp, provider, WithArchive(archive))
	require.NoError(t, err)

	runAgentUntil(t, a, func() bool { return len(client.reportsFor("job-z")) > 0 })

	archive.mu.Lock()
	defer archive.mu.Unlock()
	assert.Equal(t, []string{"job-z"}, archive.saved)
	assert.Equal(t, schemas.JobStatusCompleted, client.reportsFor("job-z")[0].Status)
}
