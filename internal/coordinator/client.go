// File: internal/coordinator/client.go

// Package coordinator implements the agent side of the job-lifecycle
// protocol: heartbeat, poll, claim and report against the remote coordinator.
// All calls carry a static bearer credential. The client owns no retry
// machinery; transient failures surface as errors that the caller logs and
// absorbs, and the next cadence tick retries naturally.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is stamped at build time.
var Version = "dev"

// ErrClaimRejected is returned when the coordinator refuses a claim, which
// normally means another agent won the job. The job is dropped for this
// cycle; re-offering is the coordinator's responsibility.
var ErrClaimRejected = errors.New("claim rejected by coordinator")

// Client talks to one coordinator endpoint.
type Client struct {
	cfg        config.CoordinatorConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	hostInfo   schemas.HostInfo
}

// NewClient creates a lifecycle client.
func NewClient(cfg config.CoordinatorConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("coordinator base URL is required")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	hostname, _ := os.Hostname()

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger.With(zap.String("component", "coordinator_client")),
		hostInfo: schemas.HostInfo{
			Hostname:     hostname,
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			AgentVersion: Version,
		},
	}, nil
}

// Heartbeat reports current capacity. Callers log and swallow errors; a
// missed heartbeat must never stop the poll loop.
func (c *Client) Heartbeat(ctx context.Context, maxCapacity, activeJobs int) error {
	payload := schemas.HeartbeatPayload{
		CurrentCapacity: maxCapacity - activeJobs,
		MaxCapacity:     maxCapacity,
		ActiveJobs:      activeJobs,
		HostInfo:        c.hostInfo,
	}
	return c.do(ctx, http.MethodPost, "/heartbeat", payload, nil)
}

// Poll asks for at most one pending job. A nil job with a nil error means
// nothing is pending. Even when more jobs are available, the coordinator
// returns one per call so claim latency stays low and no agent hoards work.
func (c *Client) Poll(ctx context.Context) (*schemas.Job, error) {
	var job schemas.Job
	found, err := c.doOptional(ctx, http.MethodGet, "/jobs/poll", nil, &job)
	if err != nil {
		return nil, err
	}
	if !found || job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// Claim marks the job as started from the coordinator's perspective and
// merges any execution parameters it returns into the descriptor. A rejected
// claim drops the job for this cycle.
func (c *Client) Claim(ctx context.Context, job *schemas.Job) (*schemas.Job, error) {
	var merged schemas.Job
	found, err := c.doOptional(ctx, http.MethodPost, "/jobs/"+job.ID+"/start", nil, &merged)
	if err != nil {
		return nil, err
	}
	if !found || merged.ID == "" {
		// No body: the original descriptor is already complete.
		return job, nil
	}
	if len(merged.Steps) == 0 {
		merged.Steps = job.Steps
	}
	if merged.TargetContext == "" {
		merged.TargetContext = job.TargetContext
	}
	if merged.Kind == "" {
		merged.Kind = job.Kind
	}
	return &merged, nil
}

// Report delivers the final execution report. It is called exactly once per
// job and never retried; the coordinator times out stale jobs on its own.
func (c *Client) Report(ctx context.Context, jobID string, status schemas.JobStatus, report *schemas.ExecutionReport) error {
	payload := schemas.ResultPayload{Status: status}
	if report != nil {
		payload.ExecutionReport = *report
	}
	return c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/result", payload, nil)
}

// do issues one authenticated request and decodes the response into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.request(ctx, method, path, body, out, false)
	return err
}

// doOptional is do for endpoints where an empty response (204 or empty body)
// is a legitimate "nothing for you" answer. found is false in that case.
func (c *Client) doOptional(ctx context.Context, method, path string, body, out any) (bool, error) {
	return c.request(ctx, method, path, body, out, true)
}

func (c *Client) request(ctx context.Context, method, path string, body, out any, emptyOK bool) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict && strings.Contains(path, "/start") {
		return false, fmt.Errorf("%w: job already claimed", ErrClaimRejected)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusNoContent {
		if emptyOK {
			return false, nil
		}
		return false, fmt.Errorf("%s %s: unexpected empty response", method, path)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if emptyOK {
			return false, nil
		}
		return false, fmt.Errorf("%s %s: unexpected empty response", method, path)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
