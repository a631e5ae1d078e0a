package schemas

// -- Job Schemas --

// JobKind selects the execution backend for a job.
type JobKind string

const (
	JobKindPage   JobKind = "page"
	JobKindDevice JobKind = "device"
)

// JobStatus tracks a job through its lifecycle. A job is claimed exactly once
// by one agent and ends in one of the terminal states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is one unit of work: an ordered step script plus the target context it
// runs against (a base URL for page jobs, a device selector for device jobs).
type Job struct {
	ID            string    `json:"id"`
	Kind          JobKind   `json:"kind"`
	TargetContext string    `json:"target_context"`
	Steps         []Step    `json:"steps"`
	Status        JobStatus `json:"status,omitempty"`
}

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	StepPassed StepStatus = "passed"
	StepFailed StepStatus = "failed"
)

// StepResult records the outcome of a single executed step. Execution stops
// at the first failure, so a script of N steps may produce fewer than N
// results.
type StepResult struct {
	StepIndex  int        `json:"step_index"`
	StepType   StepType   `json:"step_type"`
	Status     StepStatus `json:"status"`
	DurationMs int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
}

// ExecutionReport aggregates the outcome of one job. It is produced once per
// job and sent to the coordinator at most once.
type ExecutionReport struct {
	TotalSteps      int          `json:"total_steps"`
	PassedSteps     int          `json:"passed_steps"`
	FailedSteps     int          `json:"failed_steps"`
	StepResults     []StepResult `json:"step_results"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
}
