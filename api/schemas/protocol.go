package schemas

// -- Coordinator Protocol Payloads --
//
// All requests carry a static bearer credential. The coordinator owns job
// re-offer and stale-job reclamation; the agent never retries a claim or a
// result delivery.

// HeartbeatPayload is posted to /heartbeat on a fixed cadence, independent of
// the poll cadence.
type HeartbeatPayload struct {
	CurrentCapacity int      `json:"current_capacity"`
	MaxCapacity     int      `json:"max_capacity"`
	ActiveJobs      int      `json:"active_jobs"`
	HostInfo        HostInfo `json:"host_info"`
}

// HostInfo identifies the operator machine running the agent.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	AgentVersion string `json:"agent_version"`
}

// ResultPayload is posted to /jobs/{id}/result exactly once per job.
type ResultPayload struct {
	Status JobStatus `json:"status"`
	ExecutionReport
}
