package core

// mesh_job.go – mesh job lifecycle state machine over a mutex-guarded
// queue: Pending→Bidding→Assigned→Executing→{Failed,Completed}.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// JobState is the mesh-job state machine.
type JobState int

const (
	JobPending JobState = iota
	JobBidding
	JobAssigned
	JobExecuting
	JobCompleted
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobBidding:
		return "bidding"
	case JobAssigned:
		return "assigned"
	case JobExecuting:
		return "executing"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	default:
		return "pending"
	}
}

// JobFailureReason names why a job ended Failed.
type JobFailureReason string

const (
	FailureNoBids JobFailureReason = "no_bids"
	FailureExecutorUnresponsive JobFailureReason = "executor_unresponsive"
	FailureExecutionError JobFailureReason = "execution_error"
)

// JobSpecKind is the closed set of job spec variants. New kinds may be
// added here; anything else is rejected at parse time rather than
// silently ignored.
type JobSpecKind string

const (
	JobSpecEcho JobSpecKind = "echo"
	JobSpecCclWasm JobSpecKind = "ccl_wasm"
)

// JobSpec is the tagged union `Spec`. Exactly one of Payload (for
// Echo) or ModuleCID/Entry/Args (for CclWasm) is meaningful, selected by
// Kind.
type JobSpec struct {
	Kind JobSpecKind
	Payload []byte // Echo
	ModuleCID CID // CclWasm
	Entry string // CclWasm
	Args []byte // CclWasm
}

// ParseJobSpec validates kind against the known variant list, rejecting
// anything else at parse time rather than silently ignoring it.
func ParseJobSpec(kind JobSpecKind, payload []byte, moduleCID CID, entry string, args []byte) (JobSpec, error) {
	switch kind {
	case JobSpecEcho, JobSpecCclWasm:
		return JobSpec{Kind: kind, Payload: payload, ModuleCID: moduleCID, Entry: entry, Args: args}, nil
	default:
		return JobSpec{}, fmt.Errorf("%w: %q", ErrUnknownJobSpec, kind)
	}
}

// Job is `{id, manifest_cid, spec, creator_did, cost_mana, max_wait_ms,
// signature}`.
type Job struct {
	ID CID
	ManifestCID CID
	Spec JobSpec
	CreatorDID DID
	CostMana uint64
	MaxWaitMs uint64
	Signature []byte
	State JobState
	Assignee DID
	Retries int
	FailureReason JobFailureReason
	SubmittedAt time.Time
}

// Bid is `{job_id, executor_did, price_mana, eta_ms, resources,
// signature}`.
type Bid struct {
	JobID CID
	ExecutorDID DID
	PriceMana uint64
	EtaMs uint64
	Resources HardwareMetrics
	Signature []byte
}

// ExecutionReceipt is `{job_id, executor_did, result_cid, cpu_ms, success,
// timestamp, signature}`.
type ExecutionReceipt struct {
	JobID CID
	ExecutorDID DID
	ResultCID CID
	CPUMs uint64
	Success bool
	Timestamp time.Time
	Signature []byte
}

// MeshRuntimeConfig carries the tunables.
type MeshRuntimeConfig struct {
	MaxRetries int
}

// MeshRuntime is the job queue: a sync.Mutex around a FIFO slice.
// Per-job state transitions are performed while holding the lock;
// execution itself runs off-lock.
type MeshRuntime struct {
	mu sync.Mutex
	queue []*Job
	jobs map[string]*Job
	mana *ManaLedger
	cfg MeshRuntimeConfig
	logger Logger
}

// NewMeshRuntime wires a MeshRuntime over the given mana ledger.
func NewMeshRuntime(cfg MeshRuntimeConfig, mana *ManaLedger, logger Logger) *MeshRuntime {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &MeshRuntime{jobs: make(map[string]*Job), mana: mana, cfg: cfg, logger: logger}
}

// jobJSON is the deserialization target for host_submit_mesh_job's job
// JSON payload.
type jobJSON struct {
	ManifestCID string `json:"manifest_cid"`
	SpecKind JobSpecKind `json:"spec_kind"`
	Payload []byte `json:"payload,omitempty"`
	ModuleCID string `json:"module_cid,omitempty"`
	Entry string `json:"entry,omitempty"`
	Args []byte `json:"args,omitempty"`
	CostMana uint64 `json:"cost_mana"`
	MaxWaitMs uint64 `json:"max_wait_ms"`
}

// SubmitJob implements host_submit_mesh_job: deserialize,
// recompute and assign a fresh CID-derived id, set creator, spend
// cost_mana, push to the pending queue. A pre-queue validation failure
// does not spend mana; spending happens only once the job is well-formed.
func (r *MeshRuntime) SubmitJob(ctx context.Context, creator DID, payload []byte) (*Job, error) {
	var raw jobJSON
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}

	var manifestCID CID
	if raw.ManifestCID != "" {
		c, err := ComputeCID([]byte(raw.ManifestCID), CodecRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: manifest cid: %v", ErrInvalidParameters, err)
		}
		manifestCID = c
	}

	var moduleCID CID
	if raw.ModuleCID != "" {
		c, err := ComputeCID([]byte(raw.ModuleCID), CodecCclModule)
		if err != nil {
			return nil, fmt.Errorf("%w: module cid: %v", ErrInvalidParameters, err)
		}
		moduleCID = c
	}

	spec, err := ParseJobSpec(raw.SpecKind, raw.Payload, moduleCID, raw.Entry, raw.Args)
	if err != nil {
		return nil, err
	}

	id, err := ComputeCID(payload, CodecRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	// Spend only after the job is known well-formed; a pre-queue validation
	// failure above never charges mana.
	if err := r.mana.Spend(creator, raw.CostMana); err != nil {
		return nil, err
	}

	job := &Job{
		ID: id,
		ManifestCID: manifestCID,
		Spec: spec,
		CreatorDID: creator,
		CostMana: raw.CostMana,
		MaxWaitMs: raw.MaxWaitMs,
		State: JobPending,
		SubmittedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id.String()] = job
	r.queue = append(r.queue, job)
	return job, nil
}

// Announce transitions a Pending job to Bidding, the point at which it is
// broadcast over gossip to candidate executors (the broadcast itself is
// the embedding layer's responsibility via GossipNode.EmitOperation).
func (r *MeshRuntime) Announce(id CID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.mustGet(id)
	if err != nil {
		return err
	}
	if job.State != JobPending {
		return fmt.Errorf("%w: job %s not pending", ErrInvalidState, id)
	}
	job.State = JobBidding
	return nil
}

// refund credits cost_mana back to the creator. Must be called
// without r.mu held, since Credit acquires the mana ledger's own lock and
// mana → governance → DAG store → gossip is the required lock order;
// mesh runtime sits alongside governance in that ordering and must never
// hold its own lock while calling into mana.
func (r *MeshRuntime) refund(job *Job) {
	if err := r.mana.Credit(job.CreatorDID, job.CostMana); err != nil {
		r.logger.Errorf("refund failed for job %s: %v", job.ID, err)
	}
}

// FailNoBids transitions a Bidding job to Failed(NoBids) and refunds the
// cost.
func (r *MeshRuntime) FailNoBids(id CID) error {
	r.mu.Lock()
	job, err := r.mustGet(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if job.State != JobBidding {
		r.mu.Unlock()
		return fmt.Errorf("%w: job %s not in bidding", ErrInvalidState, id)
	}
	job.State = JobFailed
	job.FailureReason = FailureNoBids
	r.mu.Unlock()

	r.refund(job)
	return nil
}

// Assign transitions a Bidding job to Assigned with the given executor.
func (r *MeshRuntime) Assign(id CID, executor DID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.mustGet(id)
	if err != nil {
		return err
	}
	if job.State != JobBidding {
		return fmt.Errorf("%w: job %s not in bidding", ErrInvalidState, id)
	}
	job.State = JobAssigned
	job.Assignee = executor
	return nil
}

// StartExecution transitions Assigned → Executing.
func (r *MeshRuntime) StartExecution(id CID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.mustGet(id)
	if err != nil {
		return err
	}
	if job.State != JobAssigned {
		return fmt.Errorf("%w: job %s not assigned", ErrInvalidState, id)
	}
	job.State = JobExecuting
	return nil
}

// Complete transitions Executing → Completed.
func (r *MeshRuntime) Complete(id CID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.mustGet(id)
	if err != nil {
		return err
	}
	if job.State != JobExecuting {
		return fmt.Errorf("%w: job %s not executing", ErrInvalidState, id)
	}
	job.State = JobCompleted
	return nil
}

// RetryOrFail is called when an assigned/executing executor times out
// without producing a receipt. It transitions the job back to Pending up
// to MaxRetries times, after which it Fails(ExecutorUnresponsive) with a
// full refund.
func (r *MeshRuntime) RetryOrFail(id CID) error {
	r.mu.Lock()
	job, err := r.mustGet(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if job.Retries < r.cfg.MaxRetries {
		job.Retries++
		job.State = JobPending
		job.Assignee = DID{}
		r.mu.Unlock()
		return nil
	}
	job.State = JobFailed
	job.FailureReason = FailureExecutorUnresponsive
	r.mu.Unlock()

	r.refund(job)
	return nil
}

// PendingJobs returns every job currently Pending, implementing
// get_pending_mesh_jobs.
func (r *MeshRuntime) PendingJobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if j.State == JobPending {
			out = append(out, *j)
		}
	}
	return out
}

// Get returns a copy of the job's current state.
func (r *MeshRuntime) Get(id CID) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.mustGet(id)
	if err != nil {
		return Job{}, err
	}
	return *j, nil
}

// mustGet must be called with r.mu held.
func (r *MeshRuntime) mustGet(id CID) (*Job, error) {
	j, ok := r.jobs[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return j, nil
}
