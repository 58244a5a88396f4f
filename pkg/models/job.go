package models

import "time"

// JobType classifies what a job does and how its output is routed.
type JobType string

const (
	// JobTypeTask is ordinary agent work. Its output goes to QA review.
	JobTypeTask JobType = "task"
	// JobTypeReview is a QA review of its parent job.
	JobTypeReview JobType = "review"
	// JobTypeDecomposition turns its output into sibling jobs.
	JobTypeDecomposition JobType = "decomposition"
	// JobTypeIntegration is the fan-in job created once all siblings finish.
	JobTypeIntegration JobType = "integration"
)

// Valid returns true if the job type is a known value.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeTask, JobTypeReview, JobTypeDecomposition, JobTypeIntegration:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobStatusQueued indicates the job is waiting to be claimed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates exactly one runner has claimed the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusReviewing indicates the job succeeded and awaits QA review.
	JobStatusReviewing JobStatus = "reviewing"
	// JobStatusDone indicates the job completed.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed indicates the engine reported failure.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRejected indicates QA review did not pass.
	JobStatusRejected JobStatus = "rejected"
	// JobStatusPausedHuman indicates the engine asked for a human.
	JobStatusPausedHuman JobStatus = "paused_human"
)

// Valid returns true if the status is a known value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusReviewing, JobStatusDone,
		JobStatusFailed, JobStatusRejected, JobStatusPausedHuman:
		return true
	default:
		return false
	}
}

// Terminal returns true if no runner will touch the job again without
// a human requeue or approval.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusRejected, JobStatusPausedHuman:
		return true
	default:
		return false
	}
}

// jobTransitions lists the allowed status moves. queued -> running is
// absent on purpose: only the claim protocol performs it.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusRunning:     {JobStatusDone, JobStatusFailed, JobStatusPausedHuman, JobStatusReviewing},
	JobStatusReviewing:   {JobStatusDone, JobStatusRejected},
	JobStatusFailed:      {JobStatusQueued, JobStatusDone},
	JobStatusRejected:    {JobStatusQueued, JobStatusDone},
	JobStatusPausedHuman: {JobStatusQueued, JobStatusDone},
}

// CanTransition reports whether a job may move from one status to another
// outside of the claim protocol.
func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Priority bounds. Lower is more urgent.
const (
	PriorityMin     = 1
	PriorityMax     = 10
	PriorityDefault = 5
)

// ClampPriority bounds p to [PriorityMin, PriorityMax]. Zero means unset
// and maps to PriorityDefault.
func ClampPriority(p int) int {
	switch {
	case p == 0:
		return PriorityDefault
	case p < PriorityMin:
		return PriorityMin
	case p > PriorityMax:
		return PriorityMax
	default:
		return p
	}
}

// Job is the unit of schedulable work.
type Job struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// Title is the short description of the job.
	Title string `json:"title"`
	// Type classifies the job for post-execution routing.
	Type JobType `json:"job_type"`
	// Engine names the external engine that executes the job.
	Engine string `json:"engine"`
	// Source records who created the job (human, agent name, scheduler).
	Source string `json:"source,omitempty"`
	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`
	// Priority orders claims; lower is claimed first.
	Priority int `json:"priority"`
	// ParentJobID links review, decomposition and integration jobs to
	// the unit of work they belong to. Siblings share it.
	ParentJobID string `json:"parent_job_id,omitempty"`
	// AgentID is the owning agent, empty until routed.
	AgentID string `json:"agent_id,omitempty"`
	// ProjectID links the job to a project specification.
	ProjectID string `json:"project_id,omitempty"`
	// BoardID is set on challenger jobs dispatched by a challenge board.
	BoardID string `json:"board_id,omitempty"`
	// PromptText is the job's instructions.
	PromptText string `json:"prompt_text,omitempty"`
	// Command is an explicit command for shell-style engines.
	Command string `json:"command,omitempty"`
	// Tools lists job-level tool grants.
	Tools []string `json:"tools,omitempty"`
	// Result is the engine's reported result text.
	Result string `json:"result,omitempty"`
	// LastRunJSON is the raw structured output of the last run.
	LastRunJSON string `json:"last_run_json,omitempty"`
	// LastError is the error text of the last failed run.
	LastError string `json:"last_error,omitempty"`
	// QualityScore is the QA total written by the scorer.
	QualityScore *int `json:"quality_score,omitempty"`
	// ReviewNotes is the reviewer's feedback, fed into the next attempt.
	ReviewNotes string `json:"review_notes,omitempty"`
	// RetryCount is the number of human requeues.
	RetryCount int `json:"retry_count"`
	// EvidenceHash is the sha256 of the execution log of a successful run.
	EvidenceHash string `json:"evidence_hash,omitempty"`
	// CreatedAt is when the job was enqueued.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the current running period began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Notification is a human-facing alert raised on terminal states.
type Notification struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id,omitempty"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Project carries the structured specification injected into prompts.
type Project struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	Overview           string   `json:"overview,omitempty" yaml:"overview"`
	Milestones         []string `json:"milestones,omitempty" yaml:"milestones"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria"`
	Constraints        []string `json:"constraints,omitempty" yaml:"constraints"`
}
