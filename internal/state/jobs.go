package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

const jobColumns = `id, title, job_type, engine, source, status, priority,
	parent_job_id, agent_id, project_id, board_id, prompt_text, command, tools,
	result, last_run_json, last_error, quality_score, review_notes, retry_count,
	evidence_hash, created_at, started_at, completed_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*models.Job, error) {
	var (
		j                      models.Job
		jobType, status, tools string
		createdAt              string
		parentID, agentID      sql.NullString
		projectID, boardID     sql.NullString
		startedAt, completedAt sql.NullString
		qualityScore           sql.NullInt64
	)
	err := s.Scan(&j.ID, &j.Title, &jobType, &j.Engine, &j.Source, &status, &j.Priority,
		&parentID, &agentID, &projectID, &boardID, &j.PromptText, &j.Command, &tools,
		&j.Result, &j.LastRunJSON, &j.LastError, &qualityScore, &j.ReviewNotes, &j.RetryCount,
		&j.EvidenceHash, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	j.ParentJobID = parentID.String
	j.AgentID = agentID.String
	j.ProjectID = projectID.String
	j.BoardID = boardID.String
	if qualityScore.Valid {
		q := int(qualityScore.Int64)
		j.QualityScore = &q
	}
	if tools != "" {
		if err := json.Unmarshal([]byte(tools), &j.Tools); err != nil {
			return nil, fmt.Errorf("unmarshal tools: %w", err)
		}
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	j.StartedAt = parseNullableTime(startedAt)
	j.CompletedAt = parseNullableTime(completedAt)
	return &j, nil
}

// prepareJob fills defaults on a job about to be inserted.
func prepareJob(j *models.Job) error {
	if strings.TrimSpace(j.Title) == "" {
		return errors.New("job title is required")
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Type == "" {
		j.Type = models.JobTypeTask
	}
	if !j.Type.Valid() {
		return fmt.Errorf("invalid job type %q", j.Type)
	}
	if j.Status == "" {
		j.Status = models.JobStatusQueued
	}
	if j.Engine == "" {
		j.Engine = models.EngineClaude
	}
	j.Priority = models.ClampPriority(j.Priority)
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now()
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertJob(e execer, j *models.Job, onConflictIgnore bool) (sql.Result, error) {
	tools := []byte("[]")
	if len(j.Tools) > 0 {
		var err error
		if tools, err = json.Marshal(j.Tools); err != nil {
			return nil, fmt.Errorf("marshal tools: %w", err)
		}
	}
	suffix := ""
	if onConflictIgnore {
		suffix = " ON CONFLICT DO NOTHING"
	}
	return e.Exec(`
		INSERT INTO jobs (id, title, job_type, engine, source, status, priority,
			parent_job_id, agent_id, project_id, board_id, prompt_text, command, tools,
			review_notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+suffix,
		j.ID, j.Title, string(j.Type), j.Engine, j.Source, string(j.Status), j.Priority,
		nullString(j.ParentJobID), nullString(j.AgentID), nullString(j.ProjectID), nullString(j.BoardID),
		j.PromptText, j.Command, string(tools), j.ReviewNotes, formatTime(j.CreatedAt),
	)
}

// CreateJob inserts a new job. Missing ID, type, status, engine and
// priority are defaulted.
func (db *DB) CreateJob(j *models.Job) error {
	if err := prepareJob(j); err != nil {
		return err
	}
	if _, err := insertJob(db.conn, j, false); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// CreateIntegrationOnce inserts an integration job for parentID unless
// one already exists. It reports whether a row was created. The unique
// partial index on jobs(parent_job_id) makes this safe under concurrent
// fan-in checks.
func (db *DB) CreateIntegrationOnce(j *models.Job) (bool, error) {
	if j.ParentJobID == "" {
		return false, errors.New("integration job requires a parent")
	}
	j.Type = models.JobTypeIntegration
	if err := prepareJob(j); err != nil {
		return false, err
	}
	res, err := insertJob(db.conn, j, true)
	if err != nil {
		return false, fmt.Errorf("create integration job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// GetJob retrieves a job by ID. Returns nil, nil if not found.
func (db *DB) GetJob(id string) (*models.Job, error) {
	row := db.conn.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// JobFilter narrows ListJobs. Zero fields are ignored.
type JobFilter struct {
	Status   models.JobStatus
	Type     models.JobType
	ParentID string
	AgentID  string
	BoardID  string
	Limit    int
}

// ListJobs returns jobs matching the filter in claim order.
func (db *DB) ListJobs(f JobFilter) ([]models.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "job_type = ?")
		args = append(args, string(f.Type))
	}
	if f.ParentID != "" {
		where = append(where, "parent_job_id = ?")
		args = append(args, f.ParentID)
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.BoardID != "" {
		where = append(where, "board_id = ?")
		args = append(args, f.BoardID)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC, rowid ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ListChildren returns every job whose parent_job_id is parentID.
func (db *DB) ListChildren(parentID string) ([]models.Job, error) {
	return db.ListJobs(JobFilter{ParentID: parentID})
}

// ClaimJob atomically moves a queued job to running. Exactly one caller
// wins; every other caller gets ErrClaimConflict.
func (db *DB) ClaimJob(id string) (*models.Job, error) {
	startedAt := formatTime(now())
	res, err := db.conn.Exec(`
		UPDATE jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobStatusRunning), startedAt, id, string(models.JobStatusQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrClaimConflict
	}
	j, err := db.GetJob(id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrNotFound
	}
	return j, nil
}

// ClaimNext claims the most urgent, oldest queued job. If another caller
// claims the selected job first it returns ErrClaimConflict rather than
// moving on to a different job.
func (db *DB) ClaimNext() (*models.Job, error) {
	var id string
	err := db.conn.QueryRow(`
		SELECT id FROM jobs WHERE status = ?
		ORDER BY priority ASC, created_at ASC, rowid ASC LIMIT 1`,
		string(models.JobStatusQueued),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNoQueuedJobs
	}
	if err != nil {
		return nil, fmt.Errorf("select next job: %w", err)
	}
	return db.ClaimJob(id)
}

// CountByStatus returns the number of jobs in the given status.
func (db *DB) CountByStatus(status models.JobStatus) (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// CountRunning returns the number of in-flight jobs.
func (db *DB) CountRunning() (int, error) {
	return db.CountByStatus(models.JobStatusRunning)
}

// RunRecord is what the engine runner writes back after a run.
type RunRecord struct {
	Status       models.JobStatus
	Result       string
	LastRunJSON  string
	LastError    string
	EvidenceHash string
}

// CompleteRun records the outcome of the running period that began at
// startedAt. It returns false without writing if the job is no longer in
// that running period, so a late process cannot overwrite a requeued run.
func (db *DB) CompleteRun(id string, startedAt time.Time, rec RunRecord) (bool, error) {
	if !models.CanTransition(models.JobStatusRunning, rec.Status) {
		return false, fmt.Errorf("%w: running -> %s", ErrInvalidTransition, rec.Status)
	}
	var completedAt sql.NullString
	if rec.Status.Terminal() {
		completedAt = nullString(formatTime(now()))
	}
	res, err := db.conn.Exec(`
		UPDATE jobs SET status = ?, result = ?, last_run_json = ?, last_error = ?,
			evidence_hash = ?, completed_at = ?
		WHERE id = ? AND status = ? AND started_at = ?`,
		string(rec.Status), rec.Result, rec.LastRunJSON, rec.LastError,
		rec.EvidenceHash, completedAt,
		id, string(models.JobStatusRunning), formatTime(startedAt),
	)
	if err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// TransitionJob moves a job between two non-claim statuses. The update is
// conditional on the status observed, so concurrent writers cannot both
// succeed.
func (db *DB) TransitionJob(id string, to models.JobStatus) error {
	j, err := db.GetJob(id)
	if err != nil {
		return err
	}
	if j == nil {
		return ErrNotFound
	}
	if !models.CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	var completedAt sql.NullString
	if to.Terminal() {
		completedAt = nullString(formatTime(now()))
	}
	res, err := db.conn.Exec(`
		UPDATE jobs SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?`,
		string(to), completedAt, id, string(j.Status),
	)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// AssignAgent sets the owning agent of an unassigned job. It returns false
// if the job already has an agent.
func (db *DB) AssignAgent(jobID, agentID string) (bool, error) {
	res, err := db.conn.Exec(`
		UPDATE jobs SET agent_id = ?
		WHERE id = ? AND (agent_id IS NULL OR agent_id = '')`,
		agentID, jobID,
	)
	if err != nil {
		return false, fmt.Errorf("assign agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// Requeue sends a failed, rejected or paused job back to the queue,
// incrementing retry_count and clearing last_error. Requeuing a job that
// is already queued is a no-op.
func (db *DB) Requeue(id string) (*models.Job, error) {
	j, err := db.GetJob(id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrNotFound
	}
	if j.Status == models.JobStatusQueued {
		return j, nil
	}
	if !models.CanTransition(j.Status, models.JobStatusQueued) {
		return nil, fmt.Errorf("%w: %s -> queued", ErrInvalidTransition, j.Status)
	}

	// A concurrent requeue may win; either way the caller sees the row as
	// it ended up.
	_, err = db.conn.Exec(`
		UPDATE jobs SET status = ?, retry_count = retry_count + 1, last_error = '',
			started_at = NULL, completed_at = NULL
		WHERE id = ? AND status = ?`,
		string(models.JobStatusQueued), id, string(j.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("requeue job: %w", err)
	}
	return db.GetJob(id)
}

// ForceApprove marks a failed, rejected, paused or reviewing job done.
func (db *DB) ForceApprove(id string) (*models.Job, error) {
	if err := db.TransitionJob(id, models.JobStatusDone); err != nil {
		return nil, err
	}
	return db.GetJob(id)
}

// RecordReviewOutcome writes the QA total and feedback onto the reviewed
// job and, if it is still reviewing, moves it to done or rejected.
func (db *DB) RecordReviewOutcome(jobID string, total int, notes string, passed bool) error {
	to := models.JobStatusRejected
	if passed {
		to = models.JobStatusDone
	}
	return db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE jobs SET quality_score = ?, review_notes = ? WHERE id = ?`, total, notes, jobID)
		if err != nil {
			return fmt.Errorf("record review outcome: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(`
			UPDATE jobs SET status = ?, completed_at = ?
			WHERE id = ? AND status = ?`,
			string(to), formatTime(now()), jobID, string(models.JobStatusReviewing),
		)
		if err != nil {
			return fmt.Errorf("settle reviewed job: %w", err)
		}
		return nil
	})
}

// SiblingsSettled reports whether every non-review, non-integration child
// of parentID is done or reviewing. It also returns how many such
// children exist; a parent with none is never settled.
func (db *DB) SiblingsSettled(parentID string) (bool, int, error) {
	var total, pending int
	err := db.conn.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status NOT IN (?, ?) THEN 1 ELSE 0 END), 0)
		FROM jobs
		WHERE parent_job_id = ? AND job_type NOT IN (?, ?)`,
		string(models.JobStatusDone), string(models.JobStatusReviewing),
		parentID, string(models.JobTypeReview), string(models.JobTypeIntegration),
	).Scan(&total, &pending)
	if err != nil {
		return false, 0, fmt.Errorf("check siblings: %w", err)
	}
	return total > 0 && pending == 0, total, nil
}

// StalledJobs returns jobs that have been running longer than threshold.
// It never modifies them.
func (db *DB) StalledJobs(threshold time.Duration) ([]models.Job, error) {
	cutoff := formatTime(now().Add(-threshold))
	rows, err := db.conn.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
		ORDER BY started_at ASC`,
		string(models.JobStatusRunning), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list stalled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
