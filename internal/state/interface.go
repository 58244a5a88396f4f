package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// JobStore handles job persistence and the claim protocol.
type JobStore interface {
	CreateJob(j *models.Job) error
	CreateIntegrationOnce(j *models.Job) (bool, error)
	GetJob(id string) (*models.Job, error)
	ListJobs(f JobFilter) ([]models.Job, error)
	ListChildren(parentID string) ([]models.Job, error)
	ClaimJob(id string) (*models.Job, error)
	ClaimNext() (*models.Job, error)
	CountRunning() (int, error)
	CompleteRun(id string, startedAt time.Time, rec RunRecord) (bool, error)
	TransitionJob(id string, to models.JobStatus) error
	AssignAgent(jobID, agentID string) (bool, error)
	Requeue(id string) (*models.Job, error)
	ForceApprove(id string) (*models.Job, error)
	RecordReviewOutcome(jobID string, total int, notes string, passed bool) error
	SiblingsSettled(parentID string) (bool, int, error)
	StalledJobs(threshold time.Duration) ([]models.Job, error)
}

// AgentStore handles the agent registry.
type AgentStore interface {
	UpsertAgent(a *models.Agent) error
	GetAgent(id string) (*models.Agent, error)
	GetAgentByName(name string) (*models.Agent, error)
	ListAgents(activeOnly bool) ([]models.Agent, error)
	RecordAgentReview(agentID string, total int, passed bool) error
}

// ProjectStore handles project specifications.
type ProjectStore interface {
	UpsertProject(p *models.Project) error
	GetProject(id string) (*models.Project, error)
}

// SettingsStore handles global scheduler settings.
type SettingsStore interface {
	Snapshot() (Snapshot, error)
	SetSetting(key, value string) error
	SetPaused(paused bool) error
}

// ReviewStore handles QA review records.
type ReviewStore interface {
	CreateReview(r *models.QAReview) error
	ListReviews(jobID string) ([]models.QAReview, error)
}

// BoardStore handles challenge boards and their responses.
type BoardStore interface {
	CreateBoard(b *models.ChallengeBoard) error
	GetBoard(id string) (*models.ChallengeBoard, error)
	ListBoards() ([]models.ChallengeBoard, error)
	AddResponse(r *models.ChallengeResponse) error
	ListResponses(boardID string) ([]models.ChallengeResponse, error)
	SaveSynthesis(boardID string, options []models.BoardOption) (bool, error)
	DecideBoard(boardID, decision, rationale string) error
}

// NotificationStore handles human-facing alerts.
type NotificationStore interface {
	CreateNotification(n *models.Notification) error
	ListNotifications(unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(id string) error
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store composes every persistence concern. Components depend on the
// narrowest sub-interface they need.
type Store interface {
	io.Closer
	Migrator
	JobStore
	AgentStore
	ProjectStore
	SettingsStore
	ReviewStore
	BoardStore
	NotificationStore
	Ping() error
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store             = (*DB)(nil)
	_ JobStore          = (*DB)(nil)
	_ AgentStore        = (*DB)(nil)
	_ ProjectStore      = (*DB)(nil)
	_ SettingsStore     = (*DB)(nil)
	_ ReviewStore       = (*DB)(nil)
	_ BoardStore        = (*DB)(nil)
	_ NotificationStore = (*DB)(nil)
)
