package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// Notification kinds.
const (
	KindJobFailed      = "job_failed"
	KindHumanRequired  = "human_required"
	KindReviewRejected = "review_rejected"
	KindJobDone        = "job_done"
	KindBoardOpen      = "board_open"
	KindJobStalled     = "job_stalled"
)

// Store persists notifications.
type Store interface {
	CreateNotification(n *models.Notification) error
}

// Emitter writes notifications and publishes them on the bus. It has no
// return values that callers must act on: a failure to notify never
// changes a job.
type Emitter struct {
	store Store
	bus   *Bus
	log   *zap.SugaredLogger
}

// NewEmitter creates an Emitter. bus may be nil.
func NewEmitter(store Store, bus *Bus) *Emitter {
	return &Emitter{store: store, bus: bus, log: zap.S().Named("notify")}
}

// Bus returns the event bus, which may be nil.
func (e *Emitter) Bus() *Bus { return e.bus }

// Publish forwards a lifecycle event without storing a notification.
func (e *Emitter) Publish(ev Event) {
	if e.bus != nil {
		e.bus.Emit(ev)
	}
}

// Notify stores a notification about job (which may be nil) and
// publishes it.
func (e *Emitter) Notify(ctx context.Context, kind string, job *models.Job, title, body string) {
	n := &models.Notification{Kind: kind, Title: title, Body: body}
	if job != nil {
		n.JobID = job.ID
	}
	if err := ctx.Err(); err != nil {
		e.log.Debugw("notifying after cancellation", "kind", kind, "error", err)
	}
	if err := e.store.CreateNotification(n); err != nil {
		e.log.Errorw("store notification", "kind", kind, "job", n.JobID, "error", err)
	}
	e.log.Infow(title, "kind", kind, "job", n.JobID)
	e.Publish(Event{Type: EventNotification, JobID: n.JobID, Status: kind, Message: title})
}

// JobTerminal raises the alert matching a job's terminal status.
func (e *Emitter) JobTerminal(ctx context.Context, job *models.Job, status models.JobStatus, detail string) {
	switch status {
	case models.JobStatusFailed:
		e.Notify(ctx, KindJobFailed, job, fmt.Sprintf("Job failed: %s", job.Title), detail)
	case models.JobStatusPausedHuman:
		e.Notify(ctx, KindHumanRequired, job, fmt.Sprintf("Needs a human: %s", job.Title), detail)
	case models.JobStatusRejected:
		e.Notify(ctx, KindReviewRejected, job, fmt.Sprintf("Rejected by QA: %s", job.Title), detail)
	case models.JobStatusDone:
		e.Notify(ctx, KindJobDone, job, fmt.Sprintf("Done: %s", job.Title), detail)
	}
}

// BoardOpen announces a board awaiting a decision.
func (e *Emitter) BoardOpen(ctx context.Context, b *models.ChallengeBoard) {
	leader := ""
	if len(b.Options) > 0 {
		leader = fmt.Sprintf("Leading option %s: %s", b.Options[0].Label, b.Options[0].Summary)
	}
	e.Notify(ctx, KindBoardOpen, nil, fmt.Sprintf("Board ready for decision: %s", b.DecisionTitle), leader)
	e.Publish(Event{Type: EventBoardOpened, BoardID: b.ID, Message: b.DecisionTitle})
}
