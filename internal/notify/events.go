// Package notify raises human-facing alerts and fans job lifecycle
// events out to in-process subscribers.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType is the kind of lifecycle event.
type EventType string

const (
	// EventJobClaimed indicates a job moved to running.
	EventJobClaimed EventType = "job_claimed"
	// EventJobFinished indicates an engine run ended; Status carries the result.
	EventJobFinished EventType = "job_finished"
	// EventJobApproved indicates a human forced a job to done.
	EventJobApproved EventType = "job_approved"
	// EventJobEnqueued indicates a job was created by the pipeline.
	EventJobEnqueued EventType = "job_enqueued"
	// EventReviewRecorded indicates a QA verdict was written.
	EventReviewRecorded EventType = "review_recorded"
	// EventBoardOpened indicates a board finished deliberating.
	EventBoardOpened EventType = "board_opened"
	// EventNotification mirrors a stored notification.
	EventNotification EventType = "notification"
	// EventSettingsChanged indicates pause or concurrency settings changed.
	EventSettingsChanged EventType = "settings_changed"
)

// Event is one lifecycle event.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	JobTitle  string    `json:"job_title,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	BoardID   string    `json:"board_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// sendTimeout is how long Emit waits on a full subscriber before dropping.
const sendTimeout = 100 * time.Millisecond

// Bus delivers events to every subscriber. A slow subscriber loses
// events rather than stalling the scheduler.
type Bus struct {
	mu           sync.RWMutex
	subs         map[int]chan Event
	next         int
	bufferSize   int
	droppedCount atomic.Uint64
}

// NewBus creates a Bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	return &Bus{subs: make(map[int]chan Event), bufferSize: bufferSize}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, b.bufferSize)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit sends an event to all subscribers.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case ch <- ev:
		case <-time.After(sendTimeout):
			count := b.droppedCount.Add(1)
			if count%10 == 1 {
				zap.S().Named("notify").Warnw("subscriber full, dropped event", "type", ev.Type, "total_dropped", count)
			}
		}
	}
}

// DroppedCount returns how many deliveries were dropped.
func (b *Bus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}
