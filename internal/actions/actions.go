// Package actions extracts and executes the action directives that deep
// tier replies embed in their text:
//
//	[MC_ACTION:create_task]{"title": "Draft launch email"}[/MC_ACTION]
//
// Blocks are stripped from the visible text. Each payload is decoded into
// the struct registered for its type and validated before it runs.
package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ShayCichocki/missioncontrol/internal/board"
)

// Action types.
const (
	TypeCreateTask     = "create_task"
	TypeSpawnJob       = "spawn_job"
	TypeChallengeBoard = "challenge_board"
	TypeDecide         = "decide"
	TypeRequeue        = "requeue"
	TypeApprove        = "approve"
)

// ErrUnknownAction is returned for a type with no registered payload.
var ErrUnknownAction = errors.New("unknown action type")

var blockPattern = regexp.MustCompile(`(?s)\[MC_ACTION:([a-z_]+)\](.*?)\[/MC_ACTION\]`)

// Action is one extracted directive with its undecoded payload.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Extract strips every action block from text and returns the cleaned
// text with the blocks whose payload is valid JSON, in order. Blocks with
// invalid JSON are dropped.
func Extract(text string) (string, []Action) {
	var found []Action
	for _, m := range blockPattern.FindAllStringSubmatch(text, -1) {
		payload := strings.TrimSpace(m[2])
		if !json.Valid([]byte(payload)) {
			continue
		}
		found = append(found, Action{Type: m[1], Payload: json.RawMessage(payload)})
	}
	clean := blockPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(clean), found
}

// CreateTask enqueues a top-level task.
type CreateTask struct {
	Title     string   `json:"title" validate:"required"`
	Prompt    string   `json:"prompt"`
	Agent     string   `json:"agent"`
	Priority  int      `json:"priority" validate:"omitempty,min=1,max=10"`
	ProjectID string   `json:"project_id"`
	Tools     []string `json:"tools"`
}

// SpawnJob enqueues a job of any type, optionally under a parent.
type SpawnJob struct {
	Title    string `json:"title" validate:"required"`
	Type     string `json:"type" validate:"jobtype"`
	ParentID string `json:"parent_id"`
	Agent    string `json:"agent"`
	Engine   string `json:"engine"`
	Prompt   string `json:"prompt"`
	Command  string `json:"command"`
	Priority int    `json:"priority" validate:"omitempty,min=1,max=10"`
}

// ChallengeBoard opens a board and its challenger jobs.
type ChallengeBoard struct {
	board.CreateRequest
}

// Decide records the human decision on a board.
type Decide struct {
	BoardID   string `json:"board_id" validate:"required"`
	Decision  string `json:"decision" validate:"required"`
	Rationale string `json:"rationale"`
}

// Requeue sends a job back to the queue.
type Requeue struct {
	JobID string `json:"job_id" validate:"required"`
}

// Approve force-approves a job.
type Approve struct {
	JobID string `json:"job_id" validate:"required"`
}

func newPayload(actionType string) (any, error) {
	switch actionType {
	case TypeCreateTask:
		return &CreateTask{}, nil
	case TypeSpawnJob:
		return &SpawnJob{}, nil
	case TypeChallengeBoard:
		return &ChallengeBoard{}, nil
	case TypeDecide:
		return &Decide{}, nil
	case TypeRequeue:
		return &Requeue{}, nil
	case TypeApprove:
		return &Approve{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
}

// Types lists the action types the dispatcher accepts.
func Types() []string {
	return []string{TypeCreateTask, TypeSpawnJob, TypeChallengeBoard, TypeDecide, TypeRequeue, TypeApprove}
}
