package actions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/orchestrator"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantClean string
		wantTypes []string
	}{
		{
			name:      "single block",
			text:      `Done. [MC_ACTION:create_task]{"title":"x"}[/MC_ACTION]`,
			wantClean: "Done.",
			wantTypes: []string{TypeCreateTask},
		},
		{
			name:      "no blocks",
			text:      "  just text  ",
			wantClean: "just text",
		},
		{
			name: "multiline and multiple",
			text: "Queued both.\n[MC_ACTION:create_task]{\n  \"title\": \"a\"\n}[/MC_ACTION]\n" +
				`[MC_ACTION:requeue]{"job_id":"j1"}[/MC_ACTION]`,
			wantClean: "Queued both.",
			wantTypes: []string{TypeCreateTask, TypeRequeue},
		},
		{
			name:      "invalid json dropped but stripped",
			text:      `Ok [MC_ACTION:create_task]{title: x}[/MC_ACTION] [MC_ACTION:approve]{"job_id":"j"}[/MC_ACTION]`,
			wantClean: "Ok",
			wantTypes: []string{TypeApprove},
		},
		{
			name:      "unclosed block left alone",
			text:      `Hi [MC_ACTION:create_task]{"title":"x"}`,
			wantClean: `Hi [MC_ACTION:create_task]{"title":"x"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, got := Extract(tt.text)
			if clean != tt.wantClean {
				t.Errorf("clean = %q, want %q", clean, tt.wantClean)
			}
			if len(got) != len(tt.wantTypes) {
				t.Fatalf("got %d actions, want %d", len(got), len(tt.wantTypes))
			}
			for i, a := range got {
				if a.Type != tt.wantTypes[i] {
					t.Errorf("action[%d].Type = %q, want %q", i, a.Type, tt.wantTypes[i])
				}
			}
		})
	}
}

func setupDispatcher(t *testing.T) (*Dispatcher, *state.DB) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "mc.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, name := range []string{"Scribe", "Atlas"} {
		if err := db.UpsertAgent(&models.Agent{Name: name, Active: true, Engine: "codex"}); err != nil {
			t.Fatal(err)
		}
	}
	boards := board.NewService(db)
	post := orchestrator.NewPostExec(db, boards, notify.NewEmitter(db, nil), "QA", "")
	return NewDispatcher(db, boards, post, "chat"), db
}

func TestDispatcher_Execute(t *testing.T) {
	d, db := setupDispatcher(t)
	ctx := context.Background()

	_, batch := Extract(`
[MC_ACTION:create_task]{"title":"Draft email","agent":"Scribe","priority":2}[/MC_ACTION]
[MC_ACTION:create_task]{"priority":2}[/MC_ACTION]
[MC_ACTION:launch_rocket]{}[/MC_ACTION]
[MC_ACTION:challenge_board]{"title":"Pricing","options":["Free","Paid"],"challengers":[{"agent":"Scribe"},{"agent":"Atlas"}]}[/MC_ACTION]
[MC_ACTION:requeue]{"job_id":"missing"}[/MC_ACTION]`)

	results := d.Execute(ctx, batch)
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}

	if !results[0].OK || len(results[0].IDs) != 1 {
		t.Fatalf("create_task = %+v", results[0])
	}
	j, err := db.GetJob(results[0].IDs[0])
	if err != nil || j == nil {
		t.Fatalf("GetJob: %v, %v", j, err)
	}
	if j.Source != "chat" || j.Priority != 2 || j.Engine != "codex" || j.AgentID == "" {
		t.Errorf("created job = %+v", j)
	}

	if results[1].OK || results[1].Error == "" {
		t.Errorf("create_task without title = %+v, want validation failure", results[1])
	}
	if results[2].OK {
		t.Errorf("unknown action = %+v, want failure", results[2])
	}
	if !results[3].OK || len(results[3].IDs) != 3 {
		t.Errorf("challenge_board = %+v, want board plus 2 jobs", results[3])
	}
	if results[4].OK {
		t.Errorf("requeue missing = %+v, want failure", results[4])
	}
}

func TestDispatcher_DecodeUnknown(t *testing.T) {
	d, _ := setupDispatcher(t)
	if _, err := d.Decode(Action{Type: "nope", Payload: []byte(`{}`)}); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Decode(nope) = %v, want ErrUnknownAction", err)
	}
}

func TestDispatcher_SpawnAndApprove(t *testing.T) {
	d, db := setupDispatcher(t)
	ctx := context.Background()

	parent := &models.Job{Title: "Launch"}
	if err := db.CreateJob(parent); err != nil {
		t.Fatal(err)
	}
	res := d.Execute(ctx, []Action{
		{Type: TypeSpawnJob, Payload: []byte(`{"title":"Plan","type":"decomposition","parent_id":"` + parent.ID + `"}`)},
		{Type: TypeSpawnJob, Payload: []byte(`{"title":"Plan","type":"meeting"}`)},
		{Type: TypeSpawnJob, Payload: []byte(`{"title":"Plan","parent_id":"ghost"}`)},
	})
	if !res[0].OK {
		t.Fatalf("spawn_job = %+v", res[0])
	}
	if res[1].OK || res[2].OK {
		t.Errorf("invalid spawns succeeded: %+v %+v", res[1], res[2])
	}
	child, _ := db.GetJob(res[0].IDs[0])
	if child.Type != models.JobTypeDecomposition || child.ParentJobID != parent.ID {
		t.Errorf("spawned = %+v", child)
	}

	claimed, err := db.ClaimJob(parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.CompleteRun(parent.ID, *claimed.StartedAt, state.RunRecord{Status: models.JobStatusFailed, LastError: "boom"}); err != nil {
		t.Fatal(err)
	}
	res = d.Execute(ctx, []Action{{Type: TypeApprove, Payload: []byte(`{"job_id":"` + parent.ID + `"}`)}})
	if !res[0].OK {
		t.Fatalf("approve = %+v", res[0])
	}
	if got, _ := db.GetJob(parent.ID); got.Status != models.JobStatusDone {
		t.Errorf("approved job status = %s, want done", got.Status)
	}
}
