package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/orchestrator"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/internal/stream"
	"github.com/ShayCichocki/missioncontrol/internal/version"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

const testToken = "s3cret-token"

type fakeEngine struct {
	name  string
	reply string
	last  engine.Request
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) Run(_ context.Context, req engine.Request) engine.Outcome {
	e.last = req
	return engine.Outcome{Status: models.JobStatusDone, Engine: e.name, Result: e.reply}
}

type harness struct {
	db   *state.DB
	srv  *httptest.Server
	chat *fakeEngine
	bus  *notify.Bus
}

func setup(t *testing.T) *harness {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "mc.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.UpsertAgent(&models.Agent{Name: "Scribe", Role: "copywriter", Active: true}); err != nil {
		t.Fatal(err)
	}

	chat := &fakeEngine{name: "api"}
	engines := engine.NewSetOf(&fakeEngine{name: models.EngineClaude, reply: "done"}, chat)
	bus := notify.NewBus(16)
	sched := orchestrator.New(orchestrator.Options{
		Store:   db,
		Engines: engines,
		Emitter: notify.NewEmitter(db, bus),
		QAAgent: "qa",
	})
	s := New(Options{
		Store:      db,
		Scheduler:  sched,
		Engines:    engines,
		Bus:        bus,
		Releaser:   state.NewRecoveryManager(db, time.Hour),
		Token:      testToken,
		StallAfter: time.Hour,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{db: db, srv: srv, chat: chat, bus: bus}
}

func (h *harness) do(t *testing.T, method, path string, body any, auth bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestEnqueue(t *testing.T) {
	h := setup(t)

	tests := []struct {
		name string
		body any
		auth bool
		want int
	}{
		{"no token", EnqueueRequest{Title: "x"}, false, http.StatusUnauthorized},
		{"missing title", EnqueueRequest{Priority: 2}, true, http.StatusBadRequest},
		{"bad type", EnqueueRequest{Title: "x", Type: "meeting"}, true, http.StatusBadRequest},
		{"unknown agent", EnqueueRequest{Title: "x", Agent: "Ghost"}, true, http.StatusBadRequest},
		{"valid", EnqueueRequest{Title: "Write copy", Agent: "Scribe", Priority: 2}, true, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, "/api/jobs", tt.body, tt.auth)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	jobs := decodeBody[[]models.Job](t, h.do(t, http.MethodGet, "/api/jobs?status=queued", nil, false))
	if len(jobs) != 1 || jobs[0].AgentID == "" || jobs[0].Source != "api" {
		t.Errorf("queued jobs = %+v", jobs)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h := setup(t)
	resp := h.do(t, http.MethodGet, "/api/jobs/missing", nil, false)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeBody[ErrResponse](t, resp)
	if body.OK || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestSchedulerRun(t *testing.T) {
	h := setup(t)

	empty := decodeBody[runResponse](t, h.do(t, http.MethodPost, "/api/scheduler/run", nil, true))
	if empty.OK || empty.Error != "no_queued_jobs" {
		t.Errorf("empty queue = %+v", empty)
	}

	j := &models.Job{Title: "Write copy"}
	if err := h.db.CreateJob(j); err != nil {
		t.Fatal(err)
	}
	resp := h.do(t, http.MethodPost, "/api/scheduler/run", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw := decodeBody[map[string]any](t, resp)
	if raw["ok"] != true || raw["job_id"] != j.ID || raw["status"] != string(models.JobStatusReviewing) {
		t.Errorf("run = %+v", raw)
	}
	if _, nested := raw["run"]; nested {
		t.Errorf("run reply is nested: %+v", raw)
	}

	// The job is no longer queued, so claiming it again loses.
	resp = h.do(t, http.MethodPost, "/api/scheduler/run", runRequest{JobID: j.ID}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second claim status = %d, want 409", resp.StatusCode)
	}
}

func TestSchedulerRun_Gated(t *testing.T) {
	h := setup(t)
	j := &models.Job{Title: "Write copy"}
	if err := h.db.CreateJob(j); err != nil {
		t.Fatal(err)
	}
	if err := h.db.SetPaused(true); err != nil {
		t.Fatal(err)
	}

	for _, body := range []any{nil, runRequest{JobID: j.ID}} {
		resp := h.do(t, http.MethodPost, "/api/scheduler/run", body, true)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("paused run status = %d, want 200", resp.StatusCode)
		}
		got := decodeBody[runResponse](t, resp)
		if got.OK || got.Error != "paused" {
			t.Errorf("paused run = %+v", got)
		}
	}
	if got, _ := h.db.GetJob(j.ID); got.Status != models.JobStatusQueued {
		t.Errorf("job ran while paused: %s", got.Status)
	}
}

func TestRequeueAndApprove(t *testing.T) {
	h := setup(t)
	j := &models.Job{Title: "Queued"}
	if err := h.db.CreateJob(j); err != nil {
		t.Fatal(err)
	}
	if resp := h.do(t, http.MethodPost, "/api/jobs/"+j.ID+"/approve", nil, true); resp.StatusCode != http.StatusConflict {
		t.Errorf("approve queued = %d, want 409", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodPost, "/api/jobs/missing/requeue", nil, true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("requeue missing = %d, want 404", resp.StatusCode)
	}

	// Approving the only failed child completes the parent's fan-in.
	child := &models.Job{Title: "Only child", ParentJobID: j.ID}
	if err := h.db.CreateJob(child); err != nil {
		t.Fatal(err)
	}
	claimed, err := h.db.ClaimJob(child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.db.CompleteRun(child.ID, *claimed.StartedAt, state.RunRecord{Status: models.JobStatusFailed, LastError: "boom"}); err != nil {
		t.Fatal(err)
	}
	if resp := h.do(t, http.MethodPost, "/api/jobs/"+child.ID+"/approve", nil, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("approve failed child = %d, want 200", resp.StatusCode)
	}
	integrations, err := h.db.ListJobs(state.JobFilter{ParentID: j.ID, Type: models.JobTypeIntegration})
	if err != nil {
		t.Fatal(err)
	}
	if len(integrations) != 1 {
		t.Errorf("integration jobs = %d, want 1", len(integrations))
	}
}

func TestSettings(t *testing.T) {
	h := setup(t)
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	resp := h.do(t, http.MethodPut, "/api/settings", map[string]string{state.SettingParallelJobs: "4"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	snap := decodeBody[state.Snapshot](t, resp)
	if snap.ParallelJobs != 4 || snap.Version == 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	select {
	case ev := <-events:
		if ev.Type != notify.EventSettingsChanged {
			t.Errorf("event = %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Error("no settings event")
	}
}

func readFrames(t *testing.T, resp *http.Response) []stream.Frame {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != stream.ContentType {
		t.Fatalf("content type = %q", ct)
	}
	var frames []stream.Frame
	if err := stream.Read(resp.Body, func(f stream.Frame) error {
		frames = append(frames, f)
		return nil
	}); err != nil {
		t.Fatalf("read frames: %v", err)
	}
	return frames
}

func TestChat_QuickPath(t *testing.T) {
	h := setup(t)
	if err := h.db.CreateJob(&models.Job{Title: "a"}); err != nil {
		t.Fatal(err)
	}
	frames := readFrames(t, h.do(t, http.MethodPost, "/api/chat", ChatRequest{Message: "status?"}, true))
	if len(frames) != 2 || frames[0].Type != stream.FrameText || frames[1].Tier != string(models.TierQuickPath) {
		t.Fatalf("frames = %+v", frames)
	}
	if !strings.Contains(frames[0].Content, "1 queued") {
		t.Errorf("answer = %q", frames[0].Content)
	}
	if h.chat.last.Prompt != "" {
		t.Error("quick-path called the engine")
	}
}

func TestChat_DeepExecutesActions(t *testing.T) {
	h := setup(t)
	h.chat.reply = `Queued it. [MC_ACTION:create_task]{"title":"Draft launch email","agent":"Scribe"}[/MC_ACTION]`

	frames := readFrames(t, h.do(t, http.MethodPost, "/api/chat", ChatRequest{Message: "create a task to draft the launch email"}, true))
	var types []string
	for _, f := range frames {
		types = append(types, f.Type)
	}
	if strings.Join(types, ",") != "text,action,done" {
		t.Fatalf("frames = %v", types)
	}
	if frames[0].Content != "Queued it." {
		t.Errorf("text = %q", frames[0].Content)
	}
	if a := frames[1].Action; a == nil || !a.OK || len(a.IDs) != 1 {
		t.Errorf("action = %+v", a)
	}
	if !strings.Contains(h.chat.last.Prompt, "MC_ACTION") {
		t.Error("deep prompt lacks action instructions")
	}
	jobs, _ := h.db.ListJobs(state.JobFilter{Status: models.JobStatusQueued})
	if len(jobs) != 1 || jobs[0].Source != "chat" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestChat_FastTierNeverActs(t *testing.T) {
	h := setup(t)
	h.chat.reply = `Sure. [MC_ACTION:create_task]{"title":"sneaky"}[/MC_ACTION]`

	frames := readFrames(t, h.do(t, http.MethodPost, "/api/chat", ChatRequest{Message: "thanks"}, true))
	if len(frames) != 2 || frames[0].Content != "Sure." {
		t.Errorf("frames = %+v", frames)
	}
	if jobs, _ := h.db.ListJobs(state.JobFilter{}); len(jobs) != 0 {
		t.Errorf("fast tier created %d jobs", len(jobs))
	}
}

func TestBoardRoutes(t *testing.T) {
	h := setup(t)
	resp := h.do(t, http.MethodPost, "/api/boards", map[string]any{
		"title":       "Pricing",
		"options":     []string{"Free", "Paid"},
		"challengers": []map[string]string{{"agent": "Scribe"}},
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decodeBody[createBoardResponse](t, resp)
	id := created.Board.ID

	if resp := h.do(t, http.MethodPost, "/api/boards/"+id+"/responses", ResponseRequest{AgentName: "Scribe", Position: "b", Argument: "margin"}, true); resp.StatusCode != http.StatusCreated {
		t.Errorf("respond status = %d", resp.StatusCode)
	}
	synth := decodeBody[models.ChallengeBoard](t, h.do(t, http.MethodPost, "/api/boards/"+id+"/synthesise", nil, true))
	if synth.Status != models.BoardOpen || synth.Options[0].Label != "B" {
		t.Errorf("synthesised = %+v", synth)
	}
	if resp := h.do(t, http.MethodPost, "/api/boards/"+id+"/decide", DecideRequest{Decision: "Z"}, true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("decide unknown label = %d, want 400", resp.StatusCode)
	}
	decided := decodeBody[models.ChallengeBoard](t, h.do(t, http.MethodPost, "/api/boards/"+id+"/decide", DecideRequest{Decision: "b", Rationale: "ok"}, true))
	if decided.Status != models.BoardDecided || decided.FinalDecision != "B" {
		t.Errorf("decided = %+v", decided)
	}
	if resp := h.do(t, http.MethodPost, "/api/boards/"+id+"/decide", DecideRequest{Decision: "A"}, true); resp.StatusCode != http.StatusConflict {
		t.Errorf("second decide = %d, want 409", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := setup(t)
	body := decodeBody[map[string]any](t, h.do(t, http.MethodGet, "/api/health", nil, false))
	if body["ok"] != true {
		t.Errorf("health = %+v", body)
	}
	if body["version"] != version.Get() {
		t.Errorf("health version = %v, want %s", body["version"], version.Get())
	}
	resp := h.do(t, http.MethodGet, "/metrics", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
