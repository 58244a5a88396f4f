package board

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func resp(agent, position, argument string, flags ...models.RiskFlag) models.ChallengeResponse {
	return models.ChallengeResponse{AgentName: agent, Position: position, Argument: argument, RiskFlags: flags}
}

func labels(opts []models.BoardOption) string {
	var l []string
	for _, o := range opts {
		l = append(l, o.Label)
	}
	return strings.Join(l, ",")
}

func abc() []models.BoardOption {
	return []models.BoardOption{{Label: "A"}, {Label: "B"}, {Label: "C"}}
}

func TestRank_Ordering(t *testing.T) {
	tests := []struct {
		name      string
		responses []models.ChallengeResponse
		want      string
	}{
		{
			name: "B then A then C",
			responses: []models.ChallengeResponse{
				resp("a1", "A", ""), resp("a2", "A", ""),
				resp("b1", "B", ""), resp("b2", "B", ""), resp("b3", "B", ""),
			},
			want: "B,A,C",
		},
		{
			name: "tie keeps label order",
			responses: []models.ChallengeResponse{
				resp("c1", "C", ""), resp("a1", "A", ""),
			},
			want: "A,C,B",
		},
		{
			name:      "no responses",
			responses: nil,
			want:      "A,B,C",
		},
		{
			name:      "unknown position ignored",
			responses: []models.ChallengeResponse{resp("x", "Z", "hm"), resp("c", "C", "")},
			want:      "C,A,B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := labels(Rank(abc(), tt.responses)); got != tt.want {
				t.Errorf("Rank() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRank_ProsAndCons(t *testing.T) {
	responses := []models.ChallengeResponse{
		resp("Ana", "A", "cheapest path",
			models.RiskFlag{Severity: "high", Text: "vendor lock-in"},
			models.RiskFlag{Severity: "low", Text: "minor delay"}),
		resp("Ben", "B", "fastest path", models.RiskFlag{Severity: "HIGH", Text: "burnout"}),
	}
	ranked := Rank(abc(), responses)

	a := ranked[0]
	if a.Label != "A" || len(a.RecommendedBy) != 1 || a.RecommendedBy[0] != "Ana" {
		t.Fatalf("option A = %+v", a)
	}
	if len(a.Pros) != 1 || a.Pros[0] != "cheapest path" {
		t.Errorf("A pros = %v", a.Pros)
	}
	if len(a.Cons) != 1 || a.Cons[0] != "vendor lock-in" {
		t.Errorf("A cons = %v, want only the high-severity risk", a.Cons)
	}

	b := ranked[1]
	if len(b.Cons) != 1 || b.Cons[0] != "burnout" {
		t.Errorf("B cons = %v, want Ben's own risk", b.Cons)
	}
	if len(ranked[2].Cons) != 0 {
		t.Errorf("C should have no cons, got %v", ranked[2].Cons)
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	opts := abc()
	Rank(opts, []models.ChallengeResponse{resp("x", "C", "arg")})
	if opts[0].Label != "A" || len(opts[2].RecommendedBy) != 0 {
		t.Errorf("input options mutated: %+v", opts)
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		i    int
		want string
	}{
		{0, "A"}, {2, "C"}, {25, "Z"}, {26, "A2"}, {27, "B2"},
	}
	for _, tt := range tests {
		if got := Label(tt.i); got != tt.want {
			t.Errorf("Label(%d) = %q, want %q", tt.i, got, tt.want)
		}
	}
}

func TestParseChallengerOutput(t *testing.T) {
	r, ok := ParseChallengerOutput(`My view: {"perspective":"risk","position":" b ","argument":"safer","risk_flags":[{"severity":"high","text":"slow"}]}`)
	if !ok {
		t.Fatal("expected parsed response")
	}
	if r.Position != "B" || r.Argument != "safer" || len(r.RiskFlags) != 1 {
		t.Errorf("response = %+v", r)
	}

	r, ok = ParseChallengerOutput("I refuse to pick.")
	if ok {
		t.Fatal("expected malformed response")
	}
	if r.Position != "" || r.Argument != "I refuse to pick." {
		t.Errorf("abstention = %+v", r)
	}

	r, _ = ParseChallengerOutput("a" + strings.Repeat("ü", maxArgumentLen))
	if !utf8.ValidString(r.Argument) || len(r.Argument) > maxArgumentLen+3 {
		t.Errorf("long abstention not cut on a rune boundary: len %d", len(r.Argument))
	}
}

func setupService(t *testing.T) (*Service, *state.DB) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "mc.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, name := range []string{"Ana", "Ben", "Cy"} {
		if err := db.UpsertAgent(&models.Agent{Name: name, Active: true}); err != nil {
			t.Fatal(err)
		}
	}
	return NewService(db), db
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, db := setupService(t)

	b, jobs, err := svc.Create(ctx, CreateRequest{
		Title:   "Pricing model",
		Context: "Pick one",
		Options: []string{"Freemium", "Trial", "Paid only"},
		Challengers: []Challenger{
			{Agent: "Ana", Perspective: "finance"},
			{Agent: "Ben"},
			{Agent: "Cy"},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if b.Status != models.BoardDeliberating || len(jobs) != 3 {
		t.Fatalf("board status %s with %d jobs", b.Status, len(jobs))
	}
	if labels(b.Options) != "A,B,C" {
		t.Errorf("labels = %s", labels(b.Options))
	}
	if !strings.Contains(jobs[0].PromptText, "finance perspective") {
		t.Errorf("lens missing from prompt:\n%s", jobs[0].PromptText)
	}
	if !strings.Contains(jobs[1].PromptText, "- C: Paid only") {
		t.Errorf("options missing from prompt:\n%s", jobs[1].PromptText)
	}

	outputs := []string{
		`{"position":"C","argument":"margin"}`,
		`{"position":"C","argument":"simple"}`,
		"",
	}
	names := []string{"Ana", "Ben", "Cy"}
	for i, j := range jobs {
		claimed, err := db.ClaimJob(j.ID)
		if err != nil {
			t.Fatalf("ClaimJob: %v", err)
		}
		status := models.JobStatusDone
		if i == 2 {
			status = models.JobStatusFailed
		}
		if _, err := db.CompleteRun(j.ID, *claimed.StartedAt, state.RunRecord{Status: status}); err != nil {
			t.Fatal(err)
		}

		opened, err := svc.IngestChallenger(ctx, j, names[i], outputs[i], status == models.JobStatusDone)
		if err != nil {
			t.Fatalf("IngestChallenger(%d) failed: %v", i, err)
		}
		if opened != (i == 2) {
			t.Errorf("IngestChallenger(%d) opened = %v", i, opened)
		}
	}

	got, err := db.GetBoard(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.BoardOpen {
		t.Fatalf("board status = %s, want open", got.Status)
	}
	if labels(got.Options) != "C,A,B" {
		t.Errorf("ranked = %s, want C,A,B", labels(got.Options))
	}
	if len(got.Responses) != 2 {
		t.Errorf("responses = %d, want 2", len(got.Responses))
	}

	if _, err := svc.Decide(ctx, b.ID, "Q", "nope"); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("Decide(Q) error = %v, want ErrUnknownOption", err)
	}
	decided, err := svc.Decide(ctx, b.ID, "c", "two votes")
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decided.Status != models.BoardDecided || decided.FinalDecision != "C" {
		t.Errorf("decided board = %+v", decided)
	}
	if _, err := svc.Decide(ctx, b.ID, "A", "changed my mind"); !errors.Is(err, state.ErrBoardDecided) {
		t.Errorf("second Decide error = %v, want ErrBoardDecided", err)
	}
	if _, err := svc.RecordResponse(ctx, b.ID, resp("late", "A", "")); !errors.Is(err, state.ErrBoardDecided) {
		t.Errorf("late RecordResponse error = %v, want ErrBoardDecided", err)
	}
}

func TestService_SynthesiseOpensOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	b, _, err := svc.Create(ctx, CreateRequest{
		Title:       "Hiring plan",
		Options:     []string{"Hire", "Wait"},
		Challengers: []Challenger{{Agent: "Ana"}, {Agent: "Ben"}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Two challengers finishing together both saw deliberating.
	_, first, err := svc.synthesise(ctx, b.ID)
	if err != nil {
		t.Fatalf("first synthesise failed: %v", err)
	}
	got, second, err := svc.synthesise(ctx, b.ID)
	if err != nil {
		t.Fatalf("second synthesise failed: %v", err)
	}
	if !first || second {
		t.Errorf("opened = %v, %v, want true, false", first, second)
	}
	if got.Status != models.BoardOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"no options", CreateRequest{Title: "x", Challengers: []Challenger{{Agent: "Ana"}}}, ErrNoOptions},
		{"no challengers", CreateRequest{Title: "x", Options: []string{"a"}}, ErrNoChallengers},
		{"unknown agent", CreateRequest{Title: "x", Options: []string{"a"}, Challengers: []Challenger{{Agent: "Zed"}}}, ErrUnknownAgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Create(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}
