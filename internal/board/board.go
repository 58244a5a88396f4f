// Package board runs challenge boards: a decision is fanned out to
// challenger agents, their positions are gathered, and the options are
// ranked for a human to decide.
package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

var (
	// ErrNoOptions is returned when a board is created without options.
	ErrNoOptions = errors.New("board needs at least one option")
	// ErrNoChallengers is returned when a board is created without challengers.
	ErrNoChallengers = errors.New("board needs at least one challenger")
	// ErrUnknownOption is returned when a decision names a label the board lacks.
	ErrUnknownOption = errors.New("unknown option label")
	// ErrUnknownAgent is returned when a challenger is not in the roster.
	ErrUnknownAgent = errors.New("unknown challenger agent")
)

// challengerPriority puts challenger jobs ahead of routine work.
const challengerPriority = 3

// defaultLenses are assigned round-robin to challengers without an
// explicit perspective or role.
var defaultLenses = []string{"risk", "cost", "growth", "customer", "execution"}

// Store is the persistence a board needs.
type Store interface {
	CreateBoard(b *models.ChallengeBoard) error
	GetBoard(id string) (*models.ChallengeBoard, error)
	AddResponse(r *models.ChallengeResponse) error
	SaveSynthesis(boardID string, options []models.BoardOption) (bool, error)
	DecideBoard(boardID, decision, rationale string) error
	CreateJob(j *models.Job) error
	ListJobs(f state.JobFilter) ([]models.Job, error)
	GetAgentByName(name string) (*models.Agent, error)
}

// Challenger invites one agent, optionally with a named lens.
type Challenger struct {
	Agent       string `json:"agent" validate:"required"`
	Perspective string `json:"perspective,omitempty"`
}

// CreateRequest describes a new board.
type CreateRequest struct {
	Title       string       `json:"title" validate:"required"`
	Context     string       `json:"context"`
	Options     []string     `json:"options" validate:"required,min=1,dive,required"`
	Challengers []Challenger `json:"challengers" validate:"required,min=1,dive"`
	ProjectID   string       `json:"project_id,omitempty"`
}

// Service creates, feeds, ranks and decides boards.
type Service struct {
	store Store
	log   *zap.SugaredLogger
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store, log: zap.S().Named("board")}
}

// Label returns the option label for position i: A..Z, then A2..Z2 and so on.
func Label(i int) string {
	l := string(rune('A' + i%26))
	if i >= 26 {
		l += strconv.Itoa(i/26 + 1)
	}
	return l
}

// Create persists a deliberating board and enqueues one challenger job
// per invited agent. Every challenger is resolved before anything is
// written.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.ChallengeBoard, []*models.Job, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, nil, errors.New("board title is required")
	}
	if len(req.Options) == 0 {
		return nil, nil, ErrNoOptions
	}
	if len(req.Challengers) == 0 {
		return nil, nil, ErrNoChallengers
	}

	agents := make([]*models.Agent, len(req.Challengers))
	for i, c := range req.Challengers {
		a, err := s.store.GetAgentByName(c.Agent)
		if err != nil {
			return nil, nil, err
		}
		if a == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownAgent, c.Agent)
		}
		agents[i] = a
	}

	b := &models.ChallengeBoard{
		DecisionTitle:   strings.TrimSpace(req.Title),
		DecisionContext: strings.TrimSpace(req.Context),
		Status:          models.BoardDeliberating,
	}
	for i, summary := range req.Options {
		b.Options = append(b.Options, models.BoardOption{
			Label:   Label(i),
			Summary: strings.TrimSpace(summary),
		})
	}
	if err := s.store.CreateBoard(b); err != nil {
		return nil, nil, err
	}

	jobs := make([]*models.Job, 0, len(agents))
	for i, a := range agents {
		if err := ctx.Err(); err != nil {
			return b, jobs, err
		}
		lens := lensFor(req.Challengers[i], a, i)
		j := &models.Job{
			Title:      fmt.Sprintf("Challenge: %s (%s)", b.DecisionTitle, a.Name),
			Type:       models.JobTypeTask,
			Engine:     a.Engine,
			Source:     "board:" + b.ID,
			Priority:   challengerPriority,
			AgentID:    a.ID,
			ProjectID:  req.ProjectID,
			BoardID:    b.ID,
			PromptText: ChallengerPrompt(b, lens),
		}
		if err := s.store.CreateJob(j); err != nil {
			return b, jobs, fmt.Errorf("enqueue challenger %s: %w", a.Name, err)
		}
		jobs = append(jobs, j)
	}

	s.log.Infow("board created", "board", b.ID, "options", len(b.Options), "challengers", len(jobs))
	return b, jobs, nil
}

func lensFor(c Challenger, a *models.Agent, i int) string {
	if p := strings.TrimSpace(c.Perspective); p != "" {
		return p
	}
	if a.Role != "" {
		return a.Role
	}
	return defaultLenses[i%len(defaultLenses)]
}

// ChallengerPrompt renders the evaluation brief for one lens. Every
// challenger sees the same decision and options.
func ChallengerPrompt(b *models.ChallengeBoard, lens string) string {
	var sb strings.Builder
	sb.WriteString("## Decision under challenge\n")
	sb.WriteString(b.DecisionTitle)
	sb.WriteString("\n")
	if b.DecisionContext != "" {
		sb.WriteString("\n")
		sb.WriteString(b.DecisionContext)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Options\n")
	for _, o := range b.Options {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", o.Label, o.Summary))
	}

	sb.WriteString("\n## Your lens\n")
	sb.WriteString(fmt.Sprintf("Evaluate every option strictly from the %s perspective. ", lens))
	sb.WriteString("Pick the single option you recommend and argue for it. ")
	sb.WriteString("Flag the risks of your own recommendation honestly.\n")

	sb.WriteString("\n## Output format\n")
	sb.WriteString("Respond with a JSON object:\n")
	sb.WriteString(fmt.Sprintf(`{"perspective": %q, "position": "<label>", "argument": "...", "risk_flags": [{"severity": "high|medium|low", "text": "..."}]}`, lens))
	sb.WriteString("\n")
	return sb.String()
}

// Get returns a board with its responses.
func (s *Service) Get(boardID string) (*models.ChallengeBoard, error) {
	b, err := s.store.GetBoard(boardID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("board %s: %w", boardID, state.ErrNotFound)
	}
	return b, nil
}

// RecordResponse appends one challenger response. It does not change the
// board's status.
func (s *Service) RecordResponse(ctx context.Context, boardID string, r models.ChallengeResponse) (*models.ChallengeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := s.store.GetBoard(boardID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, state.ErrNotFound
	}
	if b.Status == models.BoardDecided {
		return nil, state.ErrBoardDecided
	}

	r.BoardID = boardID
	r.Position = strings.ToUpper(strings.TrimSpace(r.Position))
	if err := s.store.AddResponse(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Rank folds responses into options and orders them by recommender
// count, highest first. Equal counts keep their original order. The
// input options are not modified.
func Rank(options []models.BoardOption, responses []models.ChallengeResponse) []models.BoardOption {
	ranked := make([]models.BoardOption, len(options))
	index := make(map[string]int, len(options))
	for i, o := range options {
		ranked[i] = models.BoardOption{
			Label:         o.Label,
			Summary:       o.Summary,
			RecommendedBy: []string{},
			Pros:          []string{},
			Cons:          []string{},
		}
		index[o.Label] = i
	}

	for _, r := range responses {
		i, ok := index[r.Position]
		if !ok {
			continue
		}
		opt := &ranked[i]
		opt.RecommendedBy = append(opt.RecommendedBy, r.AgentName)
		if arg := strings.TrimSpace(r.Argument); arg != "" {
			opt.Pros = append(opt.Pros, arg)
		}
		// Risks count against the responder's own choice only.
		for _, f := range r.RiskFlags {
			if strings.EqualFold(f.Severity, models.SeverityHigh) && strings.TrimSpace(f.Text) != "" {
				opt.Cons = append(opt.Cons, strings.TrimSpace(f.Text))
			}
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return len(ranked[i].RecommendedBy) > len(ranked[j].RecommendedBy)
	})
	return ranked
}

// Synthesise ranks a board's options from its responses and opens it
// for decision. Synthesising an open board re-ranks it in place.
func (s *Service) Synthesise(ctx context.Context, boardID string) (*models.ChallengeBoard, error) {
	b, _, err := s.synthesise(ctx, boardID)
	return b, err
}

// synthesise also reports whether this call moved the board out of
// deliberating; only one concurrent caller sees true.
func (s *Service) synthesise(ctx context.Context, boardID string) (*models.ChallengeBoard, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := s.store.GetBoard(boardID)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, state.ErrNotFound
	}
	if b.Status == models.BoardDecided {
		return nil, false, state.ErrBoardDecided
	}

	ranked := Rank(b.Options, b.Responses)
	opened, err := s.store.SaveSynthesis(boardID, ranked)
	if err != nil {
		return nil, false, err
	}
	b.Options = ranked
	b.Status = models.BoardOpen

	s.log.Infow("board synthesised", "board", boardID, "responses", len(b.Responses), "leader", ranked[0].Label, "opened", opened)
	return b, opened, nil
}

// Decide records the human decision. decision must be one of the
// board's option labels.
func (s *Service) Decide(ctx context.Context, boardID, decision, rationale string) (*models.ChallengeBoard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := s.store.GetBoard(boardID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, state.ErrNotFound
	}
	label := strings.ToUpper(strings.TrimSpace(decision))
	if b.Option(label) == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, decision)
	}
	if err := s.store.DecideBoard(boardID, label, rationale); err != nil {
		return nil, err
	}
	return s.store.GetBoard(boardID)
}

// ChallengersSettled reports whether every challenger job of a board has
// reached a terminal status.
func (s *Service) ChallengersSettled(boardID string) (bool, error) {
	jobs, err := s.store.ListJobs(state.JobFilter{BoardID: boardID})
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}
	for _, j := range jobs {
		if !j.Status.Terminal() {
			return false, nil
		}
	}
	return true, nil
}
