package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// CreateBoard persists a new challenge board.
func (db *DB) CreateBoard(b *models.ChallengeBoard) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = models.BoardDeliberating
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	options, err := json.Marshal(b.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO challenge_boards (id, decision_title, decision_context, options, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.DecisionTitle, b.DecisionContext, string(options), string(b.Status), formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	return nil
}

// GetBoard retrieves a board with its responses. Returns nil, nil if not
// found.
func (db *DB) GetBoard(id string) (*models.ChallengeBoard, error) {
	var (
		b               models.ChallengeBoard
		options, status string
		createdAt       string
		decidedAt       sql.NullString
	)
	err := db.conn.QueryRow(`
		SELECT id, decision_title, decision_context, options, status, final_decision,
			rationale, created_at, decided_at
		FROM challenge_boards WHERE id = ?`, id,
	).Scan(&b.ID, &b.DecisionTitle, &b.DecisionContext, &options, &status,
		&b.FinalDecision, &b.Rationale, &createdAt, &decidedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get board: %w", err)
	}

	b.Status = models.BoardStatus(status)
	if err := json.Unmarshal([]byte(options), &b.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	b.DecidedAt = parseNullableTime(decidedAt)

	if b.Responses, err = db.ListResponses(id); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBoards returns boards newest first, without responses.
func (db *DB) ListBoards() ([]models.ChallengeBoard, error) {
	rows, err := db.conn.Query(`
		SELECT id, decision_title, status, final_decision, created_at
		FROM challenge_boards ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	var boards []models.ChallengeBoard
	for rows.Next() {
		var b models.ChallengeBoard
		var status, createdAt string
		if err := rows.Scan(&b.ID, &b.DecisionTitle, &status, &b.FinalDecision, &createdAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		b.Status = models.BoardStatus(status)
		b.CreatedAt, _ = parseTime(createdAt)
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// AddResponse appends a challenger response. Board status is untouched.
func (db *DB) AddResponse(r *models.ChallengeResponse) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	flags := []byte("[]")
	if len(r.RiskFlags) > 0 {
		var err error
		if flags, err = json.Marshal(r.RiskFlags); err != nil {
			return fmt.Errorf("marshal risk flags: %w", err)
		}
	}
	_, err := db.conn.Exec(`
		INSERT INTO challenge_responses (id, board_id, agent_name, perspective, position, argument, risk_flags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BoardID, r.AgentName, r.Perspective, r.Position, r.Argument, string(flags), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add response: %w", err)
	}
	return nil
}

// ListResponses returns a board's responses in arrival order.
func (db *DB) ListResponses(boardID string) ([]models.ChallengeResponse, error) {
	rows, err := db.conn.Query(`
		SELECT id, board_id, agent_name, perspective, position, argument, risk_flags, created_at
		FROM challenge_responses WHERE board_id = ? ORDER BY created_at ASC, rowid ASC`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []models.ChallengeResponse
	for rows.Next() {
		var r models.ChallengeResponse
		var flags, createdAt string
		if err := rows.Scan(&r.ID, &r.BoardID, &r.AgentName, &r.Perspective, &r.Position,
			&r.Argument, &flags, &createdAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &r.RiskFlags); err != nil {
			return nil, fmt.Errorf("unmarshal risk flags: %w", err)
		}
		r.CreatedAt, _ = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveSynthesis stores ranked options and moves the board to open. It
// reports whether this call made the deliberating -> open transition;
// re-ranking a board that is already open returns false. A decided board
// is never rewritten.
func (db *DB) SaveSynthesis(boardID string, options []models.BoardOption) (bool, error) {
	raw, err := json.Marshal(options)
	if err != nil {
		return false, fmt.Errorf("marshal options: %w", err)
	}
	res, err := db.conn.Exec(`
		UPDATE challenge_boards SET options = ?, status = ?
		WHERE id = ? AND status = ?`,
		string(raw), string(models.BoardOpen), boardID, string(models.BoardDeliberating),
	)
	if err != nil {
		return false, fmt.Errorf("save synthesis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	res, err = db.conn.Exec(`
		UPDATE challenge_boards SET options = ?
		WHERE id = ? AND status = ?`,
		string(raw), boardID, string(models.BoardOpen),
	)
	if err != nil {
		return false, fmt.Errorf("save synthesis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, db.boardMissingOrDecided(boardID)
	}
	return false, nil
}

// DecideBoard records the human decision. It is irreversible.
func (db *DB) DecideBoard(boardID, decision, rationale string) error {
	res, err := db.conn.Exec(`
		UPDATE challenge_boards SET status = ?, final_decision = ?, rationale = ?, decided_at = ?
		WHERE id = ? AND status != ?`,
		string(models.BoardDecided), decision, rationale, formatTime(now()),
		boardID, string(models.BoardDecided),
	)
	if err != nil {
		return fmt.Errorf("decide board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.boardMissingOrDecided(boardID)
	}
	return nil
}

func (db *DB) boardMissingOrDecided(boardID string) error {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM challenge_boards WHERE id = ?`, boardID).Scan(&n); err != nil {
		return fmt.Errorf("lookup board: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrBoardDecided
}
