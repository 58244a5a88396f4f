package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

type createBoardResponse struct {
	Board *models.ChallengeBoard `json:"board"`
	Jobs  []*models.Job          `json:"jobs"`
}

// DecideRequest is the body of POST /api/boards/{id}/decide.
type DecideRequest struct {
	Decision  string `json:"decision" validate:"required"`
	Rationale string `json:"rationale"`
}

// ResponseRequest is the body of POST /api/boards/{id}/responses.
type ResponseRequest struct {
	AgentName   string            `json:"agent_name" validate:"required"`
	Perspective string            `json:"perspective"`
	Position    string            `json:"position" validate:"required"`
	Argument    string            `json:"argument"`
	RiskFlags   []models.RiskFlag `json:"risk_flags"`
}

func (s *Server) createBoard(w http.ResponseWriter, r *http.Request) {
	var req board.CreateRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, jobs, err := s.opts.Scheduler.Boards().Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, createBoardResponse{Board: b, Jobs: jobs})
}

func (s *Server) listBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.opts.Store.ListBoards()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if boards == nil {
		boards = []models.ChallengeBoard{}
	}
	render.JSON(w, r, boards)
}

func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Scheduler.Boards().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, b)
}

func (s *Server) addResponse(w http.ResponseWriter, r *http.Request) {
	var req ResponseRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.opts.Scheduler.Boards().RecordResponse(r.Context(), chi.URLParam(r, "id"), models.ChallengeResponse{
		AgentName:   req.AgentName,
		Perspective: req.Perspective,
		Position:    req.Position,
		Argument:    req.Argument,
		RiskFlags:   req.RiskFlags,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

func (s *Server) synthesise(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Scheduler.Boards().Synthesise(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, b)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.opts.Scheduler.Boards().Decide(r.Context(), chi.URLParam(r, "id"), req.Decision, req.Rationale)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, b)
}
