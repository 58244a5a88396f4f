package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/ShayCichocki/missioncontrol/internal/actions"
	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/internal/state"
)

// errBadRequest marks client errors found while decoding or validating.
var errBadRequest = errors.New("bad request")

// ErrResponse is the body of every failed request.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	OK             bool   `json:"ok"`
	Error          string `json:"error"`
}

// Render sets the response status.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := strings.TrimPrefix(err.Error(), errBadRequest.Error()+": ")
	if code >= 500 {
		s.log.Errorw("request failed", "path", r.URL.Path, "error", err)
	}
	_ = render.Render(w, r, &ErrResponse{HTTPStatusCode: code, Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, board.ErrNoOptions),
		errors.Is(err, board.ErrNoChallengers),
		errors.Is(err, board.ErrUnknownOption),
		errors.Is(err, board.ErrUnknownAgent),
		errors.Is(err, actions.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrClaimConflict),
		errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, state.ErrBoardDecided):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !config.TokenMatches(strings.TrimSpace(presented), s.opts.Token) {
			_ = render.Render(w, r, &ErrResponse{HTTPStatusCode: http.StatusUnauthorized, Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
