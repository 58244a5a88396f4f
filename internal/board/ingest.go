package board

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// maxArgumentLen bounds the argument stored for unparseable output.
const maxArgumentLen = 1000

type challengerPayload struct {
	Perspective string            `json:"perspective"`
	Position    string            `json:"position"`
	Argument    string            `json:"argument"`
	RiskFlags   []models.RiskFlag `json:"risk_flags"`
}

// ParseChallengerOutput extracts a response from a challenger's output.
// ok is false when no JSON object could be decoded; the returned
// response then abstains (empty position) and carries the raw text as
// its argument so a human can still read it.
func ParseChallengerOutput(text string) (resp models.ChallengeResponse, ok bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		var p challengerPayload
		if err := json.Unmarshal([]byte(text[start:end+1]), &p); err == nil {
			return models.ChallengeResponse{
				Perspective: strings.TrimSpace(p.Perspective),
				Position:    strings.ToUpper(strings.TrimSpace(p.Position)),
				Argument:    strings.TrimSpace(p.Argument),
				RiskFlags:   p.RiskFlags,
			}, true
		}
	}

	raw := strings.TrimSpace(text)
	if len(raw) > maxArgumentLen {
		n := maxArgumentLen
		for n > 0 && !utf8.RuneStart(raw[n]) {
			n--
		}
		raw = raw[:n] + "..."
	}
	return models.ChallengeResponse{Argument: raw}, false
}

// IngestChallenger records the outcome of a finished challenger job and
// synthesises the board once every challenger job is terminal. A failed
// or paused job records nothing but still counts toward the fan-in. It
// reports whether this call opened the board.
func (s *Service) IngestChallenger(ctx context.Context, job *models.Job, agentName, output string, succeeded bool) (bool, error) {
	if job.BoardID == "" {
		return false, nil
	}
	if succeeded {
		resp, ok := ParseChallengerOutput(output)
		if !ok {
			s.log.Warnw("challenger output not parseable, recording abstention", "job", job.ID, "board", job.BoardID)
		}
		resp.AgentName = agentName
		if _, err := s.RecordResponse(ctx, job.BoardID, resp); err != nil {
			return false, err
		}
	}

	settled, err := s.ChallengersSettled(job.BoardID)
	if err != nil || !settled {
		return false, err
	}
	b, err := s.store.GetBoard(job.BoardID)
	if err != nil || b == nil {
		return false, err
	}
	switch b.Status {
	case models.BoardDeliberating:
		_, opened, err := s.synthesise(ctx, job.BoardID)
		return opened, err
	case models.BoardOpen:
		// A response that arrives after opening re-ranks in place.
		if succeeded {
			_, _, err = s.synthesise(ctx, job.BoardID)
		}
		return false, err
	}
	return false, nil
}
