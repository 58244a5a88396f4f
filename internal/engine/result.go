package engine

import (
	"encoding/json"
	"errors"
	"strings"
)

// lineResult is the final stdout line of an engine. Both the native
// {ok,result,error} shape and the claude CLI's json output are accepted.
type lineResult struct {
	OK      *bool   `json:"ok"`
	Result  *string `json:"result"`
	Error   string  `json:"error"`
	IsError *bool   `json:"is_error"`
	Type    string  `json:"type"`
	Subtype string  `json:"subtype"`
}

// ParsedLine is a decoded result line.
type ParsedLine struct {
	OK     bool
	Result string
	Error  string
}

var errNoResultLine = errors.New("no result line in engine output")

// lastLine returns the last non-empty line of out.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimRight(out, "\r\n\t "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// ParseResultLine decodes the last non-empty line of stdout.
func ParseResultLine(stdout string) (ParsedLine, error) {
	line := lastLine(stdout)
	if line == "" {
		return ParsedLine{}, errNoResultLine
	}
	var lr lineResult
	if err := json.Unmarshal([]byte(line), &lr); err != nil {
		return ParsedLine{}, err
	}

	var p ParsedLine
	if lr.Result != nil {
		p.Result = *lr.Result
	}
	p.Error = lr.Error
	switch {
	case lr.OK != nil:
		p.OK = *lr.OK
	case lr.IsError != nil:
		p.OK = !*lr.IsError
		if !p.OK && p.Error == "" {
			p.Error = p.Result
			if p.Error == "" {
				p.Error = lr.Subtype
			}
		}
	case lr.Type == "result":
		p.OK = lr.Subtype == "" || lr.Subtype == "success"
	default:
		return ParsedLine{}, errors.New(`result line has neither "ok" nor "is_error"`)
	}
	return p, nil
}
