package validate

import (
	"strings"
	"testing"
)

type sample struct {
	Title    string `json:"title" validate:"required"`
	Priority int    `json:"priority" validate:"omitempty,min=1,max=10"`
	Type     string `json:"type" validate:"jobtype"`
	Status   string `json:"status" validate:"jobstatus"`
}

func TestStruct(t *testing.T) {
	v := New()
	tests := []struct {
		name    string
		in      sample
		wantErr string
	}{
		{"valid", sample{Title: "x", Priority: 3, Type: "task"}, ""},
		{"zero priority allowed", sample{Title: "x"}, ""},
		{"missing title", sample{}, "title: required"},
		{"priority too high", sample{Title: "x", Priority: 11}, "priority: must be <= 10"},
		{"unknown type", sample{Title: "x", Type: "meeting"}, "type: failed \"jobtype\""},
		{"unknown status", sample{Title: "x", Status: "lost"}, "status: failed \"jobstatus\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Struct() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Struct() = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
