package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" {
		t.Fatal("Get() = empty, want a version")
	}
	if strings.ContainsAny(v, " \n\t") {
		t.Errorf("Get() = %q, want trimmed", v)
	}
	if got := UserAgent(); got != "mission-control/"+v {
		t.Errorf("UserAgent() = %q, want mission-control/%s", got, v)
	}
}
