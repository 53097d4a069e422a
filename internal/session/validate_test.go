package session

import (
	"strings"
	"testing"
)

func TestValidateNameAccepts(t *testing.T) {
	for _, name := range []string{
		"main",
		"work123",
		"2nd",
		"my-session",
		"my_session",
		"a",
		strings.Repeat("a", 64),
	} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v", name, err)
		}
	}
}

func TestValidateNameRejects(t *testing.T) {
	for _, name := range []string{
		"",
		"Main",
		"my session",
		"my.session",
		"my@session",
		"my/session",
		"../etc",
		"-session",
		"_tmp",
		strings.Repeat("a", 65),
	} {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) accepted", name)
		}
	}
}
