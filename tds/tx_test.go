package tds

import "testing"

func TestValidateSavepointName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"s1", true},
		{"_underscore", true},
		{"Mixed_Case_123", true},
		{"", false},
		{"1starts_with_digit", false},
		{"has space", false},
		{"has-dash", false},
		{"exactly_32_chars_long_identifierX", false}, // 33 chars
	}
	for _, c := range cases {
		err := validateSavepointName(c.name)
		if c.ok && err != nil {
			t.Errorf("validateSavepointName(%q) = %v, want nil", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("validateSavepointName(%q) = nil, want error", c.name)
		}
	}
}

func TestValidateSavepointNameMaxLength(t *testing.T) {
	name32 := "abcdefghijklmnopqrstuvwxyzABCDEF" // 32 chars
	if err := validateSavepointName(name32); err != nil {
		t.Errorf("32-char name rejected: %v", err)
	}
	if err := validateSavepointName(name32 + "x"); err == nil {
		t.Error("33-char name accepted, want rejection")
	}
}

func TestIsolationLevelSQLText(t *testing.T) {
	cases := map[IsolationLevel]string{
		IsolationReadCommitted:   "READ COMMITTED",
		IsolationReadUncommitted: "READ UNCOMMITTED",
		IsolationRepeatableRead:  "REPEATABLE READ",
		IsolationSerializable:    "SERIALIZABLE",
		IsolationSnapshot:        "SNAPSHOT",
	}
	for level, want := range cases {
		if got := level.sqlText(); got != want {
			t.Errorf("IsolationLevel(%d).sqlText() = %q, want %q", level, got, want)
		}
	}
}
