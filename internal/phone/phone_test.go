package phone

import "testing"

func TestValidator_Valid(t *testing.T) {
	v := NewValidator()
	cases := []struct {
		in   string
		want bool
	}{
		{"+15551234567", true},
		{"+447911123456", true},
		{"+4915112345678", true},
		{"15551234567", false},
		{"+05551234567", false},
		{"+1555", false},
		{"+1234567890123456", false},
		{"+1555abc4567", false},
		{"", false},
	}
	for _, c := range cases {
		if got := v.Valid(c.in); got != c.want {
			t.Errorf("Valid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" +1 (555) 123-45.67 "); got != "+15551234567" {
		t.Errorf("Normalize = %q", got)
	}
	if !NewValidator().Valid(Normalize("+44 7911 123456")) {
		t.Error("normalized number should be valid")
	}
}
