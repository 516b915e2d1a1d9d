package app

import "testing"

func TestParseControlLine(t *testing.T) {
	frame, err := parseControlLine("0.5 -0.2 false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Throttle != 0.5 || frame.Steering != -0.2 || frame.Brake != false {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestParseControlLineRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseControlLine("0.5 -0.2"); err == nil {
		t.Error("expected an error for a missing field")
	}
}

func TestParseControlLineRejectsBadNumbers(t *testing.T) {
	cases := []string{"nope -0.2 false", "0.5 nope false", "0.5 -0.2 nope"}
	for _, line := range cases {
		if _, err := parseControlLine(line); err == nil {
			t.Errorf("expected an error for line %q", line)
		}
	}
}
