package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"true", false, true},
		{"YES", false, true},
		{"0", true, false},
		{"off", true, false},
		{"banana", true, true},
	}
	for _, tt := range tests {
		t.Setenv("FUNNELBOT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("FUNNELBOT_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("FUNNELBOT_TEST_INT", "4096")
	if got := ParseIntEnv("FUNNELBOT_TEST_INT", 1); got != 4096 {
		t.Errorf("ParseIntEnv = %d, want 4096", got)
	}
	t.Setenv("FUNNELBOT_TEST_INT", "not-a-number")
	if got := ParseIntEnv("FUNNELBOT_TEST_INT", 7); got != 7 {
		t.Errorf("ParseIntEnv fallback = %d, want 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("FUNNELBOT_TEST_DUR", "90s")
	if got := ParseDurationEnv("FUNNELBOT_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("ParseDurationEnv = %v, want 90s", got)
	}
	t.Setenv("FUNNELBOT_TEST_DUR", "soon")
	if got := ParseDurationEnv("FUNNELBOT_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv fallback = %v, want 1m", got)
	}
}
