package util

import (
	"testing"
	"time"
)

func TestJitterBounds(t *testing.T) {
	max := 15 * time.Second
	for i := 0; i < 1000; i++ {
		d := Jitter(max)
		if d < 0 || d >= max {
			t.Fatalf("Jitter out of range: %v", d)
		}
	}
}

func TestJitterZeroMax(t *testing.T) {
	if d := Jitter(0); d != 0 {
		t.Errorf("Jitter(0) = %v, want 0", d)
	}
	if d := Jitter(-time.Second); d != 0 {
		t.Errorf("Jitter(-1s) = %v, want 0", d)
	}
}
