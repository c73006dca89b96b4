package mathx

import (
	"math"
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	if got := Clamp(int64(-5), 0, 419430400); got != 0 {
		t.Fatalf("low clamp = %d", got)
	}
	if got := Clamp(int64(500000000), 0, 419430400); got != 419430400 {
		t.Fatalf("high clamp = %d", got)
	}
	if got := Clamp(7, 10, 0); got != 7 {
		t.Fatalf("swapped bounds = %d", got)
	}
	if got := Clamp(50*time.Millisecond, 200*time.Millisecond, time.Hour); got != 200*time.Millisecond {
		t.Fatalf("duration clamp = %v", got)
	}
}

func TestBetween(t *testing.T) {
	if !Between(5, 10, 0) {
		t.Fatal("5 should be within [0,10]")
	}
	if Between(11.0, 0, 10) {
		t.Fatal("11 should not be within [0,10]")
	}
}

func TestQuantize(t *testing.T) {
	if got := Quantize(25.0849, 0.01); math.Abs(got-25.08) > 1e-9 {
		t.Fatalf("Quantize = %v", got)
	}
	if got := Quantize(1.23, 0); got != 1.23 {
		t.Fatalf("Quantize step 0 = %v", got)
	}
}
