package resource

import (
	"testing"

	"go.uber.org/zap"
)

func TestSlotPoolReserveAndRelease(t *testing.T) {
	p := NewSlotPool(2, zap.NewNop())

	if !p.Reserve("a") {
		t.Fatal("first reserve failed")
	}
	if !p.Reserve("b") {
		t.Fatal("second reserve failed")
	}
	if p.Reserve("c") {
		t.Fatal("reserve succeeded past pool size")
	}

	p.Release("a")
	if !p.Reserve("c") {
		t.Fatal("reserve failed after release")
	}
}

func TestSlotPoolDuplicateReserve(t *testing.T) {
	p := NewSlotPool(1, zap.NewNop())

	if !p.Reserve("a") {
		t.Fatal("reserve failed")
	}
	if !p.Reserve("a") {
		t.Fatal("duplicate reserve for same task should hold the existing slot")
	}
	if p.Available() != 0 {
		t.Fatalf("available = %d, want 0", p.Available())
	}

	p.Release("a")
	if p.Available() != 1 {
		t.Fatalf("available = %d after release, want 1", p.Available())
	}
}

func TestSlotPoolReleaseUnknown(t *testing.T) {
	p := NewSlotPool(1, zap.NewNop())
	p.Release("ghost")
	if p.Available() != 1 {
		t.Fatalf("available = %d, want 1", p.Available())
	}
}

func TestSlotPoolDefaultSize(t *testing.T) {
	p := NewSlotPool(0, zap.NewNop())
	if p.Available() != 10 {
		t.Fatalf("available = %d, want 10", p.Available())
	}
}
