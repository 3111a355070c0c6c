package stamp

import (
	"testing"
	"time"
)

func TestCompareSequenceDominates(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New(1, now, Add)
	b := New(2, now, Add)
	if Compare(a, b) >= 0 {
		t.Fatalf("Compare(seq 1, seq 2) = %d, want < 0", Compare(a, b))
	}
}

func TestCompareTimestampTiebreak(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New(5, now, Add)
	b := New(5, now.Add(time.Second), Add)
	if Compare(a, b) >= 0 {
		t.Fatalf("Compare(earlier, later) = %d, want < 0", Compare(a, b))
	}
}

func TestCompareDeleteDominatesAddAtEqualStamp(t *testing.T) {
	t.Parallel()
	now := time.Now()
	add := New(3, now, Add)
	del := New(3, now, Delete)
	if !GreaterThan(del, add) {
		t.Fatalf("expected Delete to dominate Add at identical (seq, ts)")
	}
	if Compare(add, del) >= 0 {
		t.Fatalf("Compare(add, delete) = %d, want < 0", Compare(add, del))
	}
}

func TestCompareEqualStampsEqual(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New(9, now, Add)
	b := New(9, now, Add)
	if Compare(a, b) != 0 {
		t.Fatalf("Compare(a, a) = %d, want 0", Compare(a, b))
	}
}
