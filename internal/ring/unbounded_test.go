// ABOUTME: Tests for the growable SPSC ring buffer
// ABOUTME: Covers growth, nil-src zero-fill, and nil-dst discard (slew) paths
package ring

import "testing"

func TestUnboundedAppendConsumeFIFO(t *testing.T) {
	u := NewUnbounded[float32](2)

	u.Append([]float32{1, 2, 3}, 3)
	if u.Count() != 3 {
		t.Fatalf("expected count 3, got %d", u.Count())
	}

	dst := make([]float32, 3)
	n := u.Consume(dst, 3)
	if n != 3 || dst[0] != 1 || dst[1] != 2 || dst[2] != 3 {
		t.Fatalf("expected FIFO [1,2,3], got %v (n=%d)", dst, n)
	}
}

func TestUnboundedGrowsBeyondInitialCapacity(t *testing.T) {
	u := NewUnbounded[int](2)

	src := make([]int, 100)
	for i := range src {
		src[i] = i
	}
	u.Append(src, len(src))

	if u.Count() != 100 {
		t.Fatalf("expected count 100 after growth, got %d", u.Count())
	}

	dst := make([]int, 100)
	n := u.Consume(dst, 100)
	if n != 100 {
		t.Fatalf("expected to consume 100, got %d", n)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("order mismatch at %d: want %d, got %d", i, src[i], dst[i])
		}
	}
}

func TestUnboundedNilSrcAppendsZeroes(t *testing.T) {
	u := NewUnbounded[float32](4)
	u.Append([]float32{9, 9}, 2)
	u.Append(nil, 3) // slew: append silence

	dst := make([]float32, 5)
	u.Consume(dst, 5)

	want := []float32{9, 9, 0, 0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("index %d: want %v, got %v", i, want[i], dst[i])
		}
	}
}

func TestUnboundedNilDstDiscards(t *testing.T) {
	u := NewUnbounded[int](4)
	u.Append([]int{1, 2, 3, 4}, 4)

	n := u.Consume(nil, 2) // slew: discard
	if n != 2 {
		t.Fatalf("expected 2 discarded, got %d", n)
	}
	if u.Count() != 2 {
		t.Fatalf("expected 2 remaining, got %d", u.Count())
	}

	dst := make([]int, 2)
	u.Consume(dst, 2)
	if dst[0] != 3 || dst[1] != 4 {
		t.Fatalf("expected remaining [3,4], got %v", dst)
	}
}

func TestUnboundedConsumeMoreThanAvailable(t *testing.T) {
	u := NewUnbounded[int](4)
	u.Append([]int{1, 2}, 2)

	dst := make([]int, 10)
	n := u.Consume(dst, 10)
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}
