// ABOUTME: Tests for the streaming SRC engine wrapper
package resample

import "testing"

func TestProcessUnityRatioPreservesFrameCountApproximately(t *testing.T) {
	e, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	frames := 480
	input := make([]float32, frames*2)

	out, err := e.Process(input, 1.0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	gotFrames := e.OutputFrames(out)
	if gotFrames < frames-2 || gotFrames > frames+2 {
		t.Errorf("expected output frames close to %d at unity ratio, got %d", frames, gotFrames)
	}
}

func TestProcessPeriodChangeReallocatesScratch(t *testing.T) {
	e, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Process(make([]float32, 480*2), 1.0); err != nil {
		t.Fatalf("Process first period: %v", err)
	}
	if e.scratchFrames != 480 {
		t.Fatalf("expected scratchFrames 480, got %d", e.scratchFrames)
	}

	if _, err := e.Process(make([]float32, 256*2), 1.0); err != nil {
		t.Fatalf("Process second period: %v", err)
	}
	if e.scratchFrames != 256 {
		t.Fatalf("expected scratchFrames reallocated to 256, got %d", e.scratchFrames)
	}
}

func TestResetDoesNotError(t *testing.T) {
	e, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Process(make([]float32, 128), 1.0); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}
