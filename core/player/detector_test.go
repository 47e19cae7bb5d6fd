package player

import "testing"

func TestDetectorFiresOnceAtEnd(t *testing.T) {
	d := NewCompletionDetector(4)
	fired := 0
	for _, pos := range []int{117, 118, 119, 120} {
		if d.Observe(pos, 120) {
			fired++
		}
	}
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
}

func TestDetectorPositionTolerance(t *testing.T) {
	d := NewCompletionDetector(4)
	if d.Observe(118, 120) {
		t.Error("118 of 120 is not complete")
	}
	if !d.Observe(119, 120) {
		t.Error("119 of 120 is within one second of the end")
	}
}

func TestDetectorStuckNearEnd(t *testing.T) {
	d := NewCompletionDetector(4)
	for i := 0; i < 5; i++ {
		if d.Observe(118, 120) {
			t.Fatalf("fired early on poll %d", i)
		}
	}
	if !d.Observe(118, 120) {
		t.Error("sixth unchanged poll within two seconds should complete")
	}
}

func TestDetectorStuckFarFromEnd(t *testing.T) {
	d := NewCompletionDetector(4)
	for i := 0; i < 20; i++ {
		if d.Observe(60, 120) {
			t.Fatal("a paused-looking position mid-track must not complete")
		}
	}
}

func TestDetectorZeroDuration(t *testing.T) {
	d := NewCompletionDetector(4)
	for i := 0; i < 5; i++ {
		if d.Observe(0, 0) {
			t.Fatalf("sub-second track completed on poll %d, before it could stall", i)
		}
	}
	if !d.Observe(0, 0) {
		t.Fatal("a drained sub-second track must complete once the position stalls")
	}
	for i := 0; i < 10; i++ {
		if d.Observe(0, 0) {
			t.Fatal("must not fire twice")
		}
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewCompletionDetector(0)
	if !d.Observe(9, 10) {
		t.Fatal("expected completion")
	}
	if d.Observe(10, 10) {
		t.Fatal("must not fire twice")
	}
	d.Reset()
	if d.Observe(3, 10) {
		t.Fatal("new track start")
	}
	if !d.Observe(9, 10) {
		t.Error("should fire again after Reset")
	}
}
