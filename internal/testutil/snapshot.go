package testutil

import (
	"testing"
	"time"

	"github.com/dtroode/staffsync/internal/model"
)

// NextSnapshot waits for the next snapshot on ch or fails the test.
func NextSnapshot(t *testing.T, ch <-chan model.Snapshot) model.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

// WaitForIDs reads snapshots from ch until one carries exactly want, in order.
func WaitForIDs(t *testing.T, ch <-chan model.Snapshot, want ...int64) model.Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var last []int64
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("snapshot channel closed, last ids %v, want %v", last, want)
			}
			last = s.IDs()
			if equalIDs(last, want) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for ids %v, last %v", want, last)
		}
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
