// Package sequence includes tests for the request id generator.
package sequence

import (
	"sync"
	"testing"
	"time"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1_700_000_000_123)
	gen := NewWithClock(func() time.Time { return fixed })

	if got := gen.NewID(); got != "req-1700000000123-1" {
		t.Fatalf("NewID() = %q", got)
	}
	if got := gen.NewID(); got != "req-1700000000123-2" {
		t.Fatalf("NewID() = %q", got)
	}
}

func TestGeneratorUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	gen := New()
	const workers, perWorker = 8, 50

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id := gen.NewID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}

func TestChild(t *testing.T) {
	t.Parallel()

	if got := Child("req-1-1", 3); got != "req-1-1-scheduled-3" {
		t.Fatalf("Child() = %q", got)
	}
}
