package testfixtures

import (
	"sync"
	"testing"
)

func TestIDGenerator_Sequence(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("series")
	if first, second := gen.Next(), gen.Next(); first != "series-1" || second != "series-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if gen.Issued() != 2 {
		t.Fatalf("expected 2 issued, got %d", gen.Issued())
	}

	gen.Reset()
	if next := gen.NextFunc()(); next != "series-1" {
		t.Fatalf("expected series-1 after reset, got %q", next)
	}

	if got := NewIDGenerator("").Next(); got != "id-1" {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestIDGenerator_ConcurrentCallersGetDistinctIDs(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("job")
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 400 || gen.Issued() != 400 {
		t.Fatalf("expected 400 distinct ids, got %d (issued %d)", len(seen), gen.Issued())
	}
}
