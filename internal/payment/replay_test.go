package payment

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryGuardSingleUse(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	inserted, err := guard.CompareAndInsert(ctx, "0xABC123")
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to succeed")
	}

	// Same hash with different casing must be rejected.
	inserted, err = guard.CompareAndInsert(ctx, "0xabc123")
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("expected replayed hash to be rejected")
	}
}

func TestMemoryGuardRejectsEmptyHash(t *testing.T) {
	guard := NewMemoryGuard()
	if _, err := guard.CompareAndInsert(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty hash")
	}
}

func TestMemoryGuardConcurrentInsert(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := guard.CompareAndInsert(ctx, "0xdeadbeef")
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for inserted := range results {
		if inserted {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
