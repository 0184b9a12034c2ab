package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestBindAndLookup(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-1", "alice")

	name, ok := r.Lookup("conn-1")
	if !ok {
		t.Fatal("expected binding for conn-1")
	}
	if name != "alice" {
		t.Errorf("expected 'alice', got %q", name)
	}
}

func TestBindIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-1", "alice")
	r.Bind("conn-1", "alice")

	if r.Count() != 1 {
		t.Fatalf("expected 1 registry entry after double bind, got %d", r.Count())
	}
	name, _ := r.Lookup("conn-1")
	if name != "alice" {
		t.Errorf("expected 'alice', got %q", name)
	}
}

func TestRebindLastWriteWins(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-1", "alice")
	r.Bind("conn-1", "alicia")

	name, _ := r.Lookup("conn-1")
	if name != "alicia" {
		t.Errorf("expected last write 'alicia', got %q", name)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 registry entry, got %d", r.Count())
	}
}

func TestSharedDisplayName(t *testing.T) {
	r := NewRegistry()

	// Multiple connections may share a display name.
	r.Bind("conn-1", "alice")
	r.Bind("conn-2", "alice")

	if r.Count() != 2 {
		t.Fatalf("expected 2 registry entries, got %d", r.Count())
	}
}

func TestUnbind(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-1", "alice")
	r.Unbind("conn-1")

	if _, ok := r.Lookup("conn-1"); ok {
		t.Fatal("expected no binding after unbind")
	}

	// Unbinding an unknown connection must not panic.
	r.Unbind("does-not-exist")
}

func TestConcurrentBindings(t *testing.T) {
	r := NewRegistry()
	goroutines := 50

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", id)
			r.Bind(connID, fmt.Sprintf("user-%d", id))
			_, _ = r.Lookup(connID)
			if id%2 == 0 {
				r.Unbind(connID)
			}
		}(g)
	}

	wg.Wait()

	if r.Count() != goroutines/2 {
		t.Fatalf("expected %d bindings, got %d", goroutines/2, r.Count())
	}
}
