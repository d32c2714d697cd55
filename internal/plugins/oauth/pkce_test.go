package oauth

import (
	"sync"
	"testing"
	"time"
)

func TestStateStoreRoundTrip(t *testing.T) {
	s := NewStateStore()

	state, err := s.Put("google", "verifier-123")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(state) != 64 {
		t.Errorf("state length = %d, want 64 hex chars", len(state))
	}

	provider, verifier, ok := s.Retrieve(state)
	if !ok {
		t.Fatal("Retrieve missed a fresh state")
	}
	if provider != "google" || verifier != "verifier-123" {
		t.Errorf("got (%q, %q)", provider, verifier)
	}
}

func TestStateStoreSingleUse(t *testing.T) {
	s := NewStateStore()
	state, _ := s.Put("github", "v")

	if _, _, ok := s.Retrieve(state); !ok {
		t.Fatal("first retrieve failed")
	}
	if _, _, ok := s.Retrieve(state); ok {
		t.Error("state was retrievable twice; replay must fail")
	}
}

func TestStateStoreUnknownState(t *testing.T) {
	s := NewStateStore()
	if _, _, ok := s.Retrieve("never-issued"); ok {
		t.Error("unknown state resolved")
	}
}

func TestStateStoreExpires(t *testing.T) {
	s := NewStateStore()
	s.ttl = 10 * time.Millisecond

	state, _ := s.Put("google", "v")

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, _, ok := s.Retrieve(state); ok {
		t.Error("expired state resolved")
	}
}

func TestStateStoreStatesAreUnique(t *testing.T) {
	s := NewStateStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		state, err := s.Put("google", "v")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if seen[state] {
			t.Fatal("duplicate state issued")
		}
		seen[state] = true
	}
}

func TestStateStoreConcurrent(t *testing.T) {
	s := NewStateStore()

	var wg sync.WaitGroup
	states := make(chan string, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := s.Put("google", "v")
			if err != nil {
				t.Error(err)
				return
			}
			states <- state
		}()
	}
	wg.Wait()
	close(states)

	// Each issued state resolves exactly once even when retrieved from
	// multiple goroutines.
	var hits int64
	var mu sync.Mutex
	for state := range states {
		wg.Add(2)
		for i := 0; i < 2; i++ {
			go func(st string) {
				defer wg.Done()
				if _, _, ok := s.Retrieve(st); ok {
					mu.Lock()
					hits++
					mu.Unlock()
				}
			}(state)
		}
	}
	wg.Wait()

	if hits != 200 {
		t.Errorf("resolved %d times, want exactly 200", hits)
	}
}
