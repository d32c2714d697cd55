// Package oauth implements social sign-in (Google, GitHub) with the
// authorization code + PKCE flow. It owns no user records: provider
// identities resolve to local accounts through the auth plugin's
// repository, and successful callbacks mint ordinary sessions.
package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// stateTTL bounds how long a sign-in attempt may sit between redirect and
// callback before the state is discarded.
const stateTTL = 10 * time.Minute

// stateEntry holds the per-attempt secrets: which provider the user was
// sent to and the PKCE verifier that must accompany the code exchange.
type stateEntry struct {
	Provider string
	Verifier string
	timer    *time.Timer
}

// StateStore correlates an OAuth callback with the sign-in attempt that
// started it. Entries are single-use and expire on their own: each Put
// schedules its own deletion, so there is no background sweeper. The store
// is per-process; a multi-instance deployment needs sticky routing on the
// two OAuth endpoints.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]*stateEntry
	ttl     time.Duration
}

// NewStateStore creates an empty state store with the default TTL.
func NewStateStore() *StateStore {
	return &StateStore{
		entries: make(map[string]*stateEntry),
		ttl:     stateTTL,
	}
}

// Put generates a fresh random state, stores the provider and verifier
// under it, and returns the state for the authorization URL.
func (s *StateStore) Put(provider, verifier string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &stateEntry{Provider: provider, Verifier: verifier}
	entry.timer = time.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only remove if this exact entry is still present; the state may
		// have been consumed and the key theoretically reissued.
		if cur, ok := s.entries[state]; ok && cur == entry {
			delete(s.entries, state)
		}
	})
	s.entries[state] = entry

	return state, nil
}

// Retrieve consumes the entry for a state. The second return is false when
// the state is unknown, already used, or expired; callers treat all three
// identically and restart the sign-in.
func (s *StateStore) Retrieve(state string) (provider, verifier string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.entries[state]
	if !found {
		return "", "", false
	}
	delete(s.entries, state)
	entry.timer.Stop()

	return entry.Provider, entry.Verifier, true
}

// Len reports the number of pending sign-in attempts.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
