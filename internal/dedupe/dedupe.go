// Package dedupe suppresses repeated submissions inside a short window.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Guard remembers a value under a key for a limited time.
type Guard interface {
	// Claim stores value under key unless the key is already held. It returns
	// the value already stored, or "" when this call took the key.
	Claim(ctx context.Context, key, value string, ttl time.Duration) (string, error)
}

// Key derives a guard key from an owner and submitted text.
// Whitespace and case differences are ignored.
func Key(owner, text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return "intake:" + owner + ":" + hex.EncodeToString(sum[:12])
}

type memEntry struct {
	value   string
	expires time.Time
}

// Memory is an in-process Guard.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory creates an in-process guard.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) Claim(_ context.Context, key, value string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if e, ok := m.entries[key]; ok {
		return e.value, nil
	}
	m.entries[key] = memEntry{value: value, expires: now.Add(ttl)}
	return "", nil
}

// Nop never reports a duplicate.
type Nop struct{}

func (Nop) Claim(context.Context, string, string, time.Duration) (string, error) { return "", nil }
