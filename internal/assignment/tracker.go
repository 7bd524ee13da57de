// Package assignment tracks which consultations each support agent is
// actively working, bounded by a per-agent limit.
package assignment

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultLimit is the number of consultations an agent may hold at once.
const DefaultLimit = 3

// ErrCapacityExceeded is returned by Claim when the agent's set is full.
// The set is left unchanged; nothing is evicted.
var ErrCapacityExceeded = errors.New("assignment: capacity exceeded")

// Entry is one claimed consultation.
type Entry struct {
	ConsultationID string    `json:"consultation_id"`
	ClaimedAt      time.Time `json:"claimed_at"`
}

// Tracker holds the per-agent claim sets.
type Tracker struct {
	mu     sync.Mutex
	limit  int
	sets   map[string][]Entry // agent_id → entries, oldest claim first
	now    func() time.Time
	logger *slog.Logger
}

// New creates a tracker. A limit <= 0 uses DefaultLimit.
func New(limit int, logger *slog.Logger) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		limit:  limit,
		sets:   make(map[string][]Entry),
		now:    time.Now,
		logger: logger,
	}
}

// Limit returns the per-agent cap.
func (t *Tracker) Limit() int { return t.limit }

// Claim adds the consultation to the agent's set. Claiming an id already in
// the set is a no-op.
func (t *Tracker) Claim(agentID, consultationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.sets[agentID]
	for _, e := range set {
		if e.ConsultationID == consultationID {
			return nil
		}
	}
	if len(set) >= t.limit {
		t.logger.Warn("claim rejected", "agent", agentID, "consultation", consultationID, "held", len(set), "limit", t.limit)
		return fmt.Errorf("agent %s holds %d of %d: %w", agentID, len(set), t.limit, ErrCapacityExceeded)
	}
	t.sets[agentID] = append(set, Entry{ConsultationID: consultationID, ClaimedAt: t.now()})
	t.logger.Info("consultation claimed", "agent", agentID, "consultation", consultationID, "held", len(set)+1)
	return nil
}

// Release removes the consultation from the agent's set. The reason is only logged.
func (t *Tracker) Release(agentID, consultationID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remove(agentID, consultationID) {
		t.logger.Info("consultation released", "agent", agentID, "consultation", consultationID, "reason", reason)
	}
}

// ReleaseAll removes the consultation from every agent's set and returns the
// agents that held it.
func (t *Tracker) ReleaseAll(consultationID, reason string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string
	for agentID := range t.sets {
		if t.remove(agentID, consultationID) {
			released = append(released, agentID)
			t.logger.Info("consultation released", "agent", agentID, "consultation", consultationID, "reason", reason)
		}
	}
	sort.Strings(released)
	return released
}

// ReleaseAgent empties the agent's set and returns the consultation ids it held.
func (t *Tracker) ReleaseAgent(agentID, reason string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.sets[agentID]
	delete(t.sets, agentID)
	ids := make([]string, len(set))
	for i, e := range set {
		ids[i] = e.ConsultationID
		t.logger.Info("consultation released", "agent", agentID, "consultation", e.ConsultationID, "reason", reason)
	}
	return ids
}

// Holds reports whether the agent has the consultation in its set.
func (t *Tracker) Holds(agentID, consultationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.sets[agentID] {
		if e.ConsultationID == consultationID {
			return true
		}
	}
	return false
}

// Holders returns the agents whose sets contain the consultation.
func (t *Tracker) Holders(consultationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for agentID, set := range t.sets {
		for _, e := range set {
			if e.ConsultationID == consultationID {
				out = append(out, agentID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// List returns the agent's set, most recently claimed first.
func (t *Tracker) List(agentID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.sets[agentID]
	out := make([]Entry, len(set))
	for i, e := range set {
		out[len(set)-1-i] = e
	}
	return out
}

// caller holds mu
func (t *Tracker) remove(agentID, consultationID string) bool {
	set := t.sets[agentID]
	for i, e := range set {
		if e.ConsultationID != consultationID {
			continue
		}
		set = append(set[:i:i], set[i+1:]...)
		if len(set) == 0 {
			delete(t.sets, agentID)
		} else {
			t.sets[agentID] = set
		}
		return true
	}
	return false
}
