package desk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/directline-io/directline/internal/consultation"
	"github.com/directline-io/directline/internal/notify"
	"github.com/directline-io/directline/pkg/protocol"
)

// Get returns one consultation if the viewer may see it.
func (d *Desk) Get(ctx context.Context, viewer protocol.Identity, id string) (*protocol.Consultation, error) {
	c, err := d.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("desk: get: %w", err)
	}
	if !canView(viewer, c) {
		return nil, fmt.Errorf("desk: get %s: %w", id, ErrForbidden)
	}
	return c, nil
}

// Queue lists open consultations that are in no workspace, newest first:
// those never claimed and those released by their last holder.
func (d *Desk) Queue(ctx context.Context) ([]*protocol.Consultation, error) {
	all, err := d.store.List(consultation.Filter{
		Statuses: []protocol.Status{protocol.StatusPendingClassification, protocol.StatusAwaitingClaim, protocol.StatusClaimed},
	})
	if err != nil {
		return nil, fmt.Errorf("desk: queue: %w", err)
	}
	out := all[:0]
	for _, c := range all {
		if c.Status == protocol.StatusClaimed && len(d.tracker.Holders(c.ID)) > 0 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Workspace resolves the agent's claimed set, most recently claimed first.
func (d *Desk) Workspace(ctx context.Context, agent protocol.Identity) ([]*protocol.Consultation, error) {
	if err := requireStaff(agent); err != nil {
		return nil, fmt.Errorf("desk: workspace: %w", err)
	}
	entries := d.tracker.List(agent.ID)
	out := make([]*protocol.Consultation, 0, len(entries))
	for _, e := range entries {
		c, err := d.store.Get(e.ConsultationID)
		if errors.Is(err, consultation.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("desk: workspace: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// History lists every consultation the viewer may see, closed ones
// included, newest first.
func (d *Desk) History(ctx context.Context, viewer protocol.Identity) ([]*protocol.Consultation, error) {
	var f consultation.Filter
	if !viewer.IsStaff() {
		f.ClientID = viewer.ID
	}
	out, err := d.store.List(f)
	if err != nil {
		return nil, fmt.Errorf("desk: history: %w", err)
	}
	return out, nil
}

// AgentScore is one agent's average rating.
type AgentScore struct {
	AgentID string          `json:"agent_id"`
	Name    string          `json:"name"`
	Rated   int             `json:"rated"`
	Average decimal.Decimal `json:"average"`
}

// PerformanceReport summarises rated, closed consultations.
type PerformanceReport struct {
	Consultations []*protocol.Consultation `json:"consultations"`
	Agents        []AgentScore             `json:"agents"`
	Average       decimal.Decimal          `json:"average"`
}

// Performance lists rated, closed consultations newest first with per-agent
// averages rounded to two places.
func (d *Desk) Performance(ctx context.Context) (*PerformanceReport, error) {
	rated, err := d.store.List(consultation.Filter{
		Statuses:  []protocol.Status{protocol.StatusClosed},
		RatedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("desk: performance: %w", err)
	}

	type acc struct {
		name  string
		sum   decimal.Decimal
		count int
	}
	byAgent := make(map[string]*acc)
	total := decimal.Zero
	for _, c := range rated {
		r := decimal.NewFromInt(int64(c.Feedback.Rating))
		total = total.Add(r)
		if c.Agent == nil {
			continue
		}
		a, ok := byAgent[c.Agent.ID]
		if !ok {
			a = &acc{name: c.Agent.Name, sum: decimal.Zero}
			byAgent[c.Agent.ID] = a
		}
		a.sum = a.sum.Add(r)
		a.count++
	}

	report := &PerformanceReport{Consultations: rated, Agents: []AgentScore{}, Average: decimal.Zero}
	if rated == nil {
		report.Consultations = []*protocol.Consultation{}
	}
	if len(rated) > 0 {
		report.Average = total.Div(decimal.NewFromInt(int64(len(rated)))).Round(2)
	}
	for id, a := range byAgent {
		report.Agents = append(report.Agents, AgentScore{
			AgentID: id,
			Name:    a.name,
			Rated:   a.count,
			Average: a.sum.Div(decimal.NewFromInt(int64(a.count))).Round(2),
		})
	}
	sort.Slice(report.Agents, func(i, j int) bool { return report.Agents[i].AgentID < report.Agents[j].AgentID })
	return report, nil
}

// NotifyStale alerts staff about queued consultations older than threshold
// and returns how many were found.
func (d *Desk) NotifyStale(ctx context.Context, threshold time.Duration) (int, error) {
	queue, err := d.Queue(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := d.now().Add(-threshold)
	var stale []*protocol.Consultation
	for _, c := range queue {
		if c.CreatedAt.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	oldest := stale[len(stale)-1]
	text := fmt.Sprintf("%d consultation(s) waiting longer than %s. Oldest: %s (%s, opened %s).",
		len(stale), threshold, oldest.ID, oldest.Category, oldest.CreatedAt.Format(time.RFC3339))
	level := notify.LevelInfo
	for _, c := range stale {
		if c.Category == protocol.CategoryCritical {
			level = notify.LevelUrgent
			break
		}
	}
	if err := d.notifier.Notify(ctx, notify.Alert{Level: level, Title: "Queue digest", Text: text}); err != nil {
		return len(stale), fmt.Errorf("desk: queue digest: %w", err)
	}
	return len(stale), nil
}
