package desk

import (
	"context"
	"fmt"
	"strings"

	"github.com/directline-io/directline/internal/events"
	"github.com/directline-io/directline/pkg/protocol"
)

// Claim puts the consultation into the agent's workspace. Claiming is allowed
// while the consultation is pending classification or awaiting a claim, and
// for a claimed consultation nobody currently holds (a handover after release).
func (d *Desk) Claim(ctx context.Context, agent protocol.Identity, id string) (*protocol.Consultation, error) {
	if err := requireStaff(agent); err != nil {
		return nil, fmt.Errorf("desk: claim: %w", err)
	}

	d.mu.Lock()
	c, err := d.store.Get(id)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: claim: %w", err)
	}
	if c.Status == protocol.StatusClosed {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: claim %s: %w", id, ErrClosed)
	}
	if c.Agent != nil && c.Agent.ID != agent.ID {
		for _, holder := range d.tracker.Holders(id) {
			if holder != agent.ID {
				d.mu.Unlock()
				return nil, fmt.Errorf("desk: claim %s: %w", id, ErrAlreadyClaimed)
			}
		}
	}
	if err := d.tracker.Claim(agent.ID, id); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: claim %s: %w", id, err)
	}

	changed := c.Agent == nil || c.Agent.ID != agent.ID || c.Status != protocol.StatusClaimed
	if changed {
		a := agent
		c.Agent = &a
		c.Status = protocol.StatusClaimed
		if err := d.store.Save(c); err != nil {
			d.tracker.Release(agent.ID, id, "claim not persisted")
			d.mu.Unlock()
			return nil, fmt.Errorf("desk: claim: %w", err)
		}
	}
	d.mu.Unlock()

	if d.sched != nil {
		// The canned acknowledgement is for consultations nobody has picked up.
		d.sched.Cancel(ackOwner(id))
	}
	if changed {
		d.publish(events.TypeClaimed, events.Consultation{ConsultationID: id, ClientID: c.Client.ID, AgentID: agent.ID})
	}
	return c, nil
}

// Release removes the consultation from the agent's workspace. The record is
// not changed; the reason only reaches the log.
func (d *Desk) Release(ctx context.Context, agent protocol.Identity, id, reason string) error {
	if err := requireStaff(agent); err != nil {
		return fmt.Errorf("desk: release: %w", err)
	}
	if _, err := d.store.Get(id); err != nil {
		return fmt.Errorf("desk: release: %w", err)
	}
	held := d.tracker.Holds(agent.ID, id)
	d.tracker.Release(agent.ID, id, reason)
	if held {
		d.publish(events.TypeReleased, events.Consultation{ConsultationID: id, AgentID: agent.ID, Reason: reason})
	}
	return nil
}

// Reply appends a message from the actor. Clients may only write to their
// own consultations; staff must have the consultation in their workspace.
func (d *Desk) Reply(ctx context.Context, actor protocol.Identity, id, text string, att *protocol.Attachment) (protocol.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return protocol.Message{}, fmt.Errorf("desk: reply: %w", ErrEmptyMessage)
	}

	d.mu.Lock()
	c, err := d.store.Get(id)
	if err != nil {
		d.mu.Unlock()
		return protocol.Message{}, fmt.Errorf("desk: reply: %w", err)
	}
	switch {
	case actor.IsStaff():
		if !d.tracker.Holds(actor.ID, id) {
			d.mu.Unlock()
			return protocol.Message{}, fmt.Errorf("desk: reply %s: %w", id, ErrNotClaimed)
		}
	case c.Client.ID != actor.ID:
		d.mu.Unlock()
		return protocol.Message{}, fmt.Errorf("desk: reply %s: %w", id, ErrForbidden)
	}
	if c.Status == protocol.StatusClosed {
		d.mu.Unlock()
		return protocol.Message{}, fmt.Errorf("desk: reply %s: %w", id, ErrClosed)
	}
	m, err := d.message(c, actor.Author(), actor.ID, text, att)
	d.mu.Unlock()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("desk: reply: %w", err)
	}

	if actor.IsStaff() {
		d.scheduleClientReply(id)
	} else if c.Agent == nil {
		d.scheduleAgentAck(id)
	}
	return m, nil
}

// SetCategory overwrites the consultation's category. Closed consultations
// can still be recategorised.
func (d *Desk) SetCategory(ctx context.Context, actor protocol.Identity, id string, category protocol.Category) (*protocol.Consultation, error) {
	if err := requireStaff(actor); err != nil {
		return nil, fmt.Errorf("desk: set category: %w", err)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("desk: set category: %w: %q", ErrInvalidCategory, category)
	}

	d.mu.Lock()
	c, err := d.store.Get(id)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: set category: %w", err)
	}
	prev := c.Category
	c.Category = category
	if err := d.store.Save(c); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: set category: %w", err)
	}
	d.mu.Unlock()

	d.logger.Info("category changed", "consultation", id, "actor", actor.ID, "from", prev, "to", category)
	if prev != category {
		d.publish(events.TypeCategoryChanged, events.Consultation{
			ConsultationID: id, AgentID: actor.ID, Category: string(category), PrevCategory: string(prev),
		})
	}
	return c, nil
}

// Close ends the consultation. It leaves every workspace, pending simulated
// replies are cancelled and the client is asked for feedback.
func (d *Desk) Close(ctx context.Context, actor protocol.Identity, id, reason string) (*protocol.Consultation, error) {
	if err := requireStaff(actor); err != nil {
		return nil, fmt.Errorf("desk: close: %w", err)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("desk: close: %w", ErrReasonRequired)
	}

	d.mu.Lock()
	c, err := d.store.Get(id)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: close: %w", err)
	}
	if c.Status == protocol.StatusClosed {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: close %s: %w", id, ErrClosed)
	}

	now := d.now()
	c.Status = protocol.StatusClosed
	c.CloseReason = reason
	c.ClosedAt = &now
	if c.Agent == nil {
		a := actor
		c.Agent = &a
	}
	if err := d.store.Save(c); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: close: %w", err)
	}
	d.tracker.ReleaseAll(id, "closed: "+reason)
	if d.sched != nil {
		d.sched.Cancel(id)
		d.sched.Cancel(ackOwner(id))
	}
	if _, err := d.message(c, protocol.AuthorSystem, "", "The consultation session has ended. Please give us your feedback.", nil); err != nil {
		d.logger.Warn("feedback prompt not recorded", "consultation", id, "error", err)
	}
	d.mu.Unlock()

	d.logger.Info("consultation closed", "consultation", id, "actor", actor.ID, "reason", reason)
	d.publish(events.TypeClosed, events.Consultation{ConsultationID: id, ClientID: c.Client.ID, AgentID: actor.ID, Reason: reason})
	return c, nil
}

// Rate records the client's feedback for a closed consultation, once.
func (d *Desk) Rate(ctx context.Context, client protocol.Identity, id string, rating int, description string) (*protocol.Consultation, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("desk: rate: %w", ErrInvalidRating)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("desk: rate: %w", err)
	}
	if c.Client.ID != client.ID {
		return nil, fmt.Errorf("desk: rate %s: %w", id, ErrForbidden)
	}
	if c.Status != protocol.StatusClosed {
		return nil, fmt.Errorf("desk: rate %s: %w", id, ErrNotClosed)
	}
	if c.Feedback != nil {
		return nil, fmt.Errorf("desk: rate %s: %w", id, ErrAlreadyRated)
	}

	c.Feedback = &protocol.Feedback{Rating: rating, Description: strings.TrimSpace(description), SubmittedAt: d.now()}
	if err := d.store.Save(c); err != nil {
		return nil, fmt.Errorf("desk: rate: %w", err)
	}
	d.logger.Info("consultation rated", "consultation", id, "rating", rating)

	var agentID string
	if c.Agent != nil {
		agentID = c.Agent.ID
	}
	d.publish(events.TypeRated, events.Consultation{ConsultationID: id, ClientID: client.ID, AgentID: agentID, Rating: rating})
	return c, nil
}
