package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/directline-io/directline/internal/consultation"
	"github.com/directline-io/directline/internal/dedupe"
	"github.com/directline-io/directline/internal/events"
	"github.com/directline-io/directline/internal/notify"
	"github.com/directline-io/directline/pkg/protocol"
)

// Open creates a consultation from a client's first message and starts
// classification in the background. An identical submission from the same
// client inside the dedupe window returns the consultation already opened.
func (d *Desk) Open(ctx context.Context, client protocol.Identity, text string, category protocol.Category, att *protocol.Attachment) (*protocol.Consultation, error) {
	if client.Role != protocol.RoleClient {
		return nil, fmt.Errorf("desk: open: %w", ErrForbidden)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("desk: open: %w", ErrEmptyMessage)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("desk: open: %w: %q", ErrInvalidCategory, category)
	}

	id := "c-" + uuid.NewString()
	c := &protocol.Consultation{
		ID:        id,
		Category:  category,
		Status:    protocol.StatusPendingClassification,
		Client:    client,
		Messages:  []protocol.Message{},
		Notices:   []protocol.Notice{},
		CreatedAt: d.now(),
	}

	// The guard claim and the save share the lock, so a concurrent duplicate
	// always finds the consultation its key points at.
	d.mu.Lock()
	if d.cfg.DedupeWindow > 0 {
		existing, err := d.guard.Claim(ctx, dedupe.Key(client.ID, text), id, d.cfg.DedupeWindow)
		if err != nil {
			d.logger.Warn("duplicate guard unavailable", "client", client.ID, "error", err)
		} else if existing != "" {
			prev, err := d.store.Get(existing)
			if err == nil {
				d.mu.Unlock()
				d.logger.Info("duplicate intake suppressed", "consultation", existing, "client", client.ID)
				return prev, nil
			}
			if !errors.Is(err, consultation.ErrNotFound) {
				d.mu.Unlock()
				return nil, fmt.Errorf("desk: open: %w", err)
			}
		}
	}
	if err := d.store.Save(c); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: open: %w", err)
	}
	if _, err := d.message(c, protocol.AuthorClient, client.ID, text, att); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("desk: open: %w", err)
	}
	d.notice(c, protocol.NoticeInfo, "Session started",
		fmt.Sprintf("Welcome to DirectLine. Your session has started with %s priority.", category))
	d.mu.Unlock()

	d.logger.Info("consultation opened", "consultation", c.ID, "client", client.ID, "category", category)
	d.publish(events.TypeOpened, events.Consultation{ConsultationID: c.ID, ClientID: client.ID, Category: string(category)})
	if category == protocol.CategoryCritical {
		d.alert(notify.Alert{
			Level:          notify.LevelUrgent,
			Title:          "Critical consultation opened",
			Text:           fmt.Sprintf("%s: %s", client.Name, truncate(text, 200)),
			ConsultationID: c.ID,
			Category:       string(category),
		})
	}

	d.goTracked("classify", func() { d.classify(c.ID, text) })
	d.scheduleAgentAck(c.ID)
	return c, nil
}

// classify runs one classification attempt and records the outcome.
func (d *Desk) classify(id, text string) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ClassifyTimeout)
	result, cerr := d.classifier.Classify(ctx, text)
	cancel()

	d.mu.Lock()
	c, err := d.store.Get(id)
	if err != nil {
		d.mu.Unlock()
		d.logger.Error("classification result dropped", "consultation", id, "error", err)
		return
	}

	data := events.Consultation{ConsultationID: id}
	// Closure is terminal: a late result is recorded but the thread is left alone.
	closed := c.Status == protocol.StatusClosed
	if cerr != nil {
		d.logger.Warn("classification failed", "consultation", id, "classifier", d.classifier.Name(), "error", cerr)
		if !closed {
			d.notice(c, protocol.NoticeWarning, "Analysis failed",
				"We could not analyse your request, but you will still be connected to our team.")
		}
		data.Failed = true
	} else {
		c.Classification = result
		if !closed {
			content := fmt.Sprintf("Analysing request... keywords found: %q. Connecting to team: %s.", result.Keywords, result.SuggestedTeam)
			if _, err := d.message(c, protocol.AuthorSystem, "", content, nil); err != nil {
				d.logger.Error("classification message not recorded", "consultation", id, "error", err)
			}
			d.notice(c, protocol.NoticeInfo, "Consultation analysed",
				fmt.Sprintf("You will be connected with the %s team.", result.SuggestedTeam))
		}
		data.SuggestedTeam = result.SuggestedTeam
		data.Keywords = result.Keywords
	}

	if c.Status == protocol.StatusPendingClassification {
		c.Status = protocol.StatusAwaitingClaim
	}
	if err := d.store.Save(c); err != nil {
		d.logger.Error("consultation not saved after classification", "consultation", id, "error", err)
	}
	d.mu.Unlock()

	d.publish(events.TypeClassified, data)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
