package desk

import (
	"errors"
	"fmt"
	"time"

	"github.com/directline-io/directline/internal/consultation"
	"github.com/directline-io/directline/pkg/protocol"
)

type demoMessage struct {
	id     string
	author protocol.Author
	at     string // HH:MM
	text   string
	file   string
}

type demoConsultation struct {
	id       string
	category protocol.Category
	date     string
	agentID  string
	rating   int
	messages []demoMessage
}

var demoHistory = []demoConsultation{
	{
		id: "chat-4", category: protocol.CategoryCritical, date: "2024-07-29", agentID: "cs-2", rating: 3,
		messages: []demoMessage{
			{"msg-4-1", protocol.AuthorClient, "09:00", "Our system is completely down and cannot be accessed at all. Please help urgently. I have attached the latest server log.", "server_log.txt"},
			{"msg-4-2", protocol.AuthorSupportAgent, "09:01", "We are checking right away. Thank you for the log, it is very helpful.", ""},
		},
	},
	{
		id: "chat-1", category: protocol.CategoryHigh, date: "2024-07-28", agentID: "cs-1", rating: 4,
		messages: []demoMessage{
			{"msg-1-1", protocol.AuthorClient, "10:30", "Hello, I have a problem logging in. This is the error I see.", "error-screenshot.png"},
			{"msg-1-2", protocol.AuthorSupportAgent, "10:31", "Hello Budi, thank you for the report. We will look at the screenshot you sent.", ""},
			{"msg-1-3", protocol.AuthorClient, "10:32", "Okay, I'll wait. I can't get in even though my password is correct.", ""},
			{"msg-1-4", protocol.AuthorSupportAgent, "10:33", "Understood, we are analysing the problem. Please wait a moment.", ""},
		},
	},
	{
		id: "chat-2", category: protocol.CategoryMedium, date: "2024-07-27", agentID: "cs-1", rating: 5,
		messages: []demoMessage{
			{"msg-2-1", protocol.AuthorClient, "14:00", "How do I change my profile?", ""},
			{"msg-2-2", protocol.AuthorSupportAgent, "14:01", `Go to the profile page and click the "Edit Profile" button.`, ""},
		},
	},
	{
		id: "chat-3", category: protocol.CategoryLow, date: "2024-07-25", agentID: "cs-1", rating: 5,
		messages: []demoMessage{
			{"msg-3-1", protocol.AuthorClient, "16:00", "Thank you for your help!", ""},
			{"msg-3-2", protocol.AuthorSupportAgent, "16:01", "You're welcome, glad we could help.", ""},
		},
	},
}

// LoadDemo stores the demo history: four closed, rated consultations of the
// seed client. Consultations already present are left alone.
func (d *Desk) LoadDemo(lookup func(id string) (protocol.Identity, error)) (int, error) {
	client, err := lookup("user-1")
	if err != nil {
		return 0, fmt.Errorf("desk: demo: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	loaded := 0
	for _, dc := range demoHistory {
		if _, err := d.store.Get(dc.id); err == nil {
			continue
		} else if !errors.Is(err, consultation.ErrNotFound) {
			return loaded, fmt.Errorf("desk: demo: %w", err)
		}
		agent, err := lookup(dc.agentID)
		if err != nil {
			return loaded, fmt.Errorf("desk: demo: %w", err)
		}

		day, err := time.Parse(time.DateOnly, dc.date)
		if err != nil {
			return loaded, fmt.Errorf("desk: demo: %w", err)
		}
		first, _ := time.Parse("15:04", dc.messages[0].at)
		created := day.Add(time.Duration(first.Hour())*time.Hour + time.Duration(first.Minute())*time.Minute)
		last, _ := time.Parse("15:04", dc.messages[len(dc.messages)-1].at)
		closed := day.Add(time.Duration(last.Hour())*time.Hour + time.Duration(last.Minute()+5)*time.Minute)

		c := &protocol.Consultation{
			ID:          dc.id,
			Category:    dc.category,
			Status:      protocol.StatusClosed,
			Client:      client,
			Agent:       &agent,
			CloseReason: "resolved",
			CreatedAt:   created,
			ClosedAt:    &closed,
			Feedback:    &protocol.Feedback{Rating: dc.rating, SubmittedAt: closed},
		}
		if err := d.store.Save(c); err != nil {
			return loaded, fmt.Errorf("desk: demo: %w", err)
		}
		for _, dm := range dc.messages {
			at, _ := time.Parse("15:04", dm.at)
			m := protocol.Message{
				ID:      dm.id,
				Author:  dm.author,
				Content: dm.text,
				SentAt:  day.Add(time.Duration(at.Hour())*time.Hour + time.Duration(at.Minute())*time.Minute),
			}
			if dm.author == protocol.AuthorClient {
				m.AuthorID = client.ID
			} else {
				m.AuthorID = agent.ID
			}
			if dm.file != "" {
				m.Attachment = &protocol.Attachment{Name: dm.file, URL: "#"}
			}
			if err := d.store.AppendMessage(c.ID, m); err != nil {
				return loaded, fmt.Errorf("desk: demo: %w", err)
			}
		}
		loaded++
	}
	d.logger.Info("demo history loaded", "consultations", loaded)
	return loaded, nil
}
