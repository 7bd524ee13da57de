package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Category is the priority a consultation is filed under.
type Category string

const (
	CategoryCritical Category = "critical"
	CategoryHigh     Category = "high"
	CategoryMedium   Category = "medium"
	CategoryLow      Category = "low"
)

// Categories lists every category, most urgent first.
var Categories = []Category{CategoryCritical, CategoryHigh, CategoryMedium, CategoryLow}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCritical, CategoryHigh, CategoryMedium, CategoryLow:
		return true
	}
	return false
}

// Status is the lifecycle state of a consultation.
type Status string

const (
	StatusPendingClassification Status = "pending_classification"
	StatusAwaitingClaim         Status = "awaiting_claim"
	StatusClaimed               Status = "claimed"
	StatusClosed                Status = "closed"
)

// Open reports whether the consultation can still be worked.
func (s Status) Open() bool { return s != StatusClosed }

// Classification is the suggestion returned by the classification collaborator.
type Classification struct {
	SuggestedTeam string `json:"suggested_team"`
	Keywords      string `json:"keywords"`
}

// NoticeLevel grades a Notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a dismissible, non-blocking message shown to a participant.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Title string      `json:"title"`
	Text  string      `json:"text"`
	Time  time.Time   `json:"time"`
}

// Feedback is the client's satisfaction rating for a closed consultation.
type Feedback struct {
	Rating      int       `json:"rating"`
	Description string    `json:"description,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Consultation is one client's support session and its message thread.
type Consultation struct {
	ID             string          `json:"id"`
	Category       Category        `json:"category"`
	Status         Status          `json:"status"`
	Client         Identity        `json:"client"`
	Agent          *Identity       `json:"agent,omitempty"`
	Messages       []Message       `json:"messages"`
	Classification *Classification `json:"classification,omitempty"`
	Notices        []Notice        `json:"notices,omitempty"`
	Feedback       *Feedback       `json:"feedback,omitempty"`
	CloseReason    string          `json:"close_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
}

// Rated reports whether the client has left feedback.
func (c *Consultation) Rated() bool {
	return c.Feedback != nil && c.Feedback.Rating > 0
}

// FirstMessage returns the message that opened the consultation, if any.
func (c *Consultation) FirstMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[0], true
}
