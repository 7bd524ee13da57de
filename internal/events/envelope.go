// Package events publishes consultation lifecycle events.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types double as routing keys.
const (
	TypeOpened          = "consultation.opened.v1"
	TypeClassified      = "consultation.classified.v1"
	TypeClaimed         = "consultation.claimed.v1"
	TypeReleased        = "consultation.released.v1"
	TypeCategoryChanged = "consultation.category_changed.v1"
	TypeClosed          = "consultation.closed.v1"
	TypeRated           = "consultation.rated.v1"
)

type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. consultation.opened.v1
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Consultation is the payload of every lifecycle event. Fields not relevant
// to an event type are left empty.
type Consultation struct {
	ConsultationID string `json:"consultation_id"`
	ClientID       string `json:"client_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	Category       string `json:"category,omitempty"`
	PrevCategory   string `json:"prev_category,omitempty"`
	SuggestedTeam  string `json:"suggested_team,omitempty"`
	Keywords       string `json:"keywords,omitempty"`
	Failed         bool   `json:"failed,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Rating         int    `json:"rating,omitempty"`
}

// New wraps data in an envelope. The consultation id is used as correlation id.
func New(typ, producer string, data Consultation) Envelope {
	cid := data.ConsultationID
	var prod *string
	if producer != "" {
		prod = &producer
	}
	return Envelope{
		Meta: Meta{
			CorrelationID: &cid,
			ID:            uuid.NewString(),
			Producer:      prod,
			Time:          time.Now().UTC(),
			Type:          typ,
		},
		Data: data,
	}
}
