package consultation

import (
	"errors"

	"github.com/directline-io/directline/pkg/protocol"
)

// ErrNotFound is returned when no consultation has the requested id.
var ErrNotFound = errors.New("consultation not found")

// Store is the persistence interface for consultations, their messages and notices.
type Store interface {
	// Save creates or updates a consultation header. Messages and notices are not touched.
	Save(c *protocol.Consultation) error
	// Get retrieves a consultation by ID, including messages and notices.
	Get(id string) (*protocol.Consultation, error)
	// List returns consultations matching the filter, newest first.
	List(filter Filter) ([]*protocol.Consultation, error)
	// Count returns the number of consultations matching the filter.
	Count(filter Filter) (int, error)
	// AppendMessage adds a message to the end of a consultation's thread.
	AppendMessage(consultationID string, msg protocol.Message) error
	// AppendNotice records a notice for the consultation's client.
	AppendNotice(consultationID string, n protocol.Notice) error
}

// Filter constrains consultation list queries.
type Filter struct {
	Statuses  []protocol.Status // any of
	ClientID  string
	AgentID   string
	Category  protocol.Category
	RatedOnly bool // feedback present
	Limit     int  // 0 = no limit
}
