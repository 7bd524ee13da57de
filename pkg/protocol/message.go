package protocol

import "time"

// Author tags who wrote a message.
type Author string

const (
	AuthorClient       Author = "client"
	AuthorSupportAgent Author = "support_agent"
	AuthorSystem       Author = "system"
)

// Attachment is a reference to a single file sent with a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Message is one entry in a consultation thread. Messages are append-only.
type Message struct {
	ID             string      `json:"id"`
	ConsultationID string      `json:"consultation_id"`
	Author         Author      `json:"author"`
	AuthorID       string      `json:"author_id,omitempty"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	SentAt         time.Time   `json:"sent_at"`
}
