// Package classify suggests which support team should handle a consultation
// by analysing the client's opening message.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/directline-io/directline/pkg/protocol"
)

// Classifier analyses an opening message. Implementations make one attempt;
// callers bound it with the context deadline.
type Classifier interface {
	Classify(ctx context.Context, text string) (*protocol.Classification, error)
	Name() string
}

// ErrIncomplete is returned when the backend answers without a team or keywords.
var ErrIncomplete = errors.New("classify: incomplete classification")

const systemPrompt = `You are an expert support staff assignment system.

You will analyze the initial message from the client and suggest the most appropriate support staff or team to handle the request.

You will also extract keywords from the message that can be used to further refine the support staff assignment.

Respond with a JSON object only:
{"suggestedSupportStaff": string, "keywords": string}

Ensure that suggestedSupportStaff and keywords are not empty.`

type result struct {
	SuggestedSupportStaff string `json:"suggestedSupportStaff"`
	Keywords              string `json:"keywords"`
}

// decode parses a model reply into a Classification, tolerating code fences.
func decode(raw string) (*protocol.Classification, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var r result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("classify: decode reply: %w", err)
	}
	team := strings.TrimSpace(r.SuggestedSupportStaff)
	keywords := strings.TrimSpace(r.Keywords)
	if team == "" || keywords == "" {
		return nil, ErrIncomplete
	}
	return &protocol.Classification{SuggestedTeam: team, Keywords: keywords}, nil
}
