package protocol

import (
	"fmt"
	"strings"
)

// Role is the kind of actor behind an Identity.
type Role string

const (
	RoleClient       Role = "client"
	RoleSupportAgent Role = "support_agent"
	RoleSupervisor   Role = "supervisor"
)

// Identity is a person known to the desk. Exactly one role payload is set,
// matching Role.
type Identity struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Email      string             `json:"email"`
	AvatarURL  string             `json:"avatar_url"`
	Role       Role               `json:"role"`
	Client     *ClientProfile     `json:"client,omitempty"`
	Agent      *AgentProfile      `json:"agent,omitempty"`
	Supervisor *SupervisorProfile `json:"supervisor,omitempty"`
}

// ClientProfile is the client-only part of an Identity.
type ClientProfile struct {
	// Provisioned is true when the identity was fabricated at login.
	Provisioned bool `json:"provisioned"`
}

// AgentProfile is the support-agent-only part of an Identity.
type AgentProfile struct {
	Team string `json:"team,omitempty"`
}

// SupervisorProfile is the supervisor-only part of an Identity.
type SupervisorProfile struct {
	Team string `json:"team,omitempty"`
}

// NewClient builds a client identity.
func NewClient(id, name, email, avatar string, provisioned bool) Identity {
	return Identity{
		ID: id, Name: name, Email: email, AvatarURL: avatar,
		Role:   RoleClient,
		Client: &ClientProfile{Provisioned: provisioned},
	}
}

// NewAgent builds a support agent identity.
func NewAgent(id, name, email, avatar, team string) Identity {
	return Identity{
		ID: id, Name: name, Email: email, AvatarURL: avatar,
		Role:  RoleSupportAgent,
		Agent: &AgentProfile{Team: team},
	}
}

// NewSupervisor builds a supervisor identity.
func NewSupervisor(id, name, email, avatar, team string) Identity {
	return Identity{
		ID: id, Name: name, Email: email, AvatarURL: avatar,
		Role:       RoleSupervisor,
		Supervisor: &SupervisorProfile{Team: team},
	}
}

// IsStaff reports whether the identity works consultations (agents and supervisors).
func (i Identity) IsStaff() bool {
	return i.Role == RoleSupportAgent || i.Role == RoleSupervisor
}

// Author returns the message author tag for messages written by this identity.
func (i Identity) Author() Author {
	if i.IsStaff() {
		return AuthorSupportAgent
	}
	return AuthorClient
}

// Validate checks that the role payload matches the role tag.
func (i Identity) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("identity: id is required")
	}
	if strings.TrimSpace(i.Email) == "" {
		return fmt.Errorf("identity %s: email is required", i.ID)
	}
	set := 0
	for _, p := range []bool{i.Client != nil, i.Agent != nil, i.Supervisor != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("identity %s: exactly one role payload must be set, got %d", i.ID, set)
	}
	switch i.Role {
	case RoleClient:
		if i.Client == nil {
			return fmt.Errorf("identity %s: client role without client payload", i.ID)
		}
	case RoleSupportAgent:
		if i.Agent == nil {
			return fmt.Errorf("identity %s: support_agent role without agent payload", i.ID)
		}
	case RoleSupervisor:
		if i.Supervisor == nil {
			return fmt.Errorf("identity %s: supervisor role without supervisor payload", i.ID)
		}
	default:
		return fmt.Errorf("identity %s: unknown role %q", i.ID, i.Role)
	}
	return nil
}
