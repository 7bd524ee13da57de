// Package identity resolves who a caller is. There is no password check:
// login by email either finds a known identity or provisions a client.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/directline-io/directline/pkg/protocol"
)

var (
	ErrInvalidEmail   = errors.New("identity: invalid email")
	ErrNotFound       = errors.New("identity: not found")
	ErrDuplicateEmail = errors.New("identity: email already registered")
	ErrNotStaff       = errors.New("identity: not a staff member")
)

// AvatarURL returns the placeholder avatar for a seed.
func AvatarURL(seed string) string {
	return "https://i.pravatar.cc/150?u=" + seed
}

// Seed is the built-in identity table.
func Seed() []protocol.Identity {
	return []protocol.Identity{
		protocol.NewClient("user-1", "Budi Client", "budi.client@example.com", AvatarURL("client"), false),
		protocol.NewAgent("cs-1", "Siti Support", "siti.support@directline.com", AvatarURL("siti"), "General Support"),
		protocol.NewAgent("cs-2", "Doni Dermawan", "doni.dermawan@directline.com", AvatarURL("doni"), "Infrastructure & Reliability"),
		protocol.NewAgent("cs-3", "Rina Ramlan", "rina.ramlan@directline.com", AvatarURL("rina"), "Account Security"),
		protocol.NewSupervisor("sv-1", "Maya Pratama", "maya.pratama@directline.com", AvatarURL("maya"), "Support Operations"),
	}
}

// Directory is the in-memory identity table. Identities never change once
// stored; staff can be added and removed.
type Directory struct {
	mu      sync.RWMutex
	byID    map[string]protocol.Identity
	byEmail map[string]string // normalized email → id
	logger  *slog.Logger
}

// NewDirectory creates a directory holding the given identities.
func NewDirectory(seed []protocol.Identity, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		byID:    make(map[string]protocol.Identity),
		byEmail: make(map[string]string),
		logger:  logger,
	}
	for _, id := range seed {
		if err := d.add(id); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Login resolves an email to an identity. Unknown addresses are provisioned
// as clients named after the local part. The bool reports provisioning.
func (d *Directory) Login(email string) (protocol.Identity, bool, error) {
	addr, err := normalize(email)
	if err != nil {
		return protocol.Identity{}, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byEmail[addr]; ok {
		return d.byID[id], false, nil
	}

	local := addr[:strings.IndexByte(addr, '@')]
	ident := protocol.NewClient("user-"+uuid.NewString()[:8], local, addr, AvatarURL(addr), true)
	d.byID[ident.ID] = ident
	d.byEmail[addr] = ident.ID
	d.logger.Info("client provisioned", "identity", ident.ID, "email", addr)
	return ident, true, nil
}

// Get returns the identity with the given id.
func (d *Directory) Get(id string) (protocol.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ident, ok := d.byID[id]
	if !ok {
		return protocol.Identity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ident, nil
}

// ListStaff returns agents and supervisors ordered by id.
func (d *Directory) ListStaff() []protocol.Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []protocol.Identity
	for _, ident := range d.byID {
		if ident.IsStaff() {
			out = append(out, ident)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddStaff registers a new support agent or supervisor.
func (d *Directory) AddStaff(name, email string, role protocol.Role, team string) (protocol.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return protocol.Identity{}, fmt.Errorf("identity: name is required")
	}
	addr, err := normalize(email)
	if err != nil {
		return protocol.Identity{}, err
	}

	var ident protocol.Identity
	switch role {
	case protocol.RoleSupportAgent, "":
		ident = protocol.NewAgent("cs-"+uuid.NewString()[:8], name, addr, AvatarURL(addr), team)
	case protocol.RoleSupervisor:
		ident = protocol.NewSupervisor("sv-"+uuid.NewString()[:8], name, addr, AvatarURL(addr), team)
	default:
		return protocol.Identity{}, fmt.Errorf("%w: role %q", ErrNotStaff, role)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.add(ident); err != nil {
		return protocol.Identity{}, err
	}
	d.logger.Info("staff added", "identity", ident.ID, "role", ident.Role)
	return ident, nil
}

// RemoveStaff deletes a staff identity. Clients cannot be removed.
func (d *Directory) RemoveStaff(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ident, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !ident.IsStaff() {
		return fmt.Errorf("%w: %s", ErrNotStaff, id)
	}
	delete(d.byID, id)
	delete(d.byEmail, strings.ToLower(ident.Email))
	d.logger.Info("staff removed", "identity", id)
	return nil
}

// caller holds mu (or has exclusive access during construction)
func (d *Directory) add(ident protocol.Identity) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	addr := strings.ToLower(ident.Email)
	if _, ok := d.byEmail[addr]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEmail, addr)
	}
	if _, ok := d.byID[ident.ID]; ok {
		return fmt.Errorf("identity: duplicate id %s", ident.ID)
	}
	d.byID[ident.ID] = ident
	d.byEmail[addr] = ident.ID
	return nil
}

// normalize accepts a bare address ("a@b.c"), lower-cased for lookup.
func normalize(email string) (string, error) {
	email = strings.TrimSpace(email)
	a, err := mail.ParseAddress(email)
	if err != nil || a.Address != email || a.Name != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.ToLower(a.Address), nil
}
