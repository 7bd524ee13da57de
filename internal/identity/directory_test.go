package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/directline-io/directline/pkg/protocol"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory(Seed(), nil)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	return d
}

func TestLogin_Known(t *testing.T) {
	d := newTestDirectory(t)

	ident, created, err := d.Login("siti.support@directline.com")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if created {
		t.Error("known identity should not be provisioned")
	}
	if ident.ID != "cs-1" || ident.Role != protocol.RoleSupportAgent {
		t.Errorf("identity = %+v", ident)
	}

	again, _, _ := d.Login("Siti.Support@directline.com")
	if again.ID != "cs-1" {
		t.Errorf("case-insensitive lookup returned %q", again.ID)
	}
}

func TestLogin_ProvisionsClient(t *testing.T) {
	d := newTestDirectory(t)

	ident, created, err := d.Login("ani.wijaya@example.com")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !created {
		t.Error("expected provisioning")
	}
	if ident.Role != protocol.RoleClient || ident.Client == nil || !ident.Client.Provisioned {
		t.Errorf("identity = %+v", ident)
	}
	if ident.Name != "ani.wijaya" {
		t.Errorf("name = %q", ident.Name)
	}
	if !strings.HasPrefix(ident.ID, "user-") {
		t.Errorf("id = %q", ident.ID)
	}

	second, created, _ := d.Login("ani.wijaya@example.com")
	if created || second.ID != ident.ID {
		t.Errorf("second login = %+v (created %v), want same identity", second, created)
	}
}

func TestLogin_InvalidEmail(t *testing.T) {
	d := newTestDirectory(t)
	for _, email := range []string{"", "not-an-email", "Budi <budi@example.com>", "a@"} {
		if _, _, err := d.Login(email); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Login(%q) err = %v", email, err)
		}
	}
}

func TestStaffManagement(t *testing.T) {
	d := newTestDirectory(t)

	before := len(d.ListStaff())
	if before != 4 {
		t.Fatalf("seed staff = %d, want 4", before)
	}

	added, err := d.AddStaff("Eko Prasetyo", "eko@directline.com", protocol.RoleSupportAgent, "Billing & Payments")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.Agent == nil || added.Agent.Team != "Billing & Payments" {
		t.Errorf("added = %+v", added)
	}
	if _, err := d.AddStaff("Dup", "EKO@directline.com", protocol.RoleSupportAgent, ""); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate add err = %v", err)
	}
	if _, err := d.AddStaff("Client", "c@example.com", protocol.RoleClient, ""); !errors.Is(err, ErrNotStaff) {
		t.Errorf("client role add err = %v", err)
	}
	if _, err := d.AddStaff(" ", "x@directline.com", protocol.RoleSupportAgent, ""); err == nil {
		t.Error("expected error for empty name")
	}

	if err := d.RemoveStaff(added.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := d.Get(added.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after remove err = %v", err)
	}
	if err := d.RemoveStaff("user-1"); !errors.Is(err, ErrNotStaff) {
		t.Errorf("remove client err = %v", err)
	}
	if err := d.RemoveStaff("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove unknown err = %v", err)
	}

	// The freed email logs in as a fresh client.
	ident, created, _ := d.Login("eko@directline.com")
	if !created || ident.Role != protocol.RoleClient {
		t.Errorf("login after removal = %+v", ident)
	}
}

func TestNewDirectory_RejectsDuplicates(t *testing.T) {
	seed := append(Seed(), protocol.NewClient("user-9", "Dup", "budi.client@example.com", "", false))
	if _, err := NewDirectory(seed, nil); err == nil {
		t.Error("expected duplicate email error")
	}
}
