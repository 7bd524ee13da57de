package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/directline-io/directline/pkg/protocol"
)

func TestIssueAndParse(t *testing.T) {
	iss, err := NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	ident := protocol.NewAgent("cs-1", "Siti", "siti.support@directline.com", "", "")

	tok, exp, err := iss.Issue(ident)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) < 59*time.Minute {
		t.Errorf("expiry too soon: %v", exp)
	}

	claims, err := iss.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "cs-1" || claims.Role != protocol.RoleSupportAgent {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParse_Rejects(t *testing.T) {
	iss, _ := NewIssuer("secret-a", time.Hour)
	other, _ := NewIssuer("secret-b", time.Hour)
	expired, _ := NewIssuer("secret-a", time.Nanosecond)
	ident := protocol.NewClient("user-1", "Budi", "budi@example.com", "", false)

	foreign, _, _ := other.Issue(ident)
	if _, err := iss.Parse(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token err = %v", err)
	}

	stale, _, _ := expired.Issue(ident)
	time.Sleep(10 * time.Millisecond)
	if _, err := iss.Parse(stale); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v", err)
	}

	if _, err := iss.Parse("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token err = %v", err)
	}
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewIssuer("", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}
