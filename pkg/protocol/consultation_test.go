package protocol

import "testing"

func TestParseCategory(t *testing.T) {
	for _, in := range []string{"critical", "Critical", " HIGH ", "medium", "Low"} {
		if _, err := ParseCategory(in); err != nil {
			t.Errorf("ParseCategory(%q): %v", in, err)
		}
	}
	if _, err := ParseCategory("urgent"); err == nil {
		t.Error("expected error for unknown category")
	}
	if c, _ := ParseCategory("High"); c != CategoryHigh {
		t.Errorf("got %q, want high", c)
	}
}

func TestConsultationRated(t *testing.T) {
	c := &Consultation{}
	if c.Rated() {
		t.Error("expected unrated without feedback")
	}
	c.Feedback = &Feedback{Rating: 4}
	if !c.Rated() {
		t.Error("expected rated")
	}
}

func TestStatusOpen(t *testing.T) {
	if !StatusClaimed.Open() || !StatusPendingClassification.Open() {
		t.Error("expected claimed and pending to be open")
	}
	if StatusClosed.Open() {
		t.Error("closed must not be open")
	}
}
