package assignment

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestClaim_Cap(t *testing.T) {
	tr := New(3, nil)

	for i := 1; i <= 3; i++ {
		if err := tr.Claim("cs-1", fmt.Sprintf("c-%d", i)); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	err := tr.Claim("cs-1", "c-4")
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	got := tr.List("cs-1")
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if tr.Holds("cs-1", "c-4") {
		t.Error("rejected claim must not be in the set")
	}
	if !tr.Holds("cs-1", "c-1") {
		t.Error("oldest claim must not be evicted")
	}
}

func TestClaim_Idempotent(t *testing.T) {
	tr := New(1, nil)
	if err := tr.Claim("cs-1", "c-1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Claim("cs-1", "c-1"); err != nil {
		t.Errorf("reclaim at capacity: %v", err)
	}
	if n := len(tr.List("cs-1")); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestList_MostRecentFirst(t *testing.T) {
	tr := New(0, nil)
	if tr.Limit() != DefaultLimit {
		t.Errorf("Limit = %d", tr.Limit())
	}
	tr.Claim("cs-1", "c-1")
	tr.Claim("cs-1", "c-2")
	tr.Claim("cs-1", "c-3")

	got := tr.List("cs-1")
	want := []string{"c-3", "c-2", "c-1"}
	for i, e := range got {
		if e.ConsultationID != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, e.ConsultationID, want[i])
		}
	}
}

func TestRelease(t *testing.T) {
	tr := New(3, nil)
	tr.Claim("cs-1", "c-1")
	tr.Claim("cs-1", "c-2")

	tr.Release("cs-1", "c-1", "handed over")
	tr.Release("cs-1", "missing", "noop")

	got := tr.List("cs-1")
	if len(got) != 1 || got[0].ConsultationID != "c-2" {
		t.Errorf("List = %+v", got)
	}

	tr.Release("cs-1", "c-2", "done")
	if len(tr.List("cs-1")) != 0 {
		t.Error("expected empty set")
	}
}

func TestReleaseAll(t *testing.T) {
	tr := New(3, nil)
	tr.Claim("cs-1", "c-1")
	tr.Claim("cs-2", "c-1")
	tr.Claim("cs-2", "c-2")

	if got := tr.Holders("c-1"); len(got) != 2 {
		t.Fatalf("Holders = %v", got)
	}

	released := tr.ReleaseAll("c-1", "closed")
	if len(released) != 2 || released[0] != "cs-1" || released[1] != "cs-2" {
		t.Errorf("released = %v", released)
	}
	if len(tr.Holders("c-1")) != 0 {
		t.Error("expected no holders after ReleaseAll")
	}
	if !tr.Holds("cs-2", "c-2") {
		t.Error("unrelated claim must survive")
	}
}

func TestClaim_Concurrent(t *testing.T) {
	tr := New(3, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if tr.Claim("cs-1", fmt.Sprintf("c-%d", i)) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3", accepted)
	}
}

func TestReleaseAgent(t *testing.T) {
	tr := New(3, nil)
	tr.Claim("cs-1", "a")
	tr.Claim("cs-1", "b")
	tr.Claim("cs-2", "a")

	ids := tr.ReleaseAgent("cs-1", "staff removed")
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("released = %v", ids)
	}
	if len(tr.List("cs-1")) != 0 {
		t.Error("cs-1 set should be empty")
	}
	if !tr.Holds("cs-2", "a") {
		t.Error("other agents keep their claims")
	}
	if got := tr.ReleaseAgent("nobody", "x"); len(got) != 0 {
		t.Errorf("unknown agent released %v", got)
	}
}
