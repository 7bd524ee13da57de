package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/directline-io/directline/internal/notify"
)

// Verify Notifier implements notify.Notifier at compile time.
var _ notify.Notifier = (*Notifier)(nil)

func TestFormat(t *testing.T) {
	got := Format(notify.Alert{Level: notify.LevelUrgent, Title: "Critical <consultation>", Text: "a & b", ConsultationID: "c-1", Category: "critical"})
	for _, want := range []string{"🚨", "<b>Critical &lt;consultation&gt;</b>", "a &amp; b", "<code>c-1</code>", "critical"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if strings.Contains(Format(notify.Alert{Title: "x"}), "🚨") {
		t.Error("info alerts should not carry the urgent marker")
	}
}

func TestNotify(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"desk","username":"desk_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			mu.Lock()
			sent = append(sent, r.PostForm.Get("chat_id"))
			mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"},"text":"x"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	n, err := New(Config{Token: "TOKEN", ChatIDs: []int64{100, 200}, Endpoint: srv.URL + "/bot%s/%s"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := n.Notify(context.Background(), notify.Alert{Title: "Queue digest", Text: "2 waiting"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sent) != 2 || sent[0] != "100" || sent[1] != "200" {
		t.Errorf("sent = %v", sent)
	}
}

func TestNew_RequiresChat(t *testing.T) {
	if _, err := New(Config{Token: "TOKEN"}, nil); err == nil {
		t.Error("expected error without chat ids")
	}
}
