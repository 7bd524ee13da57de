package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/directline-io/directline/pkg/protocol"
)

type recorder struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (r *recorder) open(_ context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.reqs = append(r.reqs, req)
	return fmt.Sprintf("c-%d", len(r.reqs)), nil
}

func (r *recorder) last() Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func newTestHandler(sources map[string]SourceConfig) (*Handler, *recorder) {
	rec := &recorder{}
	return New(sources, rec.open, nil), rec
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIntake_Basic(t *testing.T) {
	h, rec := newTestHandler(map[string]SourceConfig{"webform": {}})

	w := post(h, "/api/intake/webform", `{"email":"ani@example.com","content":"Cannot log in","category":"HIGH"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["consultation_id"] != "c-1" {
		t.Errorf("resp = %v", resp)
	}

	got := rec.last()
	if got.Source != "webform" || got.Email != "ani@example.com" || got.Category != protocol.CategoryHigh {
		t.Errorf("request = %+v", got)
	}
}

func TestIntake_DefaultCategory(t *testing.T) {
	h, rec := newTestHandler(map[string]SourceConfig{
		"email": {},
		"pager": {Category: "critical"},
	})
	post(h, "/api/intake/email", `{"email":"a@example.com","content":"hi"}`, nil)
	if rec.last().Category != protocol.CategoryMedium {
		t.Errorf("category = %q", rec.last().Category)
	}
	post(h, "/api/intake/pager", `{"email":"a@example.com","content":"down"}`, nil)
	if rec.last().Category != protocol.CategoryCritical {
		t.Errorf("category = %q", rec.last().Category)
	}
}

func TestIntake_BearerAuth(t *testing.T) {
	h, _ := newTestHandler(map[string]SourceConfig{"crm": {BearerToken: "tok"}})
	body := `{"email":"a@example.com","content":"x"}`

	if w := post(h, "/api/intake/crm", body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no auth status = %d", w.Code)
	}
	if w := post(h, "/api/intake/crm", body, map[string]string{"Authorization": "Bearer nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", w.Code)
	}
	if w := post(h, "/api/intake/crm", body, map[string]string{"Authorization": "Bearer tok"}); w.Code != http.StatusAccepted {
		t.Errorf("valid token status = %d", w.Code)
	}
}

func TestIntake_HMACAuth(t *testing.T) {
	h, _ := newTestHandler(map[string]SourceConfig{"gateway": {Secret: "whsec"}})
	body := `{"email":"a@example.com","content":"signed"}`

	if w := post(h, "/api/intake/gateway", body, map[string]string{"X-Signature-256": "sha256=deadbeef"}); w.Code != http.StatusUnauthorized {
		t.Errorf("bad signature status = %d", w.Code)
	}
	if w := post(h, "/api/intake/gateway", body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing signature status = %d", w.Code)
	}
	if w := post(h, "/api/intake/gateway", body, map[string]string{"X-Signature-256": Sign([]byte(body), "whsec")}); w.Code != http.StatusAccepted {
		t.Errorf("valid signature status = %d", w.Code)
	}
}

func TestIntake_Rejections(t *testing.T) {
	h, rec := newTestHandler(map[string]SourceConfig{"webform": {}})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown source", "/api/intake/nope", `{"email":"a@example.com","content":"x"}`, http.StatusNotFound},
		{"invalid json", "/api/intake/webform", `not json`, http.StatusBadRequest},
		{"no content", "/api/intake/webform", `{"email":"a@example.com","content":"  "}`, http.StatusBadRequest},
		{"no email", "/api/intake/webform", `{"content":"x"}`, http.StatusBadRequest},
		{"bad category", "/api/intake/webform", `{"email":"a@example.com","content":"x","category":"urgent"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := post(h, tt.path, tt.body, nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/intake/webform", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", w.Code)
	}

	rec.err = fmt.Errorf("%w: invalid email", ErrRejected)
	if w := post(h, "/api/intake/webform", `{"email":"bad","content":"x"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("rejected status = %d", w.Code)
	}
	rec.err = fmt.Errorf("database locked")
	if w := post(h, "/api/intake/webform", `{"email":"a@example.com","content":"x"}`, nil); w.Code != http.StatusInternalServerError {
		t.Errorf("failure status = %d", w.Code)
	}
}

func TestIntake_Metadata(t *testing.T) {
	h, rec := newTestHandler(map[string]SourceConfig{"webform": {}})
	post(h, "/api/intake/webform", `{"email":"a@example.com","content":"Help","metadata":{"page":"/billing"}}`, nil)

	content := rec.last().Content
	if !strings.HasPrefix(content, "Help\n\n[webform metadata:") || !strings.Contains(content, `"/billing"`) {
		t.Errorf("content = %q", content)
	}
}

func TestSources(t *testing.T) {
	h, _ := newTestHandler(map[string]SourceConfig{"b": {}, "a": {}})
	if got := h.Sources(); len(got) != 2 || got[0] != "a" {
		t.Errorf("sources = %v", got)
	}
}
