package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/directline-io/directline/internal/consultation"
	"github.com/directline-io/directline/internal/desk"
	"github.com/directline-io/directline/internal/identity"
	"github.com/directline-io/directline/internal/intake"
	"github.com/directline-io/directline/internal/logbuf"
	"github.com/directline-io/directline/pkg/protocol"
)

type stubLogs struct {
	entries []logbuf.Entry
	last    logbuf.Filter
}

func (s *stubLogs) Query(f logbuf.Filter) []logbuf.Entry {
	s.last = f
	return s.entries
}

type testEnv struct {
	srv  *Server
	desk *desk.Desk
	dir  *identity.Directory
	logs *stubLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := consultation.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	dir, err := identity.NewDirectory(identity.Seed(), nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := desk.DefaultConfig()
	cfg.DedupeWindow = 0
	d, err := desk.New(desk.Options{Store: store}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := identity.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		d.Shutdown()
		store.Close()
	})
	logs := &stubLogs{}
	return &testEnv{
		srv:  NewServer(d, dir, tokens, Config{Host: "127.0.0.1"}, nil, logs),
		desk: d,
		dir:  dir,
		logs: logs,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	w := e.do(t, "POST", "/api/login", "", map[string]string{"email": email})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", email, w.Code, w.Body)
	}
	var resp loginResponse
	json.NewDecoder(w.Body).Decode(&resp)
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/login", "", map[string]string{"email": "not-an-email"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d", w.Code)
	}

	w = env.do(t, "POST", "/api/login", "", map[string]string{"email": "New.Person@Example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[loginResponse](t, w)
	if !resp.Provisioned || resp.Identity.Role != protocol.RoleClient || resp.Identity.Name != "new.person" {
		t.Errorf("resp = %+v", resp)
	}

	w = env.do(t, "GET", "/api/me", resp.Token, nil)
	if me := decode[protocol.Identity](t, w); me.ID != resp.Identity.ID {
		t.Errorf("me = %+v", me)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, "GET", "/api/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/me", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", w.Code)
	}
	other, _ := identity.NewIssuer("other-secret", time.Hour)
	foreign, _, _ := other.Issue(protocol.NewClient("user-1", "Budi", "budi@example.com", "", false))
	if w := env.do(t, "GET", "/api/me", foreign, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("foreign token status = %d", w.Code)
	}
}

func TestConsultationFlow(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t, "budi.client@example.com")
	agent := env.login(t, "siti.support@directline.com")

	w := env.do(t, "POST", "/api/consultations", client, openRequest{Content: "My app keeps crashing", Category: "High"})
	if w.Code != http.StatusCreated {
		t.Fatalf("open status = %d, body = %s", w.Code, w.Body)
	}
	opened := decode[protocol.Consultation](t, w)
	if opened.Category != protocol.CategoryHigh {
		t.Errorf("category = %q", opened.Category)
	}
	env.desk.Wait()

	if w := env.do(t, "POST", "/api/consultations", agent, openRequest{Content: "x", Category: "low"}); w.Code != http.StatusForbidden {
		t.Errorf("staff open status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/queue", client, nil); w.Code != http.StatusForbidden {
		t.Errorf("client queue status = %d", w.Code)
	}

	queue := decode[[]protocol.Consultation](t, env.do(t, "GET", "/api/queue", agent, nil))
	if len(queue) != 1 || queue[0].ID != opened.ID {
		t.Fatalf("queue = %+v", queue)
	}

	id := opened.ID
	if w := env.do(t, "POST", "/api/workspace/"+id, agent, nil); w.Code != http.StatusOK {
		t.Fatalf("claim status = %d, body = %s", w.Code, w.Body)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/messages", agent, replyRequest{Content: "Which version?"}); w.Code != http.StatusCreated {
		t.Errorf("reply status = %d", w.Code)
	}
	if w := env.do(t, "PUT", "/api/consultations/"+id+"/category", agent, categoryRequest{Category: "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad category status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/feedback", client, feedbackRequest{Rating: 5}); w.Code != http.StatusConflict {
		t.Errorf("early feedback status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/close", agent, closeRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("close without reason status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/close", agent, closeRequest{Reason: "fixed"}); w.Code != http.StatusOK {
		t.Fatalf("close status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/messages", client, replyRequest{Content: "wait"}); w.Code != http.StatusConflict {
		t.Errorf("reply after close status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/feedback", client, feedbackRequest{Rating: 9}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid rating status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/feedback", client, feedbackRequest{Rating: 5, Description: "great"}); w.Code != http.StatusOK {
		t.Fatalf("feedback status = %d", w.Code)
	}

	ws := decode[[]protocol.Consultation](t, env.do(t, "GET", "/api/workspace", agent, nil))
	if len(ws) != 0 {
		t.Errorf("workspace = %d", len(ws))
	}
	hist := decode[[]protocol.Consultation](t, env.do(t, "GET", "/api/history", client, nil))
	if len(hist) != 1 || hist[0].Status != protocol.StatusClosed {
		t.Errorf("history = %+v", hist)
	}
	report := decode[desk.PerformanceReport](t, env.do(t, "GET", "/api/performance", agent, nil))
	if len(report.Agents) != 1 || report.Agents[0].AgentID != "cs-1" || report.Average.String() != "5" {
		t.Errorf("report = %+v", report)
	}
}

func TestClaimCapacityConflict(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t, "budi.client@example.com")
	agent := env.login(t, "doni.dermawan@directline.com")

	var ids []string
	for _, text := range []string{"a", "b", "c", "d"} {
		w := env.do(t, "POST", "/api/consultations", client, openRequest{Content: text, Category: "low"})
		ids = append(ids, decode[protocol.Consultation](t, w).ID)
	}
	env.desk.Wait()
	for _, id := range ids[:3] {
		env.do(t, "POST", "/api/workspace/"+id, agent, nil)
	}

	w := env.do(t, "POST", "/api/workspace/"+ids[3], agent, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Error  string          `json:"error"`
		Notice protocol.Notice `json:"notice"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Notice.Level != protocol.NoticeWarning || body.Notice.Title == "" {
		t.Errorf("notice = %+v", body.Notice)
	}

	if w := env.do(t, "DELETE", "/api/workspace/"+ids[0]+"?reason=handover", agent, nil); w.Code != http.StatusNoContent {
		t.Fatalf("release status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/workspace/"+ids[3], agent, nil); w.Code != http.StatusOK {
		t.Errorf("claim after release status = %d", w.Code)
	}
}

func TestNotFoundAndForbidden(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t, "budi.client@example.com")
	stranger := env.login(t, "stranger@example.com")
	agent := env.login(t, "siti.support@directline.com")

	if w := env.do(t, "GET", "/api/consultations/missing", agent, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
	w := env.do(t, "POST", "/api/consultations", client, openRequest{Content: "private", Category: "medium"})
	id := decode[protocol.Consultation](t, w).ID
	env.desk.Wait()

	if w := env.do(t, "GET", "/api/consultations/"+id, stranger, nil); w.Code != http.StatusForbidden {
		t.Errorf("stranger get status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/consultations/"+id+"/messages", agent, replyRequest{Content: "hi"}); w.Code != http.StatusForbidden {
		t.Errorf("unclaimed reply status = %d", w.Code)
	}
}

func TestStaffManagement(t *testing.T) {
	env := newTestEnv(t)
	supervisor := env.login(t, "maya.pratama@directline.com")
	agent := env.login(t, "siti.support@directline.com")

	if w := env.do(t, "GET", "/api/staff", agent, nil); w.Code != http.StatusForbidden {
		t.Errorf("agent list staff status = %d", w.Code)
	}
	staff := decode[[]protocol.Identity](t, env.do(t, "GET", "/api/staff", supervisor, nil))
	if len(staff) != 4 {
		t.Errorf("staff = %d", len(staff))
	}

	w := env.do(t, "POST", "/api/staff", supervisor, addStaffRequest{Name: "Andi", Email: "andi@example.com", Team: "Billing & Payments"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body)
	}
	added := decode[protocol.Identity](t, w)
	if w := env.do(t, "POST", "/api/staff", supervisor, addStaffRequest{Name: "Dup", Email: "andi@example.com"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d", w.Code)
	}

	andi := env.login(t, "andi@example.com")
	if w := env.do(t, "DELETE", "/api/staff/"+added.ID, supervisor, nil); w.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/me", andi, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("removed staff token status = %d", w.Code)
	}
	if w := env.do(t, "DELETE", "/api/staff/user-1", supervisor, nil); w.Code != http.StatusBadRequest {
		t.Errorf("remove client status = %d", w.Code)
	}
}

func TestLogsAndAudit(t *testing.T) {
	env := newTestEnv(t)
	env.logs.entries = []logbuf.Entry{{Level: "INFO", Message: "consultation closed"}}
	supervisor := env.login(t, "maya.pratama@directline.com")
	agent := env.login(t, "siti.support@directline.com")
	client := env.login(t, "budi.client@example.com")

	if w := env.do(t, "GET", "/api/logs", agent, nil); w.Code != http.StatusForbidden {
		t.Errorf("agent logs status = %d", w.Code)
	}
	entries := decode[[]logbuf.Entry](t, env.do(t, "GET", "/api/logs?level=warn&limit=5", supervisor, nil))
	if len(entries) != 1 {
		t.Errorf("entries = %d", len(entries))
	}
	if env.logs.last.Limit != 5 || env.logs.last.MinLevel != logbuf.ParseLevel("WARN") {
		t.Errorf("filter = %+v", env.logs.last)
	}

	w := env.do(t, "POST", "/api/consultations", client, openRequest{Content: "audit me", Category: "low"})
	id := decode[protocol.Consultation](t, w).ID
	env.desk.Wait()

	if w := env.do(t, "GET", "/api/consultations/"+id+"/audit", supervisor, nil); w.Code != http.StatusOK {
		t.Fatalf("audit status = %d", w.Code)
	}
	if env.logs.last.Key != "consultation" || env.logs.last.Value != id {
		t.Errorf("audit filter = %+v", env.logs.last)
	}
	if w := env.do(t, "GET", "/api/consultations/missing/audit", supervisor, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing audit status = %d", w.Code)
	}
}

func TestIntakeWebhook(t *testing.T) {
	env := newTestEnv(t)
	h := intake.New(map[string]intake.SourceConfig{"webform": {BearerToken: "form-token"}}, IntakeOpener(env.desk, env.dir), nil)
	env.srv = NewServer(env.desk, env.dir, env.srv.tokens, Config{Intake: h}, nil, env.logs)

	body := `{"email":"walkin@example.com","content":"Where is my invoice?","category":"low"}`
	req := httptest.NewRequest("POST", "/api/intake/webform", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer form-token")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	id := decode[map[string]string](t, w)["consultation_id"]
	env.desk.Wait()

	client := env.login(t, "walkin@example.com")
	got := decode[protocol.Consultation](t, env.do(t, "GET", "/api/consultations/"+id, client, nil))
	if got.Category != protocol.CategoryLow || got.Client.Email != "walkin@example.com" {
		t.Errorf("consultation = %+v", got)
	}

	staffBody := `{"email":"siti.support@directline.com","content":"test"}`
	req = httptest.NewRequest("POST", "/api/intake/webform", strings.NewReader(staffBody))
	req.Header.Set("Authorization", "Bearer form-token")
	w = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("staff submission status = %d", w.Code)
	}
}
