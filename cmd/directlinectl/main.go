package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/directline-io/directline/internal/classify"
	"github.com/directline-io/directline/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "login":
		need(args, 1, "login <email>")
		cmdLogin(args[0])
	case "queue":
		cmdList("/api/queue")
	case "workspace":
		cmdList("/api/workspace")
	case "history":
		cmdList("/api/history")
	case "show":
		need(args, 1, "show <id>")
		cmdShow(args[0])
	case "claim":
		need(args, 1, "claim <id>")
		cmdClaim(args[0])
	case "release":
		cmdRelease(args)
	case "close":
		cmdClose(args)
	case "performance":
		cmdPerformance()
	case "classify":
		cmdClassify(args)
	case "config":
		if len(args) < 2 || args[0] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: directlinectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: directlinectl "+usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiDo("GET", "/api/health", nil)
	if err != nil {
		fail(err)
	}
	fmt.Println(string(body))
}

func cmdLogin(email string) {
	body, err := apiDo("POST", "/api/login", map[string]string{"email": email})
	if err != nil {
		fail(err)
	}
	var resp struct {
		Token       string `json:"token"`
		Provisioned bool   `json:"provisioned"`
		Identity    struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Role string `json:"role"`
		} `json:"identity"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "logged in as %s (%s, %s)\n", resp.Identity.Name, resp.Identity.ID, resp.Identity.Role)
	if resp.Provisioned {
		fmt.Fprint(os.Stderr, ", new client")
	}
	fmt.Fprintln(os.Stderr)
	fmt.Printf("export DIRECTLINE_TOKEN=%s\n", resp.Token)
}

type consultationRow struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Client   struct {
		Name string `json:"name"`
	} `json:"client"`
	Agent *struct {
		Name string `json:"name"`
	} `json:"agent"`
	Messages []struct {
		Content string `json:"content"`
	} `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func cmdList(path string) {
	body, err := apiDo("GET", path, nil)
	if err != nil {
		fail(err)
	}
	var rows []consultationRow
	json.Unmarshal(body, &rows)
	if len(rows) == 0 {
		fmt.Println("(none)")
		return
	}
	for _, r := range rows {
		agent := "-"
		if r.Agent != nil {
			agent = r.Agent.Name
		}
		var first string
		if len(r.Messages) > 0 {
			first = r.Messages[0].Content
		}
		fmt.Printf("%-40s %-9s %-22s %-16s %-16s %s\n",
			r.ID, r.Category, r.Status, r.Client.Name, agent, clip(first, 50))
	}
}

func cmdShow(id string) {
	body, err := apiDo("GET", "/api/consultations/"+url.PathEscape(id), nil)
	if err != nil {
		fail(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdClaim(id string) {
	body, err := apiDo("POST", "/api/workspace/"+url.PathEscape(id), nil)
	if err != nil {
		fail(err)
	}
	var r consultationRow
	json.Unmarshal(body, &r)
	fmt.Printf("claimed %s (%s)\n", r.ID, r.Category)
}

func cmdRelease(args []string) {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	reason := fs.String("reason", "", "Why the consultation is released")
	fs.Parse(args)
	need(fs.Args(), 1, "release [-reason text] <id>")

	id := fs.Arg(0)
	path := "/api/workspace/" + url.PathEscape(id) + "?reason=" + url.QueryEscape(*reason)
	if _, err := apiDo("DELETE", path, nil); err != nil {
		fail(err)
	}
	fmt.Printf("released %s\n", id)
}

func cmdClose(args []string) {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	reason := fs.String("reason", "", "Closing reason (required)")
	fs.Parse(args)
	need(fs.Args(), 1, "close -reason text <id>")

	id := fs.Arg(0)
	if _, err := apiDo("POST", "/api/consultations/"+url.PathEscape(id)+"/close", map[string]string{"reason": *reason}); err != nil {
		fail(err)
	}
	fmt.Printf("closed %s\n", id)
}

func cmdPerformance() {
	body, err := apiDo("GET", "/api/performance", nil)
	if err != nil {
		fail(err)
	}
	var report struct {
		Consultations []struct {
			ID       string `json:"id"`
			Feedback struct {
				Rating      int    `json:"rating"`
				Description string `json:"description"`
			} `json:"feedback"`
		} `json:"consultations"`
		Agents []struct {
			AgentID string `json:"agent_id"`
			Name    string `json:"name"`
			Rated   int    `json:"rated"`
			Average string `json:"average"`
		} `json:"agents"`
		Average string `json:"average"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		fail(err)
	}
	fmt.Printf("%d rated consultations, average %s\n\n", len(report.Consultations), report.Average)
	for _, a := range report.Agents {
		fmt.Printf("%-10s %-20s %3d rated  avg %s\n", a.AgentID, a.Name, a.Rated, a.Average)
	}
	fmt.Println()
	for _, c := range report.Consultations {
		fmt.Printf("%-40s %s %s\n", c.ID, strings.Repeat("*", c.Feedback.Rating), clip(c.Feedback.Description, 60))
	}
}

// --- local commands ---

// cmdClassify runs one classification locally against the configured backend.
func cmdClassify(args []string) {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	typ := fs.String("type", envOr("DIRECTLINE_CLASSIFIER_TYPE", "rules"), "Classifier: rules, openai or anthropic")
	model := fs.String("model", envOr("DIRECTLINE_CLASSIFIER_MODEL", ""), "Model name")
	apiKey := fs.String("api-key", os.Getenv("DIRECTLINE_CLASSIFIER_API_KEY"), "API key for openai/anthropic")
	baseURL := fs.String("base-url", envOr("DIRECTLINE_CLASSIFIER_BASE_URL", ""), "Override API base URL")
	timeout := fs.Duration("timeout", 20*time.Second, "Classification timeout")
	fs.Parse(args)
	need(fs.Args(), 1, "classify [flags] <text>")

	var opts []classify.Option
	if *model != "" {
		opts = append(opts, classify.WithModel(*model))
	}
	if *baseURL != "" {
		opts = append(opts, classify.WithBaseURL(*baseURL))
	}
	var c classify.Classifier
	switch *typ {
	case "openai", "anthropic":
		if *apiKey == "" {
			fail(fmt.Errorf("api key required for %s (-api-key or DIRECTLINE_CLASSIFIER_API_KEY)", *typ))
		}
		if *typ == "openai" {
			c = classify.NewOpenAI(*apiKey, opts...)
		} else {
			c = classify.NewAnthropic(*apiKey, opts...)
		}
	default:
		c = classify.NewRules(nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	result, err := c.Classify(ctx, strings.Join(fs.Args(), " "))
	if err != nil {
		fail(err)
	}
	fmt.Printf("team:     %s\nkeywords: %s\n", result.SuggestedTeam, result.Keywords)
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiDo(method, path string, payload any) ([]byte, error) {
	base := envOr("DIRECTLINE_API_URL", "http://localhost:8080")

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := os.Getenv("DIRECTLINE_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("directlinectl - DirectLine support desk CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                      Check daemon health")
	fmt.Println("  login <email>               Get a token (prints an export line)")
	fmt.Println("  queue                       List consultations awaiting a claim")
	fmt.Println("  workspace                   List your claimed consultations")
	fmt.Println("  history                     List consultations you can see")
	fmt.Println("  show <id>                   Show one consultation")
	fmt.Println("  claim <id>                  Claim a consultation")
	fmt.Println("  release [-reason r] <id>    Release a claimed consultation")
	fmt.Println("  close -reason r <id>        Close a consultation")
	fmt.Println("  performance                 Show ratings per agent")
	fmt.Println("  classify [flags] <text>     Classify text locally")
	fmt.Println("  config validate <path>      Validate a config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DIRECTLINE_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  DIRECTLINE_TOKEN     Token from 'directlinectl login'")
}
