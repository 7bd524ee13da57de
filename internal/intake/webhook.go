// Package intake accepts consultations from external systems (web forms,
// email gateways) over signed webhooks.
package intake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/directline-io/directline/pkg/protocol"
)

// SourceConfig authenticates one intake source.
type SourceConfig struct {
	// Secret verifies an HMAC-SHA256 body signature (X-Signature-256).
	// If empty, BearerToken is used instead.
	Secret      string `json:"secret,omitempty" yaml:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
	// Category used when the payload names none. Defaults to medium.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Payload is the JSON body of an intake request.
type Payload struct {
	Email      string               `json:"email"`
	Content    string               `json:"content"`
	Category   string               `json:"category,omitempty"`
	Attachment *protocol.Attachment `json:"attachment,omitempty"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
}

// Request is a verified intake submission.
type Request struct {
	Source     string
	Email      string
	Content    string
	Category   protocol.Category
	Attachment *protocol.Attachment
}

// OpenFunc opens a consultation for a verified submission and returns its id.
type OpenFunc func(ctx context.Context, req Request) (string, error)

// ErrRejected marks OpenFunc errors caused by the submission itself; the
// handler answers 400 instead of 500.
var ErrRejected = errors.New("intake: submission rejected")

// Handler serves POST .../{source}.
type Handler struct {
	sources map[string]SourceConfig
	open    OpenFunc
	logger  *slog.Logger
}

// New creates an intake handler.
func New(sources map[string]SourceConfig, open OpenFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sources: sources, open: open, logger: logger}
}

// Sources returns the configured source names, sorted.
func (h *Handler) Sources() []string {
	names := make([]string, 0, len(h.sources))
	for name := range h.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := extractName(r.URL.Path)
	source, ok := h.sources[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown intake source: %s", name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !authenticate(r, source, body) {
		h.logger.Warn("intake authentication failed", "source", name, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(p.Content) == "" || strings.TrimSpace(p.Email) == "" {
		writeError(w, http.StatusBadRequest, "email and content are required")
		return
	}

	catName := p.Category
	if catName == "" {
		catName = source.Category
	}
	category := protocol.CategoryMedium
	if catName != "" {
		category, err = protocol.ParseCategory(catName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	content := p.Content
	if len(p.Metadata) > 0 {
		meta, _ := json.Marshal(p.Metadata)
		content = fmt.Sprintf("%s\n\n[%s metadata: %s]", content, name, meta)
	}

	id, err := h.open(r.Context(), Request{
		Source:     name,
		Email:      p.Email,
		Content:    content,
		Category:   category,
		Attachment: p.Attachment,
	})
	if err != nil {
		if errors.Is(err, ErrRejected) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("intake failed", "source", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("consultation received", "source", name, "consultation", id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "consultation_id": id})
}

func authenticate(r *http.Request, source SourceConfig, body []byte) bool {
	if source.Secret != "" {
		return verifyHMAC(body, source.Secret, r.Header.Get("X-Signature-256"))
	}
	if source.BearerToken != "" {
		return r.Header.Get("Authorization") == "Bearer "+source.BearerToken
	}
	// Unauthenticated sources are for local development only.
	return true
}

// verifyHMAC checks a "sha256=<hex>" signature.
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the X-Signature-256 value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	return path[strings.LastIndexByte(path, '/')+1:]
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
