package facttrace

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestHelper provides utilities for tests
type TestHelper struct {
	t       *testing.T
	tempDir string
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTempDir creates a temporary directory for testing
func (h *TestHelper) CreateTempDir() string {
	tempDir, err := os.MkdirTemp("", "facttrace-test-*")
	if err != nil {
		h.t.Fatalf("Failed to create temp dir: %v", err)
	}
	h.tempDir = tempDir
	return tempDir
}

// Cleanup removes the temporary directory
func (h *TestHelper) Cleanup() {
	if h.tempDir != "" {
		os.RemoveAll(h.tempDir)
	}
}

// WriteFile writes data to a file in the temp directory and returns its path
func (h *TestHelper) WriteFile(filename, data string) string {
	if h.tempDir == "" {
		h.CreateTempDir()
	}

	path := filepath.Join(h.tempDir, filename)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		h.t.Fatalf("Failed to write file: %v", err)
	}
	return path
}

// AssertNoError checks if an error is nil
func (h *TestHelper) AssertNoError(err error, message string) {
	if err != nil {
		h.t.Errorf("%s: unexpected error: %v", message, err)
	}
}

// AssertError checks if an error is not nil
func (h *TestHelper) AssertError(err error, message string) {
	if err == nil {
		h.t.Errorf("%s: expected error, got nil", message)
	}
}

// SampleVerdict creates a complete verdict for testing
func SampleVerdict() *Verdict {
	confidence := 0.85
	return &Verdict{
		Claim: "Coffee cures heart disease.",
		Truth: "Moderate coffee consumption was associated with slightly lower cardiovascular risk.",
		Conversation: []AgentMessage{
			{Agent: AgentEvidenceScout, Message: "The study is observational.", Timestamp: "12:00:01"},
			{Agent: AgentAdvocate, Message: "The claim reflects the association.", Timestamp: "12:00:02"},
			{Agent: AgentSkeptic, Message: "**Cures** overstates an 8% association.", Timestamp: "12:00:03"},
			{Agent: AgentFactChecker, Message: "**Exaggerated**: association became causation.", Timestamp: "12:00:04"},
			{Agent: AgentJudge, Message: "The claim converts a modest association into a cure.", Timestamp: "12:00:05"},
		},
		Summary:     "The claim converts a modest association into a cure.",
		Decision:    DecisionMutated,
		Confidence:  &confidence,
		Disclaimers: []string{"Single observational study"},
	}
}

// sseRecord formats one event stream record for a mock server
func sseRecord(t *testing.T, eventType string, data any) string {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal event data: %v", err)
	}
	payload, err := json.Marshal(map[string]json.RawMessage{
		"type": json.RawMessage(`"` + eventType + `"`),
		"data": raw,
	})
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return "data: " + string(payload) + "\n\n"
}

// MockStreamServer serves a fixed event-stream body, flushed in chunks of
// the given size so the consumer sees arbitrary record boundaries.
// chunkSize <= 0 writes the whole body at once.
func MockStreamServer(t *testing.T, body string, chunkSize int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}

		if chunkSize <= 0 {
			io.WriteString(w, body)
			flusher.Flush()
			return
		}
		for start := 0; start < len(body); start += chunkSize {
			end := start + chunkSize
			if end > len(body) {
				end = len(body)
			}
			io.WriteString(w, body[start:end])
			flusher.Flush()
		}
	}))
}

// MockLLMServer mocks the OpenRouter chat-completions endpoint. It picks a
// canned response based on which jury role the system prompt belongs to,
// and points the package at itself until the test ends.
func MockLLMServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Errorf("Missing Authorization header")
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode chat request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("Expected system+user messages, got %d", len(req.Messages))
		}

		system := req.Messages[0].Content
		user := req.Messages[1].Content

		var content string
		switch {
		case strings.HasPrefix(system, "You are a Judge"):
			content = `{"decision": "mutated", "confidence": 0.85, "summary": "The claim overstates the study.", "disclaimers": ["Single study"]}`
		case strings.HasPrefix(system, "You are an Analyst") && strings.HasPrefix(user, "CLAIM"):
			content = "The claim asserts a cure."
		case strings.HasPrefix(system, "You are an Analyst"):
			content = "The truth reports an association."
		case strings.HasPrefix(system, "You are an Evidence Scout"):
			content = "- **8%** lower incidence\n- observational design"
		case strings.HasPrefix(system, "You are an Advocate"):
			content = "The claim captures the finding."
		case strings.HasPrefix(system, "You are a Skeptic"):
			content = "**Cures** is an exaggeration."
		case strings.HasPrefix(system, "You are a Fact-Checker"):
			content = "**Exaggerated**: association is not causation."
		default:
			content = "Unexpected prompt."
			t.Errorf("Unexpected system prompt: %.60s", system)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))

	oldURL := OpenRouterAPIURL
	oldKey := OpenRouterAPIKey
	OpenRouterAPIURL = server.URL
	OpenRouterAPIKey = "test-key"
	t.Cleanup(func() {
		OpenRouterAPIURL = oldURL
		OpenRouterAPIKey = oldKey
		server.Close()
	})

	return server
}
