package facttrace

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// chunkReader hands out at most n bytes per Read so record framing can be
// exercised across every possible chunk boundary.
type chunkReader struct {
	data []byte
	n    int
	pos  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.n
	if end > len(r.data) {
		end = len(r.data)
	}
	count := copy(p, r.data[r.pos:end])
	r.pos += count
	return count, nil
}

// collectSnapshots drains a snapshot channel until it closes, failing the
// test if the stream does not finish in time.
func collectSnapshots(t *testing.T, updates <-chan Snapshot) []Snapshot {
	t.Helper()

	var snapshots []Snapshot
	timeout := time.After(10 * time.Second)
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return snapshots
			}
			snapshots = append(snapshots, snap)
		case <-timeout:
			t.Fatalf("Timed out waiting for snapshot channel to close (got %d snapshots)", len(snapshots))
		}
	}
}

func agentRecord(t *testing.T, agent, message, timestamp string) string {
	t.Helper()
	return sseRecord(t, "agent", AgentMessage{Agent: agent, Message: message, Timestamp: timestamp})
}

func TestSplitRecordsEveryChunkBoundary(t *testing.T) {
	body := agentRecord(t, AgentEvidenceScout, "- **8%** lower incidence", "12:00:01") +
		agentRecord(t, AgentSkeptic, "**Cures** is an exaggeration.", "12:00:02") +
		sseRecord(t, "verdict", SampleVerdict())

	parse := func(r io.Reader) []StreamEvent {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64), maxStreamRecordSize)
		scanner.Split(splitRecords)

		var events []StreamEvent
		for scanner.Scan() {
			payload, ok := recordData(scanner.Bytes())
			if !ok {
				continue
			}
			event, err := DecodeStreamEvent(payload)
			if err != nil {
				t.Fatalf("Failed to decode record: %v", err)
			}
			events = append(events, event)
		}
		if err := scanner.Err(); err != nil {
			t.Fatalf("Scanner failed: %v", err)
		}
		return events
	}

	want := parse(strings.NewReader(body))
	if len(want) != 3 {
		t.Fatalf("Expected 3 events from reference parse, got %d", len(want))
	}

	for size := 1; size <= len(body); size++ {
		got := parse(&chunkReader{data: []byte(body), n: size})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("Chunk size %d changed the parsed events:\n%s", size, diff)
		}
	}
}

func TestSplitRecordsCRLFDelimiters(t *testing.T) {
	record := agentRecord(t, AgentAdvocate, "The claim captures the finding.", "")
	payload := strings.TrimSuffix(record, "\n\n")
	body := strings.ReplaceAll(payload, "\n", "\r\n") + "\r\n\r\n"

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Split(splitRecords)

	if !scanner.Scan() {
		t.Fatal("Expected one record")
	}
	data, ok := recordData(scanner.Bytes())
	if !ok {
		t.Fatal("Expected a data payload")
	}
	event, err := DecodeStreamEvent(data)
	if err != nil {
		t.Fatalf("Failed to decode CRLF record: %v", err)
	}
	if event.Kind != EventAgent || event.Agent.Agent != AgentAdvocate {
		t.Errorf("Unexpected event from CRLF record: %+v", event)
	}
	if scanner.Scan() {
		t.Error("Expected exactly one record")
	}
}

func TestRecordData(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   string
		ok     bool
	}{
		{"with space", `data: {"a":1}`, `{"a":1}`, true},
		{"without space", `data:{"a":1}`, `{"a":1}`, true},
		{"multi-line data", "data: line one\ndata: line two", "line one\nline two", true},
		{"trailing carriage return", "data: {\"a\":1}\r", `{"a":1}`, true},
		{"comment only", ": keepalive", "", false},
		{"other field only", "event: message", "", false},
		{"mixed fields", "event: message\ndata: payload", "payload", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := recordData([]byte(tt.record))
			if ok != tt.ok {
				t.Fatalf("recordData ok = %v, want %v", ok, tt.ok)
			}
			if ok && string(got) != tt.want {
				t.Errorf("recordData = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsumerStreamsVerdictLifecycle(t *testing.T) {
	final := SampleVerdict()
	body := agentRecord(t, AgentEvidenceScout, "The study is observational.", "12:00:01") +
		agentRecord(t, AgentSkeptic, "**Cures** overstates the data.", "12:00:02") +
		sseRecord(t, "verdict", final)

	server := MockStreamServer(t, body, 3)
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{
		Claim: "Coffee cures heart disease.",
		Truth: "Moderate consumption was associated with lower risk.",
	})

	snapshots := collectSnapshots(t, updates)
	if len(snapshots) != 5 {
		t.Fatalf("Expected 5 snapshots (start, 3 events, done), got %d", len(snapshots))
	}

	seed := snapshots[0]
	if seed.State != StateAwaiting || !seed.Streaming {
		t.Errorf("Seed snapshot state = %v streaming = %v", seed.State, seed.Streaming)
	}
	if seed.Verdict.Claim != "Coffee cures heart disease." || len(seed.Verdict.Conversation) != 0 {
		t.Errorf("Seed verdict not seeded from the request: %+v", seed.Verdict)
	}
	if seed.Verdict.Decision != DecisionUncertain {
		t.Errorf("Seed decision = %q, want uncertain", seed.Verdict.Decision)
	}

	if got := len(snapshots[1].Verdict.Conversation); got != 1 {
		t.Errorf("After first agent event: %d messages, want 1", got)
	}
	if got := len(snapshots[2].Verdict.Conversation); got != 2 {
		t.Errorf("After second agent event: %d messages, want 2", got)
	}
	if snapshots[2].Verdict.Conversation[0].Agent != AgentEvidenceScout ||
		snapshots[2].Verdict.Conversation[1].Agent != AgentSkeptic {
		t.Errorf("Agent order not preserved: %+v", snapshots[2].Verdict.Conversation)
	}

	// The verdict event replaces everything held so far, transcript included.
	afterVerdict := snapshots[3].Verdict
	if diff := cmp.Diff(*final, afterVerdict); diff != "" {
		t.Errorf("Verdict event did not replace state wholesale:\n%s", diff)
	}
	if len(afterVerdict.Conversation) != 5 {
		t.Errorf("Post-verdict transcript has %d messages, want the event's 5", len(afterVerdict.Conversation))
	}

	terminal := snapshots[4]
	if terminal.State != StateDone || terminal.Streaming || terminal.Err != nil {
		t.Errorf("Terminal snapshot = state %v streaming %v err %v", terminal.State, terminal.Streaming, terminal.Err)
	}

	current, active := consumer.Current()
	if active {
		t.Error("Current reports an active stream after clean close")
	}
	if current.Decision != DecisionMutated {
		t.Errorf("Current decision = %q, want mutated", current.Decision)
	}
	if err := consumer.Err(); err != nil {
		t.Errorf("Err after clean close = %v", err)
	}
}

func TestConsumerSkipsMalformedRecord(t *testing.T) {
	body := agentRecord(t, AgentEvidenceScout, "First point.", "") +
		"data: {this is not json\n\n" +
		agentRecord(t, AgentAdvocate, "Second point.", "")

	server := MockStreamServer(t, body, 0)
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	if len(snapshots) != 4 {
		t.Fatalf("Expected 4 snapshots (start, 2 agents, done), got %d", len(snapshots))
	}

	terminal := snapshots[len(snapshots)-1]
	if terminal.State != StateDone {
		t.Errorf("Session did not survive the malformed record: state %v, err %v", terminal.State, terminal.Err)
	}
	conv := terminal.Verdict.Conversation
	if len(conv) != 2 || conv[0].Message != "First point." || conv[1].Message != "Second point." {
		t.Errorf("Expected exactly the two well-formed messages, got %+v", conv)
	}
}

func TestConsumerIgnoresUnknownEvents(t *testing.T) {
	body := ": keepalive\n\n" +
		sseRecord(t, "heartbeat", map[string]string{"ts": "now"}) +
		agentRecord(t, AgentJudge, "Final word.", "") +
		sseRecord(t, "progress", map[string]int{"stage": 3})

	server := MockStreamServer(t, body, 0)
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	if len(snapshots) != 3 {
		t.Fatalf("Expected 3 snapshots (start, 1 agent, done), got %d", len(snapshots))
	}
	terminal := snapshots[len(snapshots)-1]
	if terminal.State != StateDone || terminal.Err != nil {
		t.Errorf("Unknown events should not affect the session: state %v err %v", terminal.State, terminal.Err)
	}
	if len(terminal.Verdict.Conversation) != 1 {
		t.Errorf("Expected 1 message, got %d", len(terminal.Verdict.Conversation))
	}
}

func TestConsumerSurfacesStreamError(t *testing.T) {
	body := agentRecord(t, AgentEvidenceScout, "First point.", "") +
		"data: {\"type\": \"error\", \"message\": \"Jury process failed: upstream down\"}\n\n"

	server := MockStreamServer(t, body, 0)
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	if len(snapshots) != 3 {
		t.Fatalf("Expected 3 snapshots (start, 1 agent, failure), got %d", len(snapshots))
	}

	terminal := snapshots[len(snapshots)-1]
	if terminal.State != StateFailed || terminal.Streaming {
		t.Errorf("Terminal state = %v streaming = %v, want failed/false", terminal.State, terminal.Streaming)
	}
	if terminal.Err == nil || terminal.Err.Error() != "Jury process failed: upstream down" {
		t.Errorf("Error message not surfaced verbatim: %v", terminal.Err)
	}
	if len(terminal.Verdict.Conversation) != 1 {
		t.Errorf("Partial transcript should be retained, got %d messages", len(terminal.Verdict.Conversation))
	}
	if err := consumer.Err(); err == nil || err.Error() != "Jury process failed: upstream down" {
		t.Errorf("Err() = %v, want the reported message", err)
	}
}

func TestConsumerStreamErrorWithoutMessage(t *testing.T) {
	server := MockStreamServer(t, "data: {\"type\": \"error\"}\n\n", 0)
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	terminal := snapshots[len(snapshots)-1]
	if terminal.State != StateFailed || terminal.Err == nil {
		t.Errorf("A message-less error event should still fail the session: state %v err %v", terminal.State, terminal.Err)
	}
}

func TestConsumerAnalysisReplacement(t *testing.T) {
	body := sseRecord(t, "analysis", Analysis{ClaimAnalysis: "first claim take", TruthAnalysis: "first truth take"}) +
		sseRecord(t, "analysis", Analysis{ClaimAnalysis: "revised claim take", TruthAnalysis: "revised truth take"})

	server := MockStreamServer(t, body, 0)
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	terminal := snapshots[len(snapshots)-1]
	if terminal.Verdict.Analysis == nil {
		t.Fatal("Analysis missing from terminal snapshot")
	}
	want := Analysis{ClaimAnalysis: "revised claim take", TruthAnalysis: "revised truth take"}
	if diff := cmp.Diff(want, *terminal.Verdict.Analysis); diff != "" {
		t.Errorf("Later analysis did not replace the earlier one:\n%s", diff)
	}
}

func TestConsumerReplayIsDeterministic(t *testing.T) {
	body := agentRecord(t, AgentEvidenceScout, "- observational design", "10:00:00") +
		sseRecord(t, "analysis", Analysis{ClaimAnalysis: "asserts a cure", TruthAnalysis: "reports an association"}) +
		agentRecord(t, AgentSkeptic, "**Cures** is unsupported.", "10:00:01") +
		sseRecord(t, "verdict", SampleVerdict())

	run := func() Verdict {
		server := MockStreamServer(t, body, 0)
		defer server.Close()

		consumer := NewConsumer(server.URL)
		updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})
		snapshots := collectSnapshots(t, updates)
		return snapshots[len(snapshots)-1].Verdict
	}

	first := run()
	second := run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Replaying the same byte stream produced a different verdict:\n%s", diff)
	}
}

func TestConsumerReportsErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "LLM quota exceeded"}`))
	}))
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	if len(snapshots) != 2 {
		t.Fatalf("Expected 2 snapshots (start, failure), got %d", len(snapshots))
	}

	terminal := snapshots[1]
	if terminal.State != StateFailed || terminal.Streaming {
		t.Errorf("Terminal state = %v streaming = %v, want failed/false", terminal.State, terminal.Streaming)
	}
	if terminal.Err == nil || terminal.Err.Error() != "LLM quota exceeded" {
		t.Errorf("Error detail not surfaced verbatim: %v", terminal.Err)
	}
	if terminal.Verdict.Claim != "c" || terminal.Verdict.Truth != "t" {
		t.Errorf("Seeded verdict not retained after failure: %+v", terminal.Verdict)
	}
	if len(terminal.Verdict.Conversation) != 0 {
		t.Errorf("Conversation should still be empty, got %d messages", len(terminal.Verdict.Conversation))
	}
	if err := consumer.Err(); err == nil || err.Error() != "LLM quota exceeded" {
		t.Errorf("Err() = %v, want the surfaced detail", err)
	}
}

func TestConsumerReportsStatusWithoutDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	terminal := snapshots[len(snapshots)-1]
	if terminal.State != StateFailed {
		t.Fatalf("Expected failed state, got %v", terminal.State)
	}
	want := "verification request failed with status 503"
	if terminal.Err == nil || terminal.Err.Error() != want {
		t.Errorf("Err = %v, want %q", terminal.Err, want)
	}
}

func TestConsumerConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing is listening anymore

	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(context.Background(), VerifyRequest{Claim: "c", Truth: "t"})

	snapshots := collectSnapshots(t, updates)
	terminal := snapshots[len(snapshots)-1]
	if terminal.State != StateFailed || terminal.Err == nil {
		t.Errorf("Expected failed state with an error, got %v / %v", terminal.State, terminal.Err)
	}
}

func TestConsumerCancellation(t *testing.T) {
	firstSent := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, agentRecord(t, AgentEvidenceScout, "First point.", ""))
		w.(http.Flusher).Flush()
		close(firstSent)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	consumer := NewConsumer(server.URL)
	updates := consumer.Verify(ctx, VerifyRequest{Claim: "c", Truth: "t"})

	<-firstSent
	cancel()

	collectSnapshots(t, updates) // must close, not hang

	if err := consumer.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("Err after cancel = %v, want context.Canceled in the chain", err)
	}
}

func TestConsumerSupersededSessionDropsLateEvents(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode verify request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		switch req.Claim {
		case "first":
			flusher.Flush()
			<-release
			io.WriteString(w, agentRecord(t, AgentEvidenceScout, "stale message", ""))
			flusher.Flush()
		case "second":
			io.WriteString(w, sseRecord(t, "verdict", SampleVerdict()))
			flusher.Flush()
		}
	}))
	defer server.Close()

	consumer := NewConsumer(server.URL)

	updates1 := consumer.Verify(context.Background(), VerifyRequest{Claim: "first", Truth: "t"})
	<-updates1 // first session's start notification

	updates2 := consumer.Verify(context.Background(), VerifyRequest{Claim: "second", Truth: "t"})
	snapshots2 := collectSnapshots(t, updates2)
	close(release)

	for snap := range updates1 {
		if len(snap.Verdict.Conversation) > 0 && snap.Verdict.Conversation[0].Message == "stale message" {
			t.Error("Superseded session's event leaked into a snapshot")
		}
	}

	terminal := snapshots2[len(snapshots2)-1]
	if terminal.Verdict.Decision != DecisionMutated {
		t.Errorf("Second session's verdict missing: %+v", terminal.Verdict)
	}

	current, _ := consumer.Current()
	for _, msg := range current.Conversation {
		if msg.Message == "stale message" {
			t.Error("Superseded session's event reached the held verdict")
		}
	}
	if current.Decision != DecisionMutated {
		t.Errorf("Current decision = %q, want the second session's verdict", current.Decision)
	}
}

func TestConsumerCurrentBeforeVerify(t *testing.T) {
	consumer := NewConsumer("http://localhost:0")
	if _, active := consumer.Current(); active {
		t.Error("Current reports activity before any Verify call")
	}
}
