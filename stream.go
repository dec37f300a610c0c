package facttrace

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// maxStreamRecordSize bounds a single event record; a full verdict event
// carries the whole transcript, so this is generous.
const maxStreamRecordSize = 4 << 20

// ConsumerState tracks one verification session from request to terminal.
type ConsumerState int

const (
	// StateIdle means no verification has been requested yet.
	StateIdle ConsumerState = iota

	// StateAwaiting means the request was issued but no response headers
	// have arrived. The seeded verdict is already visible.
	StateAwaiting

	// StateStreaming means events are being folded into the verdict.
	StateStreaming

	// StateDone means the stream closed cleanly. Absorbing.
	StateDone

	// StateFailed means the transport failed before or during streaming.
	// Absorbing; the partial verdict is retained for inspection.
	StateFailed
)

func (s ConsumerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "invalid"
}

// Snapshot is what the consumer hands to a renderer: the full verdict as
// of the latest accepted event, whether the stream is still live, and the
// terminal error when there is one.
type Snapshot struct {
	Verdict   Verdict
	Streaming bool
	State     ConsumerState
	Err       error
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithHTTPClient overrides the HTTP client used for the streaming request.
func WithHTTPClient(client *http.Client) ConsumerOption {
	return func(c *Consumer) {
		c.client = client
	}
}

// Consumer opens a long-lived request to the verification endpoint,
// incrementally folds the event stream into one verdict, and publishes a
// snapshot after every accepted event.
//
// Only one session is live at a time: each Verify call supersedes the
// previous session, and a superseded session's late events are discarded.
type Consumer struct {
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	session string
	state   ConsumerState
	verdict *Verdict
	err     error
}

// NewConsumer creates a consumer for the given backend base URL.
func NewConsumer(baseURL string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify starts a fresh verification session and returns a channel of
// snapshots: one when the seeded verdict becomes visible, one per accepted
// event, and a final one at the terminal state. The channel is closed once
// the session reaches a terminal state or is superseded by a newer Verify.
//
// Canceling ctx detaches the reader; the terminal snapshot then reports
// the context error.
func (c *Consumer) Verify(ctx context.Context, req VerifyRequest) <-chan Snapshot {
	updates := make(chan Snapshot, 1)

	c.mu.Lock()
	token := uuid.New().String()
	c.session = token
	c.state = StateAwaiting
	c.verdict = NewVerdict(req.Claim, req.Truth)
	c.err = nil
	c.mu.Unlock()

	go c.run(ctx, token, req, updates)
	return updates
}

// Current returns the latest verdict snapshot and whether a stream is
// still active. The second result is false before any Verify call.
func (c *Consumer) Current() (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verdict == nil {
		return Verdict{}, false
	}
	return c.verdict.Clone(), c.state == StateAwaiting || c.state == StateStreaming
}

// Err returns the terminal error of the current session, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) run(ctx context.Context, token string, req VerifyRequest, updates chan<- Snapshot) {
	defer close(updates)

	// Start notification: the seeded verdict is already visible.
	c.publish(ctx, token, updates)

	body, err := json.Marshal(req)
	if err != nil {
		c.fail(ctx, token, updates, fmt.Errorf("failed to encode request: %w", err))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/verify/stream", bytes.NewReader(body))
	if err != nil {
		c.fail(ctx, token, updates, fmt.Errorf("failed to create request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.fail(ctx, token, updates, fmt.Errorf("verification request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.fail(ctx, token, updates, errors.New(errorDetail(resp)))
		return
	}

	if !c.transition(token, StateStreaming) {
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamRecordSize)
	scanner.Split(splitRecords)

	for scanner.Scan() {
		if c.superseded(token) {
			return
		}

		payload, ok := recordData(scanner.Bytes())
		if !ok {
			continue // comment or keepalive record
		}

		event, err := DecodeStreamEvent(payload)
		if err != nil {
			// One bad record must not kill the session.
			log.Printf("Dropping malformed stream record: %v", err)
			continue
		}

		if event.Kind == EventError {
			// Terminal: the backend reported a failure mid-stream.
			message := event.Message
			if message == "" {
				message = "verification stream reported an error"
			}
			c.fail(ctx, token, updates, errors.New(message))
			return
		}

		if c.apply(token, event) {
			c.publish(ctx, token, updates)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		c.fail(ctx, token, updates, fmt.Errorf("stream read failed: %w", err))
		return
	}

	// Clean close. No decision is synthesized if the verdict event never
	// arrived; the held partial state is the final displayed state.
	if c.transition(token, StateDone) {
		c.publish(ctx, token, updates)
	}
}

// apply folds one decoded event into the held verdict. It reports whether
// the event was accepted, which drives the one-notification-per-record
// contract. Unknown events are ignored.
func (c *Consumer) apply(token string, event StreamEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != token {
		return false
	}

	switch event.Kind {
	case EventAgent:
		c.verdict.Conversation = append(c.verdict.Conversation, *event.Agent)
	case EventAnalysis:
		if c.verdict == nil {
			return false // nothing to attach it to; drop
		}
		a := *event.Analysis
		c.verdict.Analysis = &a
	case EventVerdict:
		// Terminal, authoritative: wholesale replace, never merge.
		v := event.Verdict.Clone()
		c.verdict = &v
	default:
		return false
	}
	return true
}

func (c *Consumer) transition(token string, state ConsumerState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != token {
		return false
	}
	c.state = state
	return true
}

func (c *Consumer) superseded(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != token
}

func (c *Consumer) fail(ctx context.Context, token string, updates chan<- Snapshot, err error) {
	c.mu.Lock()
	if c.session != token {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.err = err
	c.mu.Unlock()

	c.publish(ctx, token, updates)
}

func (c *Consumer) publish(ctx context.Context, token string, updates chan<- Snapshot) {
	c.mu.Lock()
	if c.session != token {
		c.mu.Unlock()
		return
	}
	snap := Snapshot{
		Verdict:   c.verdict.Clone(),
		Streaming: c.state == StateAwaiting || c.state == StateStreaming,
		State:     c.state,
		Err:       c.err,
	}
	c.mu.Unlock()

	select {
	case updates <- snap:
	case <-ctx.Done():
	}
}

// errorDetail extracts the user-facing message from a non-success response
// body of the form {"detail": "..."}; the detail is used verbatim.
func errorDetail(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxRequestBodySize))
	if err == nil {
		var payload struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Detail != "" {
			return payload.Detail
		}
	}
	return fmt.Sprintf("verification request failed with status %d", resp.StatusCode)
}

// splitRecords is a bufio.SplitFunc that splits an event stream into
// blank-line-delimited records. Any unterminated tail stays buffered until
// more bytes arrive, so framing survives arbitrary chunk boundaries.
func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	nn := bytes.Index(data, []byte("\n\n"))
	rn := bytes.Index(data, []byte("\r\n\r\n"))

	switch {
	case nn >= 0 && (rn < 0 || nn < rn):
		return nn + 2, data[:nn], nil
	case rn >= 0:
		return rn + 4, data[:rn], nil
	}

	if atEOF && len(data) > 0 {
		// Trailing record without a final delimiter.
		return len(data), data, nil
	}
	return 0, nil, nil
}

// recordData extracts the JSON payload from one record by joining its
// "data:" lines. Records with no data line (comments, other fields) are
// skipped.
func recordData(record []byte) ([]byte, bool) {
	var parts [][]byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimPrefix(line, []byte(" "))
		parts = append(parts, line)
	}
	if len(parts) == 0 {
		return nil, false
	}
	return bytes.Join(parts, []byte("\n")), true
}
