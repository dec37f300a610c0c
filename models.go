package facttrace

import (
	"encoding/json"
	"fmt"
)

// Decision is the jury's final classification of a claim.
type Decision string

const (
	// DecisionFaithful means the claim accurately represents the source truth.
	DecisionFaithful Decision = "faithful"

	// DecisionMutated means the claim distorts, exaggerates, or misrepresents the source.
	DecisionMutated Decision = "mutated"

	// DecisionUncertain means the evidence is ambiguous or the claim is partially accurate.
	DecisionUncertain Decision = "uncertain"
)

// Valid reports whether d is one of the three recognized decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionFaithful, DecisionMutated, DecisionUncertain:
		return true
	}
	return false
}

// AgentMessage is a single turn in the jury debate, attributed to a named role.
// Messages are immutable once appended; conversation order is debate order.
type AgentMessage struct {
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Analysis holds the side-by-side breakdown of the claim and the source truth.
type Analysis struct {
	ClaimAnalysis string `json:"claim_analysis"`
	TruthAnalysis string `json:"truth_analysis"`
}

// Verdict is the structured outcome of one claim-vs-truth evaluation,
// including the full agent transcript.
type Verdict struct {
	Claim        string         `json:"claim"`
	Truth        string         `json:"truth"`
	Conversation []AgentMessage `json:"conversation"`
	Summary      string         `json:"summary"`
	Decision     Decision       `json:"decision"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Disclaimers  []string       `json:"disclaimers,omitempty"`
	Analysis     *Analysis      `json:"analysis,omitempty"`
}

// NewVerdict seeds a fresh verdict for a verification session: the input
// claim/truth pair, an empty conversation, and an uncertain decision.
func NewVerdict(claim, truth string) *Verdict {
	return &Verdict{
		Claim:        claim,
		Truth:        truth,
		Conversation: []AgentMessage{},
		Decision:     DecisionUncertain,
	}
}

// Clone returns a deep copy of the verdict so callers can hand out
// snapshots that later mutations cannot reach.
func (v *Verdict) Clone() Verdict {
	out := *v
	out.Conversation = make([]AgentMessage, len(v.Conversation))
	copy(out.Conversation, v.Conversation)
	if v.Confidence != nil {
		c := *v.Confidence
		out.Confidence = &c
	}
	if v.Disclaimers != nil {
		out.Disclaimers = make([]string, len(v.Disclaimers))
		copy(out.Disclaimers, v.Disclaimers)
	}
	if v.Analysis != nil {
		a := *v.Analysis
		out.Analysis = &a
	}
	return out
}

// MissingFields lists the required fields a submitted verdict lacks.
// Conversation counts as present when non-nil, even if empty.
func (v *Verdict) MissingFields() []string {
	var missing []string
	if v.Claim == "" {
		missing = append(missing, "claim")
	}
	if v.Truth == "" {
		missing = append(missing, "truth")
	}
	if v.Conversation == nil {
		missing = append(missing, "conversation")
	}
	if v.Summary == "" {
		missing = append(missing, "summary")
	}
	if v.Decision == "" {
		missing = append(missing, "decision")
	}
	return missing
}

// VerifyRequest starts a verification session for one claim/truth pair.
type VerifyRequest struct {
	Claim        string `json:"claim"`
	Truth        string `json:"truth"`
	DebateRounds int    `json:"debate_rounds"`
}

// Case is one claim/truth pair from the case catalog.
type Case struct {
	ID    int    `json:"id"`
	Claim string `json:"claim"`
	Truth string `json:"truth"`
}

// EventKind discriminates the stream event union.
type EventKind int

const (
	// EventUnknown is any tag the consumer does not recognize. Unknown
	// events are ignored without aborting the stream.
	EventUnknown EventKind = iota

	// EventAgent carries one AgentMessage to append to the conversation.
	EventAgent

	// EventAnalysis carries a whole-unit replacement for the analysis field.
	EventAnalysis

	// EventVerdict carries a complete verdict that replaces all prior state.
	EventVerdict

	// EventError reports a server-side failure mid-stream. Terminal: the
	// session fails with the carried message.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventAgent:
		return "agent"
	case EventAnalysis:
		return "analysis"
	case EventVerdict:
		return "verdict"
	case EventError:
		return "error"
	}
	return "unknown"
}

// StreamEvent is one typed update from the verdict event stream, decoded
// once at the boundary. Exactly one of Agent, Analysis, Verdict, Message
// is set, matching Kind; RawType preserves the wire tag for unknown
// events.
type StreamEvent struct {
	Kind     EventKind
	Agent    *AgentMessage
	Analysis *Analysis
	Verdict  *Verdict
	Message  string
	RawType  string
}

// eventEnvelope is the wire shape of one stream record's JSON payload.
// Error events carry their message at the top level, not under data.
type eventEnvelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DecodeStreamEvent parses one record payload into the event union.
// A malformed envelope or payload is an error (the record is dropped by
// the consumer); an unrecognized tag is not an error.
func DecodeStreamEvent(payload []byte) (StreamEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return StreamEvent{}, fmt.Errorf("invalid event envelope: %w", err)
	}

	switch env.Type {
	case "agent":
		var msg AgentMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return StreamEvent{}, fmt.Errorf("invalid agent payload: %w", err)
		}
		return StreamEvent{Kind: EventAgent, Agent: &msg, RawType: env.Type}, nil
	case "analysis":
		var a Analysis
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return StreamEvent{}, fmt.Errorf("invalid analysis payload: %w", err)
		}
		return StreamEvent{Kind: EventAnalysis, Analysis: &a, RawType: env.Type}, nil
	case "verdict":
		var v Verdict
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return StreamEvent{}, fmt.Errorf("invalid verdict payload: %w", err)
		}
		return StreamEvent{Kind: EventVerdict, Verdict: &v, RawType: env.Type}, nil
	case "error":
		return StreamEvent{Kind: EventError, Message: env.Message, RawType: env.Type}, nil
	}

	return StreamEvent{Kind: EventUnknown, RawType: env.Type}, nil
}

// MarshalJSON encodes the event in its wire shape, so the server side can
// write the same records the consumer reads.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Kind {
	case EventAgent:
		data = e.Agent
	case EventAnalysis:
		data = e.Analysis
	case EventVerdict:
		data = e.Verdict
	case EventError:
		return json.Marshal(eventEnvelope{Type: e.Kind.String(), Message: e.Message})
	default:
		return nil, fmt.Errorf("cannot marshal unknown event %q", e.RawType)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Type: e.Kind.String(), Data: raw})
}
