package facttrace

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Agent role names as they appear in the debate transcript.
const (
	AgentEvidenceScout = "Evidence Scout"
	AgentAdvocate      = "Advocate"
	AgentSkeptic       = "Skeptic"
	AgentFactChecker   = "Fact-Checker"
	AgentJudge         = "Judge"
)

const analystClaimPrompt = `You are an Analyst.
Summarize what the CLAIM asserts: its key entities, numbers, causal links, and framing.
Be CONCISE (max 3 sentences). Do not judge whether it is true.`

const analystTruthPrompt = `You are an Analyst.
Summarize what the SOURCE TRUTH establishes: its key entities, numbers, qualifications, and hedging.
Be CONCISE (max 3 sentences). Do not judge any claim.`

const evidenceScoutPrompt = `You are an Evidence Scout.
Your goal is to analyze the SOURCE TRUTH and identify key facts that the claim should reflect.

Instructions:
1. Identify key entities, dates, statistics, and qualifications in the SOURCE TRUTH.
2. Note any hedging language (e.g., "approximately", "may be", "between X and Y").
3. Be CONCISE. Use max 3-4 bullet points.
4. Use **bold** for key statistics and important qualifications.`

const advocatePrompt = `You are an Advocate.
Your goal is to argue that the CLAIM is a faithful representation of the SOURCE TRUTH. You should argue passionately and use emotive language to make your point and go as far as possible without denying or overlooking obvious logical truths or facts.

Instructions:
1. Use the provided Evidence and SOURCE TRUTH.
2. Read the Debate History to see what the Skeptic has said.
3. Directly address the Skeptic's points if they have spoken.
4. Argue why the claim captures the essential meaning of the truth.
5. **CRITICAL**: Limit your response to ONE PARAGRAPH (max 100 words).
6. Use **bold** to highlight your strongest point.`

const skepticPrompt = `You are a Skeptic.
Your goal is to argue that the CLAIM is a mutation (distortion, exaggeration, or misrepresentation) of the SOURCE TRUTH. You should argue passionately and use emotive language to make your point and go as far as possible without denying or overlooking obvious logical truths or facts.

Instructions:
1. Use the provided Evidence and SOURCE TRUTH.
2. Read the Debate History to see what the Advocate has said.
3. Directly address the Advocate's points if they have spoken.
4. Point out: missing context, changed numbers, removed qualifications, causal confusion, or exaggerations.
5. **CRITICAL**: Limit your response to ONE PARAGRAPH (max 100 words).
6. Use **bold** to highlight the biggest discrepancy.`

const factCheckerPrompt = `You are a Fact-Checker.
Your goal is to provide a neutral, objective comparison of the CLAIM vs SOURCE TRUTH.

Instructions:
1. Review the Evidence and Debate History.
2. List specific differences between claim and truth (numbers, qualifiers, framing).
3. Provide a SHORT verdict (max 3-4 sentences).
4. Use **bold** for your assessment keyword (**Accurate**, **Misleading**, **Exaggerated**, etc.).`

const judgePrompt = `You are a Judge.

Compare the CLAIM against the SOURCE TRUTH and the debate to reach a verdict.

Decide whether the claim is:
- FAITHFUL: The claim accurately represents the source truth
- MUTATED: The claim distorts, exaggerates, omits key context, or misrepresents the source
- UNCERTAIN: The evidence is ambiguous or the claim is partially accurate

Output VALID JSON (no markdown) with this structure:
{
  "decision": "faithful" | "mutated" | "uncertain",
  "confidence": 0.0 to 1.0,
  "summary": "3-5 sentences explaining the verdict, referencing specific discrepancies or accuracies",
  "disclaimers": ["list", "of", "important", "caveats"]
}`

// judgeResult is the JSON shape the judge model must return.
type judgeResult struct {
	Decision    string   `json:"decision"`
	Confidence  float64  `json:"confidence"`
	Summary     string   `json:"summary"`
	Disclaimers []string `json:"disclaimers"`
}

// RunJury runs the full multi-agent pipeline and returns the verdict.
func RunJury(ctx context.Context, claim, truth string, rounds int) (*Verdict, error) {
	return RunJuryStream(ctx, claim, truth, rounds, func(StreamEvent) {})
}

// RunJuryStream runs the multi-agent pipeline, calling emit for every
// stream event as it is produced: one analysis event, one agent event per
// debate turn, and the terminal verdict event. The returned verdict is the
// same value carried by the final event.
//
// Pipeline: Analyst (claim/truth breakdown), Evidence Scout, then
// Advocate/Skeptic alternating for the requested number of rounds, then
// Fact-Checker, then Judge.
func RunJuryStream(ctx context.Context, claim, truth string, rounds int, emit func(StreamEvent)) (*Verdict, error) {
	if rounds <= 0 {
		rounds = DefaultDebateRounds
	}

	verdict := NewVerdict(claim, truth)

	// Analyst: break down claim and truth side by side
	log.Println("Jury: Analyst...")
	claimAnalysis, truthAnalysis, err := QueryPair(ctx, ModelFast,
		analystClaimPrompt, fmt.Sprintf("CLAIM:\n%s", claim),
		analystTruthPrompt, fmt.Sprintf("SOURCE TRUTH:\n%s", truth))
	if err != nil {
		return nil, fmt.Errorf("analysis stage failed: %w", err)
	}
	verdict.Analysis = &Analysis{ClaimAnalysis: claimAnalysis, TruthAnalysis: truthAnalysis}
	emit(StreamEvent{Kind: EventAnalysis, Analysis: verdict.Analysis})

	// Evidence Scout analyzes the source truth
	log.Println("Jury: Evidence Scout...")
	evidence, err := QueryModel(ctx, ModelFast, evidenceScoutPrompt,
		fmt.Sprintf("SOURCE TRUTH:\n%s\n\nCLAIM being evaluated:\n%s", truth, claim),
		ModelQueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("evidence stage failed: %w", err)
	}
	addTurn(verdict, emit, AgentEvidenceScout, evidence)

	// Debate loop: Advocate vs Skeptic
	var history strings.Builder
	for round := 1; round <= rounds; round++ {
		log.Printf("Jury: debate round %d", round)

		debatePrompt := fmt.Sprintf("CLAIM:\n%s\n\nSOURCE TRUTH:\n%s\n\nEvidence:\n%s\n\nDebate History:\n%s",
			claim, truth, evidence, history.String())
		advocateArg, err := QueryModel(ctx, ModelFast, advocatePrompt, debatePrompt, ModelQueryTimeout)
		if err != nil {
			return nil, fmt.Errorf("advocate round %d failed: %w", round, err)
		}
		addTurn(verdict, emit, AgentAdvocate, advocateArg)
		fmt.Fprintf(&history, "\n[Advocate]: %s\n", advocateArg)

		debatePrompt = fmt.Sprintf("CLAIM:\n%s\n\nSOURCE TRUTH:\n%s\n\nEvidence:\n%s\n\nDebate History:\n%s",
			claim, truth, evidence, history.String())
		skepticArg, err := QueryModel(ctx, ModelFast, skepticPrompt, debatePrompt, ModelQueryTimeout)
		if err != nil {
			return nil, fmt.Errorf("skeptic round %d failed: %w", round, err)
		}
		addTurn(verdict, emit, AgentSkeptic, skepticArg)
		fmt.Fprintf(&history, "\n[Skeptic]: %s\n", skepticArg)
	}

	// Fact-Checker provides neutral analysis
	log.Println("Jury: Fact-Checker...")
	factCheck, err := QueryModel(ctx, ModelFast, factCheckerPrompt,
		fmt.Sprintf("CLAIM:\n%s\n\nSOURCE TRUTH:\n%s\n\nEvidence:\n%s\n\nDebate History:\n%s",
			claim, truth, evidence, history.String()),
		ModelQueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("fact-check stage failed: %w", err)
	}
	addTurn(verdict, emit, AgentFactChecker, factCheck)

	// Judge makes the final decision
	log.Println("Jury: Judge...")
	transcript, _ := json.MarshalIndent(verdict.Conversation, "", "  ")
	judgeUser := fmt.Sprintf("CLAIM:\n%s\n\nSOURCE TRUTH:\n%s\n\nFull Conversation:\n%s\n\nReturn JSON with \"decision\", \"confidence\", \"summary\", \"disclaimers\".",
		claim, truth, string(transcript))

	var result judgeResult
	if err := QueryJSON(ctx, ModelJudge, judgePrompt, judgeUser, &result); err != nil {
		log.Printf("Judge failed to produce a valid verdict: %v", err)
		result = judgeResult{
			Decision:    string(DecisionUncertain),
			Confidence:  0.5,
			Summary:     "The judge failed to produce a valid verdict.",
			Disclaimers: []string{"System Error"},
		}
	}

	addTurn(verdict, emit, AgentJudge, result.Summary)

	verdict.Summary = result.Summary
	verdict.Decision = Decision(strings.ToLower(result.Decision))
	if !verdict.Decision.Valid() {
		verdict.Decision = DecisionUncertain
	}
	confidence := result.Confidence
	verdict.Confidence = &confidence
	verdict.Disclaimers = result.Disclaimers

	emit(StreamEvent{Kind: EventVerdict, Verdict: verdict})
	return verdict, nil
}

// addTurn appends one debate turn to the verdict and emits it.
func addTurn(verdict *Verdict, emit func(StreamEvent), agent, message string) {
	msg := AgentMessage{
		Agent:     agent,
		Message:   message,
		Timestamp: time.Now().Format("15:04:05"),
	}
	verdict.Conversation = append(verdict.Conversation, msg)
	emit(StreamEvent{Kind: EventAgent, Agent: &msg})
}
