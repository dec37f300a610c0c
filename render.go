package facttrace

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))

	pendingStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("243"))

	messageStyle = lipgloss.NewStyle().PaddingLeft(2)

	disclaimerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))

	decisionStyles = map[Decision]lipgloss.Style{
		DecisionFaithful:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		DecisionMutated:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		DecisionUncertain: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	}

	// Fixed identity colors for the known jury roles; anything else falls
	// back to a stable hash into the palette.
	agentColors = map[string]lipgloss.Color{
		AgentEvidenceScout: lipgloss.Color("39"),
		AgentAdvocate:      lipgloss.Color("42"),
		AgentSkeptic:       lipgloss.Color("203"),
		AgentFactChecker:   lipgloss.Color("141"),
		AgentJudge:         lipgloss.Color("220"),
	}

	agentPalette = []lipgloss.Color{
		lipgloss.Color("45"), lipgloss.Color("75"), lipgloss.Color("114"),
		lipgloss.Color("168"), lipgloss.Color("179"), lipgloss.Color("213"),
	}
)

// AgentStyle returns the display style for an agent name. The mapping is
// stable: the same name always renders the same way, and unknown names
// get a palette color rather than an error.
func AgentStyle(agent string) lipgloss.Style {
	color, ok := agentColors[agent]
	if !ok {
		h := fnv.New32a()
		h.Write([]byte(agent))
		color = agentPalette[int(h.Sum32())%len(agentPalette)]
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// RenderVerdict maps a verdict and a streaming flag to styled terminal
// output. While streaming, pending indicators stand in for the decision
// badge and summary until real values arrive.
func RenderVerdict(v Verdict, streaming bool) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Claim"))
	b.WriteString("\n")
	b.WriteString(messageStyle.Render(v.Claim))
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render("Source Truth"))
	b.WriteString("\n")
	b.WriteString(messageStyle.Render(v.Truth))
	b.WriteString("\n\n")

	if v.Analysis != nil {
		b.WriteString(titleStyle.Render("Analysis"))
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Claim: "))
		b.WriteString(v.Analysis.ClaimAnalysis)
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Truth: "))
		b.WriteString(v.Analysis.TruthAnalysis)
		b.WriteString("\n\n")
	}

	b.WriteString(titleStyle.Render("Jury Debate"))
	b.WriteString("\n")
	if len(v.Conversation) == 0 {
		b.WriteString(pendingStyle.Render("Waiting for the jury..."))
		b.WriteString("\n")
	}
	for _, msg := range v.Conversation {
		header := AgentStyle(msg.Agent).Render(msg.Agent)
		if msg.Timestamp != "" {
			header += pendingStyle.Render("  " + msg.Timestamp)
		}
		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(messageStyle.Render(msg.Message))
		b.WriteString("\n\n")
	}

	b.WriteString(titleStyle.Render("Verdict"))
	b.WriteString("\n")
	if streaming && v.Decision == DecisionUncertain {
		b.WriteString(pendingStyle.Render("Deliberating..."))
	} else {
		b.WriteString(renderDecision(v.Decision))
		if v.Confidence != nil {
			b.WriteString(labelStyle.Render(fmt.Sprintf("  confidence %.2f", *v.Confidence)))
		}
	}
	b.WriteString("\n")

	if streaming && v.Summary == "" {
		b.WriteString(pendingStyle.Render("Summary pending..."))
		b.WriteString("\n")
	} else if v.Summary != "" {
		b.WriteString(messageStyle.Render(v.Summary))
		b.WriteString("\n")
	}

	if len(v.Disclaimers) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Disclaimers"))
		b.WriteString("\n")
		for _, d := range v.Disclaimers {
			b.WriteString(disclaimerStyle.Render("• " + d))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func renderDecision(d Decision) string {
	style, ok := decisionStyles[d]
	if !ok {
		style = decisionStyles[DecisionUncertain]
	}
	return style.Render(strings.ToUpper(string(d)))
}
