package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"facttrace"
)

var (
	errBannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

// snapshotMsg carries one consumer snapshot into the program.
type snapshotMsg facttrace.Snapshot

// streamClosedMsg signals the snapshot channel was closed.
type streamClosedMsg struct{}

// verifyModel shows a live verification session. Its only local state
// beyond the latest snapshot is the analysis expand/collapse toggle.
type verifyModel struct {
	updates      <-chan facttrace.Snapshot
	cancel       context.CancelFunc
	snapshot     facttrace.Snapshot
	showAnalysis bool
	closed       bool
}

func newVerifyModel(updates <-chan facttrace.Snapshot, cancel context.CancelFunc) verifyModel {
	return verifyModel{updates: updates, cancel: cancel}
}

func waitForSnapshot(updates <-chan facttrace.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return streamClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m verifyModel) Init() tea.Cmd {
	return waitForSnapshot(m.updates)
}

func (m verifyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snapshot = facttrace.Snapshot(msg)
		return m, waitForSnapshot(m.updates)

	case streamClosedMsg:
		m.closed = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "a":
			m.showAnalysis = !m.showAnalysis
			return m, nil
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m verifyModel) View() string {
	verdict := m.snapshot.Verdict
	if !m.showAnalysis {
		verdict.Analysis = nil
	}

	out := facttrace.RenderVerdict(verdict, m.snapshot.Streaming)

	if m.snapshot.Err != nil {
		out += "\n" + errBannerStyle.Render("Error: "+m.snapshot.Err.Error()) + "\n"
	}

	help := "a: toggle analysis • q: quit"
	if m.snapshot.Streaming {
		help = "streaming • " + help
	}
	return out + "\n" + helpStyle.Render(help) + "\n"
}
