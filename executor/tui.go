package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brensch/alphafour/executor/inference"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type statsSnapshot struct {
	moves       int64
	games       int64
	evaluations int64
	runtime     inference.RuntimeStats
	hasRuntime  bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Width(18).Foreground(lipgloss.Color("244"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

type model struct {
	gamesPlayed   int
	totalExamples int
	stats         statsSnapshot
	startTime     time.Time
	recentGames   []string
	updates       <-chan GameUpdate
	snapshot      func() statsSnapshot
}

func initialModel(updates <-chan GameUpdate, snapshot func() statsSnapshot) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		snapshot:  snapshot,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates <-chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		if m.snapshot != nil {
			m.stats = m.snapshot()
		}
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalExamples += msg.Examples
		line := fmt.Sprintf("worker %d: winner %s, steps %d", msg.WorkerID, msg.Result.Winner, msg.Result.Steps)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	secs := time.Since(m.startTime).Seconds()
	rate := func(n int64) string {
		if secs < 1 {
			return "-"
		}
		return fmt.Sprintf("%.2f/s", float64(n)/secs)
	}
	row := func(label, value string) string {
		return labelStyle.Render(label) + value + "\n"
	}

	var sb strings.Builder
	sb.WriteString(row("Games", fmt.Sprintf("%d (%s)", m.stats.games, rate(m.stats.games))))
	sb.WriteString(row("Examples", fmt.Sprintf("%d", m.totalExamples)))
	sb.WriteString(row("Moves", fmt.Sprintf("%d (%s)", m.stats.moves, rate(m.stats.moves))))
	sb.WriteString(row("Evaluations", fmt.Sprintf("%d (%s)", m.stats.evaluations, rate(m.stats.evaluations))))
	if m.stats.hasRuntime {
		rt := m.stats.runtime
		sb.WriteString(row("Batch avg/last", fmt.Sprintf("%.1f / %d", rt.AvgBatchSize, rt.LastBatchSize)))
		sb.WriteString(row("Run avg", fmt.Sprintf("%.2fms (queue %d)", rt.AvgRunMs, rt.QueueLen)))
	}
	sb.WriteString(row("Duration", time.Since(m.startTime).Round(time.Second).String()))

	recent := "no games yet"
	if len(m.recentGames) > 0 {
		recent = strings.Join(m.recentGames, "\n")
	}

	return titleStyle.Render("alphafour self-play") + "\n" +
		boxStyle.Render(strings.TrimRight(sb.String(), "\n")) + "\n" +
		"Recent games:\n" + recent + "\n\n" +
		hintStyle.Render("Press q to quit.") + "\n"
}
