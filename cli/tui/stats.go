package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/sluice/cli/reader"
	"github.com/pithecene-io/sluice/metrics"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_journal":
		content = m.renderStatsJournal()
	case "stats_session":
		content = m.renderStatsSession()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsJournal() string {
	data, ok := m.data.(*reader.JournalStats)
	if !ok {
		return "Invalid data type for stats_journal"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Journal Statistics"))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Records", int64(data.Records), infoColor),
		m.renderStatBox("In", int64(data.In), upColor),
		m.renderStatBox("Out", int64(data.Out), staleColor),
		m.renderStatBox("Sessions", int64(data.Sessions), accentColor),
		m.renderStatBox("Items", int64(data.Items), accentColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	b.WriteString("\n\n")
	b.WriteString(renderCounts("By class", data.ByClass))
	b.WriteString("\n")
	b.WriteString(renderCounts("By domain", data.ByDomain))

	return b.String()
}

func renderCounts(title string, counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(infoColor).Render(title))
	b.WriteString("\n")
	for _, name := range names {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(name), ValueStyle.Render(fmt.Sprintf("%d", counts[name]))))
	}
	return b.String()
}

func (m StatsModel) renderStatsSession() string {
	data, ok := m.data.(metrics.Snapshot)
	if !ok {
		return "Invalid data type for stats_session"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Session %s (%s)", data.SessionID, data.Role)))
	b.WriteString("\n\n")

	rows := [][]string{
		{
			m.renderStatBox("Channels up", data.ChannelsUp, upColor),
			m.renderStatBox("Channels down", data.ChannelsDown, downColor),
			m.renderStatBox("Reconnects", data.Reconnects, staleColor),
			m.renderStatBox("Ping timeouts", data.PingTimeouts, downColor),
		},
		{
			m.renderStatBox("Msgs in", data.MsgsIn, infoColor),
			m.renderStatBox("Msgs out", data.MsgsOut, infoColor),
			m.renderStatBox("Decode errors", data.DecodeErrors, downColor),
			m.renderStatBox("Late dropped", data.LateDropped, staleColor),
		},
		{
			m.renderStatBox("Streams opened", data.StreamsOpened, upColor),
			m.renderStatBox("Streams closed", data.StreamsClosed, dimColor),
			m.renderStatBox("Recovered", data.StreamsRecovered, staleColor),
			m.renderStatBox("Post timeouts", data.PostTimeouts, downColor),
		},
	}
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}

	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.TerminalColor) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
