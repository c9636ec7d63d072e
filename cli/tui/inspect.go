package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/sluice/cli/reader"
	"github.com/pithecene-io/sluice/session"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_items":
		content = m.renderItems()
	case "inspect_channels":
		content = m.renderChannels()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderItems() string {
	data, ok := m.data.([]reader.ItemImage)
	if !ok {
		return "Invalid data type for inspect_items"
	}
	if len(data) == 0 {
		return TitleStyle.Render("No items")
	}

	boxes := make([]string, 0, len(data))
	for _, img := range data {
		boxes = append(boxes, renderImage(img))
	}
	return lipgloss.JoinVertical(lipgloss.Left, boxes...)
}

func renderImage(img reader.ItemImage) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(img.Item))
	b.WriteString("\n")
	row := func(label, value string, style lipgloss.Style) {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(label), style.Render(value)))
	}
	row("Service:", img.Service, ValueStyle)
	row("Channel:", img.Channel, ValueStyle)
	row("State:", img.State, StateStyle(img.State))
	if img.Text != "" {
		row("Text:", img.Text, ValueStyle)
	}
	for _, f := range img.Fields {
		label := f.Acronym
		if label == "" {
			label = fmt.Sprintf("FID %d", f.FieldID)
		}
		row(label+":", f.Text, ValueStyle)
	}
	return BoxStyle.Render(strings.TrimSuffix(b.String(), "\n"))
}

func (m InspectModel) renderChannels() string {
	data, ok := m.data.([]session.ChannelInfo)
	if !ok {
		return "Invalid data type for inspect_channels"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Channels"))
	b.WriteString("\n")
	for _, ch := range data {
		state, style := "down", ErrorStyle
		switch {
		case ch.Ready:
			state, style = "ready", SuccessStyle
		case ch.Up:
			state, style = "up", WarningStyle
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			LabelStyle.Render(ch.Name),
			style.Render(fmt.Sprintf("%-6s", state)),
			ValueStyle.Render(strings.TrimSpace(ch.Remote+" "+ch.Version))))
	}
	return BoxStyle.Render(strings.TrimSuffix(b.String(), "\n"))
}

// keyMap defines key bindings.
type keyMap struct {
	Quit  key.Binding
	Pause key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
