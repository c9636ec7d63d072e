package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/sluice/cli/reader"
)

// ImageMsg delivers an item image to the watch view.
type ImageMsg reader.ItemImage

// StatusMsg replaces the status line of the watch view.
type StatusMsg string

// WatchModel is a live table of item images keyed by item name.
type WatchModel struct {
	fields   []string
	table    table.Model
	images   map[string]reader.ItemImage
	order    []string
	status   string
	paused   bool
	quitting bool
}

// NewWatchModel creates a watch model showing the given field acronyms.
func NewWatchModel(fields []string) WatchModel {
	cols := []table.Column{
		{Title: "Item", Width: 14},
		{Title: "Service", Width: 12},
		{Title: "State", Width: 16},
	}
	for _, f := range fields {
		cols = append(cols, table.Column{Title: f, Width: max(len(f), 10)})
	}
	cols = append(cols, table.Column{Title: "Upd", Width: 6})

	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	return WatchModel{
		fields: fields,
		table:  t,
		images: make(map[string]reader.ItemImage),
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-6, 3))
		return m, nil

	case ImageMsg:
		if m.paused {
			return m, nil
		}
		if _, ok := m.images[msg.Item]; !ok {
			m.order = append(m.order, msg.Item)
		}
		m.images[msg.Item] = reader.ItemImage(msg)
		m.table.SetRows(m.rows())
		return m, nil

	case StatusMsg:
		m.status = string(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Pause):
			m.paused = !m.paused
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m WatchModel) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.order))
	for _, name := range m.order {
		img := m.images[name]
		row := table.Row{img.Item, img.Service, img.State}
		for _, f := range m.fields {
			v, _ := img.Field(f)
			row = append(row, v)
		}
		rows = append(rows, append(row, fmt.Sprintf("%d", img.Updates)))
	}
	return rows
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := "Watching"
	if m.paused {
		title = "Paused"
	}
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s %d items", title, len(m.order))))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(WarningStyle.Render(m.status))
	}

	help := HelpStyle.Render("Press p to pause, q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

// Watch runs a WatchModel fed from other goroutines.
type Watch struct {
	p *tea.Program
}

// NewWatch creates a watch view. Nothing is drawn until Run.
func NewWatch(fields []string) *Watch {
	return &Watch{p: tea.NewProgram(NewWatchModel(fields), tea.WithAltScreen())}
}

// Image shows img. It blocks while the view is busy and returns at once
// after the view has quit.
func (w *Watch) Image(img reader.ItemImage) {
	w.p.Send(ImageMsg(img))
}

// Status replaces the status line.
func (w *Watch) Status(format string, args ...any) {
	w.p.Send(StatusMsg(fmt.Sprintf(format, args...)))
}

// Run draws the view until the user quits or ctx is done.
func (w *Watch) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, w.p.Quit)
	defer stop()
	_, err := w.p.Run()
	return err
}
