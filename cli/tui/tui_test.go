package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/sluice/cli/reader"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/session"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{"inspect_items", true},
		{"inspect_channels", true},
		{"stats_journal", true},
		{"stats_session", true},

		// Not supported: list style commands
		{"dump", false},
		{"sessions", false},
		{"dict_fields", false},
		{"version", false},

		// Not supported: unknown
		{"inspect_unknown", false},
		{"unknown", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			got := IsTUISupported(tt.viewType)
			if got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestSupportedTUIViews(t *testing.T) {
	views := SupportedTUIViews()
	if len(views) != 4 {
		t.Errorf("SupportedTUIViews() returned %d views, expected 4", len(views))
	}
	for _, v := range views {
		if !IsTUISupported(v) {
			t.Errorf("SupportedTUIViews() returned %q but IsTUISupported returns false", v)
		}
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("dump", nil); err == nil {
		t.Error("Expected error for unsupported view type")
	}
}

func TestRenderStatic(t *testing.T) {
	tests := []struct {
		name     string
		render   func(string, any) string
		viewType string
		data     any
		want     []string
	}{
		{
			"items", RenderInspectStatic, "inspect_items",
			[]reader.ItemImage{{
				Item: "TRI.N", Service: "DIRECT_FEED", State: "Open/Ok",
				Fields: []dictionary.Value{{FieldID: 22, Acronym: "BID", Text: "39.90"}},
			}},
			[]string{"TRI.N", "DIRECT_FEED", "Open/Ok", "BID", "39.90"},
		},
		{
			"channels", RenderInspectStatic, "inspect_channels",
			[]session.ChannelInfo{{Name: "primary", Up: true, Ready: true, Remote: "10.0.0.1:14002"}},
			[]string{"primary", "ready", "10.0.0.1:14002"},
		},
		{
			"journal", RenderStatsStatic, "stats_journal",
			&reader.JournalStats{Records: 42, ByClass: map[string]int{"Refresh": 2}},
			[]string{"Journal Statistics", "42", "Refresh"},
		},
		{
			"session", RenderStatsStatic, "stats_session",
			metrics.Snapshot{SessionID: "sess-1", Role: "consumer", Reconnects: 7},
			[]string{"sess-1", "Reconnects", "7"},
		},
		{
			"wrong data", RenderStatsStatic, "stats_journal", "nope",
			[]string{"Invalid data type for stats_journal"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.render(tt.viewType, tt.data)
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestWatchModel_Update(t *testing.T) {
	var m tea.Model = NewWatchModel([]string{"BID", "ASK"})
	m, _ = m.Update(ImageMsg{Item: "TRI.N", State: "Open/Ok", Fields: []dictionary.Value{{FieldID: 22, Acronym: "BID", Text: "10.5"}}})
	m, _ = m.Update(ImageMsg{Item: "IBM.N", State: "Open/Suspect"})
	m, _ = m.Update(ImageMsg{Item: "TRI.N", State: "Open/Ok", Updates: 3, Fields: []dictionary.Value{{FieldID: 22, Acronym: "BID", Text: "10.75"}}})

	wm := m.(WatchModel)
	if len(wm.order) != 2 {
		t.Fatalf("order = %v, want 2 items", wm.order)
	}
	rows := wm.rows()
	if rows[0][0] != "TRI.N" || rows[0][3] != "10.75" || rows[0][5] != "3" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if !strings.Contains(wm.View(), "Watching 2 items") {
		t.Errorf("View() = %q", wm.View())
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m, _ = m.Update(ImageMsg{Item: "MSFT.O"})
	wm = m.(WatchModel)
	if !wm.paused || len(wm.order) != 2 {
		t.Errorf("paused = %v order = %v, want paused with 2 items", wm.paused, wm.order)
	}

	m, _ = m.Update(StatusMsg("channel primary down"))
	if !strings.Contains(m.View(), "channel primary down") {
		t.Errorf("View() missing status")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Error("ctrl+c returned no command, want quit")
	}
}

func TestStateStyle(t *testing.T) {
	tests := []struct {
		state string
		want  lipgloss.Style
	}{
		{"Open/Ok", SuccessStyle},
		{"Open/Suspect", WarningStyle},
		{"ClosedRecover/Suspect", WarningStyle},
		{"Closed/Suspect", ErrorStyle},
		{"", ValueStyle},
	}
	for _, tt := range tests {
		if got := StateStyle(tt.state).GetForeground(); got != tt.want.GetForeground() {
			t.Errorf("StateStyle(%q) foreground = %v, want %v", tt.state, got, tt.want.GetForeground())
		}
	}
}
