package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/tinyhttps/internal/server"
)

func TestRenderTableAlignsColumns(t *testing.T) {
	out := RenderTable([]string{"A", "LONG"}, [][]string{{"xxxx", "y"}, {"z"}})
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("RenderTable() produced %d lines, want 3", len(lines))
	}
	w := lipgloss.Width(lines[0])
	for i, l := range lines {
		if lipgloss.Width(l) != w {
			t.Errorf("line %d width = %d, want %d", i, lipgloss.Width(l), w)
		}
	}
}

func TestRenderBoxes(t *testing.T) {
	ok := RenderSuccess("Certificate written", []Field{{"Cert", "server.crt"}}, 80)
	if !strings.Contains(ok, "Certificate written") || !strings.Contains(ok, "server.crt") {
		t.Errorf("RenderSuccess() missing content:\n%s", ok)
	}
	fail := RenderFailure("Bind failed", errors.New("address in use"), []string{"pick another port"}, 80)
	for _, want := range []string{"Bind failed", "address in use", "pick another port"} {
		if !strings.Contains(fail, want) {
			t.Errorf("RenderFailure() missing %q", want)
		}
	}
	fields := SortedFields(map[string]string{"b": "2", "a": "1"})
	if fields[0].Key != "a" || fields[1].Key != "b" {
		t.Errorf("SortedFields() = %v", fields)
	}
}

func TestRenderSlotTable(t *testing.T) {
	if !strings.Contains(RenderSlotTable(server.Stats{}), "no connections") {
		t.Error("empty stats should render a hint")
	}
	st := server.Stats{Slots: []server.SlotInfo{{
		Index:  3,
		Phase:  server.PhaseWebSocketActive,
		ConnID: "0123456789abcdef",
		Remote: "10.0.0.2:5000",
		Secure: true,
	}}}
	out := RenderSlotTable(st)
	for _, want := range []string{"WebSocketActive", "10.0.0.2:5000", "https", "01234567"} {
		if !strings.Contains(out, want) {
			t.Errorf("slot table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abcdef") {
		t.Error("connection id should be shortened")
	}
}

func TestMonitorUpdate(t *testing.T) {
	calls := 0
	stats := func() server.Stats {
		calls++
		return server.Stats{Capacity: 8, Active: calls}
	}
	m := NewMonitorModel("tinyhttps", ":8443", stats)

	model, cmd := m.Update(tickMsg(time.Now()))
	m = model.(MonitorModel)
	if m.Snapshot.Active != 2 || cmd == nil {
		t.Errorf("tick should refresh the snapshot and schedule another, got %+v", m.Snapshot)
	}

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = model.(MonitorModel)
	if !m.Paused {
		t.Fatal("p should pause")
	}
	model, _ = m.Update(tickMsg(time.Now()))
	m = model.(MonitorModel)
	if m.Snapshot.Active != 2 {
		t.Error("paused monitor should keep its snapshot")
	}

	model, _ = m.Update(tea.WindowSizeMsg{Width: 500, Height: 40})
	m = model.(MonitorModel)
	if m.Width != MaxContentWidth {
		t.Errorf("Width = %d, want clamp to %d", m.Width, MaxContentWidth)
	}

	if !strings.Contains(m.View(), "2/8") {
		t.Errorf("View() should show slot usage:\n%s", m.View())
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}
