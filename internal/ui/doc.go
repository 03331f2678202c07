// Package ui renders terminal output for the tinyhttps CLI with Lipgloss
// and Bubble Tea.
//
// Most commands print once and exit: RenderBanner when a command starts,
// RenderSuccess and RenderFailure for outcomes, RenderTable for route and
// discovery listings. A Printer wraps these at the current terminal width.
//
// MonitorModel is the one interactive view. `tinyhttps serve --tui` runs it
// beside the server; it samples server.Stats on a timer and shows slot
// usage, counters and one row per busy slot.
//
//	model := ui.NewMonitorModel("tinyhttps", ":8443", srv.Stats)
//	err := ui.RunMonitor(ctx, model)
//
// Styling only applies when stdout is a terminal; see IsTerminal.
package ui
