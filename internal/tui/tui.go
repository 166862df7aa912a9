package tui

import (
	"context"

	"minder-cli/internal/outline"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the loaded project of e full-screen until the user quits.
func Run(ctx context.Context, e *outline.Engine, opts Options) error {
	m := newAppModel(ctx, e, opts)
	defer m.close()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
