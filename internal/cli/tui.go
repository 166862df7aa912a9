package cli

import (
	"context"
	"time"

	"minder-cli/internal/tui"

	"github.com/spf13/cobra"
)

func newTUICmd(app *App) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "tui [filter]",
		Short: "Edit the current project's outline full-screen",
		Long: `Edit the current project's outline full-screen.

Changes made by other minder processes are picked up automatically: SQLite
workspaces are watched with file notifications, Postgres stores are polled
every --interval. Press ? for keys.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s, err := openSession(ctx, app, filter)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer s.Close()

			snooze, err := app.cfg.SnoozeDefault()
			if err != nil {
				return writeErr(cmd, err)
			}
			changes := make(chan struct{}, 1)
			poke := func() {
				select {
				case changes <- struct{}{}:
				default:
				}
			}
			if app.cfg.Store.Driver == "postgres" {
				go pollEvents(ctx, s.b, interval, poke)
			} else if stop, err := watchWorkspaceFiles(app.Dir, poke); err != nil {
				app.log.Warn("file watch unavailable", "dir", app.Dir, "err", err)
			} else {
				defer stop()
			}

			return tui.Run(ctx, s.e, tui.Options{
				ProjectName: s.project.Name,
				SnoozeFor:   snooze,
				Changes:     changes,
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval for Postgres stores")
	return cmd
}

type eventSeqer interface {
	LastEventSeq(ctx context.Context) (int64, error)
}

// pollEvents calls onChange whenever the store's last event sequence moves.
func pollEvents(ctx context.Context, b eventSeqer, interval time.Duration, onChange func()) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	last, _ := b.LastEventSeq(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq, err := b.LastEventSeq(ctx)
			if err != nil || seq == last {
				continue
			}
			last = seq
			onChange()
		}
	}
}
