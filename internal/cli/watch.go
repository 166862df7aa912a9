package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"minder-cli/internal/store"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newWatchCmd(app *App) *cobra.Command {
	var opts viewOptions
	var interval time.Duration
	var count int

	cmd := &cobra.Command{
		Use:   "watch [filter]",
		Short: "Print the view again whenever the workspace changes",
		Long: `Print the view, then print it again after every change to the workspace.

SQLite workspaces are watched with file notifications; Postgres stores are
polled every --interval. Each render is one document, so --format json yields
one JSON object per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := watchView(ctx, cmd, app, filter, opts, interval, count); err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.outline, "outline", false, "Show the outline instead of the flat leaf list")
	cmd.Flags().StringVar(&opts.root, "root", "", "Restrict the flat list to the subtree of this item")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval (also a fallback for missed file events)")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many renders (0 = until interrupted)")
	return cmd
}

func watchView(ctx context.Context, cmd *cobra.Command, app *App, filter string, opts viewOptions, interval time.Duration, count int) error {
	b, err := openBackend(ctx, app)
	if err != nil {
		return err
	}
	defer b.Close()

	var last int64 = -1
	renders := 0
	render := func() (bool, error) {
		seq, err := b.LastEventSeq(ctx)
		if err != nil {
			return false, err
		}
		if seq == last {
			return false, nil
		}
		s, err := loadSession(ctx, app, b, filter)
		if err != nil {
			return false, err
		}
		if err := writeView(cmd, app, s, opts); err != nil {
			return false, err
		}
		last = seq
		renders++
		app.log.Debug("view rendered", "seq", seq, "renders", renders)
		return count > 0 && renders >= count, nil
	}

	if done, err := render(); err != nil || done {
		return err
	}

	changed := make(chan struct{}, 1)
	poke := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	if app.cfg.Store.Driver != "postgres" {
		stopWatch, err := watchWorkspaceFiles(app.Dir, poke)
		if err != nil {
			app.log.Warn("file watch unavailable; polling only", "dir", app.Dir, "err", err)
		} else {
			defer stopWatch()
		}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-changed:
		}
		done, err := render()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// watchWorkspaceFiles calls onChange (debounced) when the SQLite database or
// its WAL in dir is written.
func watchWorkspaceFiles(dir string, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	dbName := filepath.Base(store.Store{Dir: dir}.SQLitePath())
	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(ev.Name), dbName) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, onChange)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
