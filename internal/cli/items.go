package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"minder-cli/internal/mutate"
	"minder-cli/internal/outline"
	"minder-cli/internal/statusutil"

	"github.com/spf13/cobra"
)

func newItemsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Item commands",
	}
	cmd.AddCommand(newItemsAddCmd(app))
	cmd.AddCommand(newItemsChildCmd(app))
	cmd.AddCommand(newItemsShowCmd(app))
	cmd.AddCommand(newItemsTextCmd(app))
	cmd.AddCommand(newItemsStateCmd(app))
	cmd.AddCommand(newItemsSnoozeCmd(app))
	cmd.AddCommand(newItemsPinCmd(app))
	cmd.AddCommand(newItemsCollapseCmd(app))
	cmd.AddCommand(newItemsNestCmd(app))
	cmd.AddCommand(newItemsUnnestCmd(app))
	cmd.AddCommand(newItemsMoveCmd(app))
	cmd.AddCommand(newItemsBumpCmd(app))
	cmd.AddCommand(newItemsReorderCmd(app))
	cmd.AddCommand(newItemsRmCmd(app))
	return cmd
}

// runItem opens a session, runs fn, and prints the item it returns.
func runItem(cmd *cobra.Command, app *App, fn func(ctx context.Context, s *session) (string, error)) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, app, "")
	if err != nil {
		return writeErr(cmd, err)
	}
	defer s.Close()

	id, err := fn(ctx, s)
	if err != nil {
		return writeErr(cmd, err)
	}
	return writeItem(cmd, app, s, id)
}

func writeItem(cmd *cobra.Command, app *App, s *session, id string) error {
	v, err := s.view(id)
	if err != nil {
		return writeErr(cmd, err)
	}
	if app.Format == "text" {
		return writeOut(cmd, app, map[string]any{"data": v.Item})
	}
	return writeOut(cmd, app, map[string]any{"data": v})
}

func joinText(args []string) string { return strings.Join(args, " ") }

// parseVersion reads a --version value; empty means "use the version in memory".
func parseVersion(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid --version %q (expected RFC 3339 updatedAt): %w", s, err)
	}
	return t, true, nil
}

// update applies f, checked against --version when one was given.
func update(ctx context.Context, s *session, id string, f mutate.Fields, version string) error {
	v, ok, err := parseVersion(version)
	if err != nil {
		return err
	}
	if !ok {
		it, err := s.e.Item(id)
		if err != nil {
			return err
		}
		v = it.UpdatedAt
	}
	_, err = s.e.Update(ctx, id, f, v)
	return err
}

func newItemsAddCmd(app *App) *cobra.Command {
	var after string

	cmd := &cobra.Command{
		Use:   "add <text...>",
		Short: "Add an item (at the end of the top level, or after --after)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				text := joinText(args)
				if after != "" {
					it, err := s.e.CreateAfter(ctx, after, text)
					return it.ID, err
				}
				roots := s.e.Children("")
				if len(roots) == 0 {
					it, err := s.e.CreateChild(ctx, "", text)
					return it.ID, err
				}
				it, err := s.e.CreateAfter(ctx, roots[len(roots)-1].ID, text)
				return it.ID, err
			})
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "Insert directly after this item (inherits its state)")
	return cmd
}

func newItemsChildCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "child <parent-id> <text...>",
		Short: "Add an item as the first child of a parent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				it, err := s.e.CreateChild(ctx, args[0], joinText(args[1:]))
				return it.ID, err
			})
		},
	}
}

func newItemsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "show <item-id>",
		Aliases: []string{"get"},
		Short:   "Show an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				return args[0], nil
			})
		},
	}
}

func newItemsTextCmd(app *App) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "text <item-id> <text...>",
		Short: "Replace an item's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				return args[0], update(ctx, s, args[0], mutate.Fields{Text: mutate.Set(joinText(args[1:]))}, version)
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Expected updatedAt; the write fails with a conflict if the item changed since")
	return cmd
}

func newItemsStateCmd(app *App) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "state <item-id> <state>",
		Short: "Set an item's state (new|top|cur|soon|later|waiting|done)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := statusutil.NormalizeState(args[1])
			if err != nil {
				return writeErr(cmd, err)
			}
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				return args[0], update(ctx, s, args[0], mutate.Fields{}.WithState(st), version)
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Expected updatedAt; the write fails with a conflict if the item changed since")
	return cmd
}

func newItemsSnoozeCmd(app *App) *cobra.Command {
	var dur string

	cmd := &cobra.Command{
		Use:   "snooze <item-id>",
		Short: "Hide an item in waiting until a wake time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := app.cfg.SnoozeDefault()
			if err != nil {
				return writeErr(cmd, err)
			}
			if dur != "" {
				if d, err = time.ParseDuration(dur); err != nil || d <= 0 {
					return writeErr(cmd, fmt.Errorf("invalid --for %q (expected a positive duration like 2h or 72h)", dur))
				}
			}
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				_, err := s.e.Snooze(ctx, args[0], d)
				return args[0], err
			})
		},
	}
	cmd.Flags().StringVar(&dur, "for", "", "Snooze duration (default: snooze.default from config)")
	return cmd
}

func newItemsPinCmd(app *App) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "pin <item-id>",
		Short: "Pin an item (pinned parents are listed as extra roots)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				_, err := s.e.SetPinned(ctx, args[0], !off)
				return args[0], err
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Unpin instead")
	return cmd
}

func newItemsCollapseCmd(app *App) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "collapse <item-id>",
		Short: "Collapse an item so the outline hides its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				_, err := s.e.SetCollapsed(ctx, args[0], !off)
				return args[0], err
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Expand instead")
	return cmd
}

func newItemsNestCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "nest <item-id>",
		Short: "Make an item the last child of the visible sibling above it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				return args[0], s.e.Nest(ctx, args[0])
			})
		},
	}
}

func newItemsUnnestCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unnest <item-id>",
		Short: "Move an item out of its parent, right after it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				return args[0], s.e.Unnest(ctx, args[0])
			})
		},
	}
}

func newItemsMoveCmd(app *App) *cobra.Command {
	var to string
	var top bool

	cmd := &cobra.Command{
		Use:   "move <item-id>",
		Short: "Reparent an item as the last child of --to (or the top level with --top)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (to != "") == top {
				return writeErr(cmd, fmt.Errorf("exactly one of --to or --top is required"))
			}
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				return args[0], s.e.Move(ctx, args[0], to)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "New parent item id")
	cmd.Flags().BoolVar(&top, "top", false, "Move to the top level")
	return cmd
}

func newItemsBumpCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "bump <item-id>",
		Short: "Move an item to the front of its siblings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				return args[0], s.e.Bump(ctx, args[0])
			})
		},
	}
}

func newItemsReorderCmd(app *App) *cobra.Command {
	var before, after string

	cmd := &cobra.Command{
		Use:   "reorder <item-id>",
		Short: "Place an item directly before or after another item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (before == "") == (after == "") {
				return writeErr(cmd, fmt.Errorf("exactly one of --before or --after is required"))
			}
			return runItem(cmd, app, func(ctx context.Context, s *session) (string, error) {
				if after != "" {
					return args[0], s.e.Reorder(ctx, args[0], after, true)
				}
				return args[0], s.e.Reorder(ctx, args[0], before, false)
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Target item to place before")
	cmd.Flags().StringVar(&after, "after", "", "Target item to place after")
	return cmd
}

func newItemsRmCmd(app *App) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:     "rm <item-id>",
		Aliases: []string{"delete"},
		Short:   "Delete an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := outline.ParseDeleteMode(mode)
			if !ok {
				return writeErr(cmd, fmt.Errorf("invalid --children %q (expected reject|reparent|cascade)", mode))
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, app, "")
			if err != nil {
				return writeErr(cmd, err)
			}
			defer s.Close()

			removed := []string{args[0]}
			if m == outline.DeleteCascade {
				removed = s.e.Tree().Subtree(args[0])
			}
			if err := s.e.Delete(ctx, args[0], m); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"deleted": removed,
					"mode":    m.String(),
				},
			})
		},
	}
	cmd.Flags().StringVar(&mode, "children", "reject", "What happens to children: reject|reparent|cascade")
	return cmd
}
