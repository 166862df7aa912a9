package cli

import (
	"minder-cli/internal/model"

	"github.com/spf13/cobra"
)

func newEventsCmd(app *App) *cobra.Command {
	var limit int
	var itemID string
	var since int64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the change log (oldest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer b.Close()

			var evs []model.Event
			switch {
			case itemID != "":
				evs, err = b.ReadEventsForEntity(ctx, itemID, limit)
			case since > 0:
				evs, err = b.EventsSince(ctx, since)
			default:
				evs, err = b.ReadEvents(ctx, limit)
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": evs})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "Max events to return (0 = all)")
	cmd.Flags().StringVar(&itemID, "item", "", "Only events for this item or project id")
	cmd.Flags().Int64Var(&since, "since", 0, "Only events after this sequence number")
	return cmd
}
