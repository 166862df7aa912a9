package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"minder-cli/internal/docs"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

func newDocsCmd(app *App) *cobra.Command {
	var raw bool
	var width int

	cmd := &cobra.Command{
		Use:   "docs [topic]",
		Short: "Show built-in documentation (filters, snooze, outline, config, versions)",
		Long: `Show built-in documentation.

With --format text the topic is rendered for the terminal; --raw prints the
markdown source. Other formats wrap the markdown in the usual envelope.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return writeOut(cmd, app, map[string]any{"data": map[string]any{"topics": docs.Topics()}})
			}

			topic := args[0]
			body, ok := docs.Get(topic)
			if !ok {
				return writeErr(cmd, fmt.Errorf("unknown docs topic: %q (run `minder docs` to list topics)", topic))
			}
			out := cmd.OutOrStdout()
			if raw {
				_, err := fmt.Fprint(out, body)
				return err
			}
			if app.Format == "text" {
				rendered, err := docs.Render(body, markdownStyle(out), width)
				if err != nil {
					return writeErr(cmd, err)
				}
				_, err = fmt.Fprint(out, rendered)
				return err
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"topic": topic, "markdown": body}})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print raw markdown (no envelope)")
	cmd.Flags().IntVar(&width, "width", 80, "Wrap width for rendered text")
	return cmd
}

// markdownStyle picks a glamour style for w: MINDER_MD_STYLE when set, plain
// text when w is not a color terminal, else by background.
func markdownStyle(w io.Writer) string {
	switch s := strings.ToLower(strings.TrimSpace(os.Getenv("MINDER_MD_STYLE"))); s {
	case "dark", "light", "notty", "ascii":
		return s
	}
	r := lipgloss.NewRenderer(w)
	if r.ColorProfile() == termenv.Ascii {
		return "notty"
	}
	if r.HasDarkBackground() {
		return "dark"
	}
	return "light"
}
