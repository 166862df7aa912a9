package cli

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"minder-cli/internal/webtui"

	"github.com/spf13/cobra"
)

func newWebTUICmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "webtui",
		Short: "Run the terminal UI in your browser (PTY + WebSocket, no auth)",
		Long: strings.TrimSpace(`
Run ` + "`minder tui`" + ` in a server-side PTY and attach a browser terminal to it.
Each browser tab starts its own TUI process. There is no authentication; bind
to localhost.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			srv, err := webtui.NewServer(webtui.ServerConfig{
				Addr:    strings.TrimSpace(addr),
				Dir:     app.Dir,
				Project: app.Project,
				Log:     app.log,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			ln, err := net.Listen("tcp", srv.Addr())
			if err != nil {
				return writeErr(cmd, err)
			}
			url := "http://" + ln.Addr().String() + "/terminal"
			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      ln.Addr().String(),
					"url":       url,
					"dir":       app.Dir,
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "Minder webtui running at %s\n", url)

			hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				_ = hs.Close()
			}()
			if err := hs.Serve(ln); err != nil && err != http.ErrServerClosed {
				return writeErr(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3334", "Bind address (host:port or :port)")
	return cmd
}
