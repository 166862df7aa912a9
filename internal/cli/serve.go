package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/perm"
	"minder-cli/internal/web"

	"github.com/spf13/cobra"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string
	var readOnly bool
	var auth bool
	var filter string
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the outline over HTTP (live HTML page + JSON API)",
		Long: strings.TrimSpace(`
Serve the current project over HTTP.

  GET  /                         outline page, live-updated over server-sent events
  GET  /api/view                 flat list (?filter=, ?root=, ?outline=1, ?format=)
  GET  /api/items/{id}           one item
  POST /api/items                create (text, after | parent)
  POST /api/items/{id}/state     set state (state, version)
  POST /api/items/{id}/text      set text (text, version)
  POST /api/items/{id}/snooze    snooze (for)

With --auth every request except /health needs a token from ` + "`minder serve token`" + `,
sent as "Authorization: Bearer <token>" or once as ?token= (kept in a cookie).
`),
		Example: strings.TrimSpace(`
  minder serve --addr 127.0.0.1:7070
  minder serve --auth --read-only
  minder serve token --scope read --ttl 24h
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			b, err := openBackend(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer b.Close()
			p, err := resolveProject(ctx, app, b)
			if err != nil {
				return writeErr(cmd, err)
			}
			snooze, err := app.cfg.SnoozeDefault()
			if err != nil {
				return writeErr(cmd, err)
			}
			if filter == "" {
				filter = app.cfg.View.Filter
			}

			var secret []byte
			if auth {
				if secret, err = web.LoadOrInitSecret(app.Dir); err != nil {
					return writeErr(cmd, err)
				}
			}

			srv, err := web.NewServer(web.ServerConfig{
				Addr:         addr,
				Store:        b,
				Project:      p,
				Filter:       model.Filter(filter),
				SnoozeFor:    snooze,
				ReadOnly:     readOnly,
				Secret:       secret,
				PollInterval: poll,
				Log:          app.log,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			ln, err := net.Listen("tcp", srv.Addr())
			if err != nil {
				return writeErr(cmd, err)
			}
			url := "http://" + ln.Addr().String() + "/"
			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      ln.Addr().String(),
					"url":       url,
					"project":   p.ID,
					"readOnly":  readOnly,
					"auth":      auth,
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "Minder serving %s at %s\n", p.Name, url)
			if err := srv.Serve(ctx, ln); err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7070", "Bind address (host:port or :port)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Refuse every write")
	cmd.Flags().BoolVar(&auth, "auth", false, "Require a signed token (see `minder serve token`)")
	cmd.Flags().StringVar(&filter, "filter", "", "Default filter (default: view.filter from config)")
	cmd.Flags().DurationVar(&poll, "poll", 2*time.Second, "How often to check the store for outside writes")

	cmd.AddCommand(newServeTokenCmd(app))
	return cmd
}

func newServeTokenCmd(app *App) *cobra.Command {
	var scope string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a token for `minder serve --auth`",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := perm.ParseScope(scope)
			if err != nil {
				return writeErr(cmd, err)
			}
			ctx := cmd.Context()
			b, err := openBackend(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer b.Close()
			p, err := resolveProject(ctx, app, b)
			if err != nil {
				return writeErr(cmd, err)
			}
			secret, err := web.LoadOrInitSecret(app.Dir)
			if err != nil {
				return writeErr(cmd, err)
			}
			tok, exp, err := web.NewSessionToken(secret, p.ID, sc, ttl)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"token":     tok,
					"scope":     sc,
					"project":   p.ID,
					"expiresAt": exp.UTC().Format(time.RFC3339),
				},
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "write", "Token scope (read|write)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}
