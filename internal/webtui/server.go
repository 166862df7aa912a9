// Package webtui runs `minder tui` in a server-side PTY and bridges it to a
// browser terminal over a WebSocket.
package webtui

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

//go:embed templates/*.html
var assetsFS embed.FS

const (
	xtermCDN = "https://cdn.jsdelivr.net/npm/@xterm/xterm@5.5.0"
	fitCDN   = "https://cdn.jsdelivr.net/npm/@xterm/addon-fit@0.10.0"
)

type ServerConfig struct {
	Addr    string
	Dir     string
	Project string

	// Command is the argv started for each connection. Empty means this
	// executable's `tui` subcommand for Dir and Project.
	Command []string

	Log *slog.Logger
}

type Server struct {
	cfg  ServerConfig
	log  *slog.Logger
	tmpl *template.Template
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("webtui: missing addr")
	}
	tmpl, err := template.ParseFS(assetsFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{cfg: cfg, log: log.With("component", "webtui"), tmpl: tmpl}, nil
}

func (s *Server) Addr() string {
	return strings.TrimSpace(s.cfg.Addr)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/terminal", http.StatusFound)
	})
	mux.HandleFunc("GET /terminal", s.handleTerminal)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

type terminalVM struct {
	Project  string
	XtermCDN string
	FitCDN   string
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(s.cfg.Project)
	if project == "" {
		project = "Minder"
	}
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, "terminal.html", terminalVM{Project: project, XtermCDN: xtermCDN, FitCDN: fitCDN}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

// command returns the argv for a new session.
func (s *Server) command() ([]string, error) {
	if len(s.cfg.Command) > 0 {
		return s.cfg.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	args := []string{exe}
	if dir := strings.TrimSpace(s.cfg.Dir); dir != "" {
		args = append(args, "--dir", dir)
	}
	if p := strings.TrimSpace(s.cfg.Project); p != "" {
		args = append(args, "--project", p)
	}
	return append(args, "tui"), nil
}
