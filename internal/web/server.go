// Package web serves one project's outline over HTTP: an HTML page that
// live-updates over server-sent events, and a small JSON API for reading
// and editing items.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"minder-cli/internal/format"
	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
	"minder-cli/internal/outline"
	"minder-cli/internal/perm"
	"minder-cli/internal/publish"
	"minder-cli/internal/statusutil"

	"github.com/starfederation/datastar-go/datastar"
)

//go:embed templates/*.html
var assetsFS embed.FS

const defaultDatastarJS = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0/bundles/datastar.js"

// Store is what the server needs from a backend: the engine's ItemStore plus
// the event sequence used to notice writes made by other processes.
type Store interface {
	outline.ItemStore
	LastEventSeq(ctx context.Context) (int64, error)
}

type ServerConfig struct {
	Addr      string
	Store     Store
	Project   model.Project
	Filter    model.Filter
	SnoozeFor time.Duration
	ReadOnly  bool

	// Secret turns on token auth when non-empty.
	Secret []byte

	// PollInterval is how often the event sequence is checked for outside writes.
	PollInterval time.Duration
	DatastarJS   string

	Log *slog.Logger
	Now func() time.Time
}

type Server struct {
	// mu serializes engine loads and writes; an Engine is single-threaded.
	mu     sync.Mutex
	cfg    ServerConfig
	log    *slog.Logger
	tmpl   *template.Template
	hub    *resourceHub
	policy perm.Policy
}

func NewServer(cfg ServerConfig) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7070"
	}
	if cfg.Store == nil {
		return nil, errors.New("web: store is nil")
	}
	if strings.TrimSpace(cfg.Project.ID) == "" {
		return nil, errors.New("web: project is empty")
	}
	if cfg.Filter == "" {
		cfg.Filter = model.FilterAll
	}
	f, err := statusutil.NormalizeFilter(string(cfg.Filter))
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	cfg.Filter = f
	if cfg.SnoozeFor <= 0 {
		cfg.SnoozeFor = 24 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if strings.TrimSpace(cfg.DatastarJS) == "" {
		cfg.DatastarJS = defaultDatastarJS
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	tmpl, err := template.New("base").ParseFS(assetsFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:    cfg,
		log:    log.With("component", "web"),
		tmpl:   tmpl,
		hub:    newResourceHub(),
		policy: perm.Policy{ReadOnly: cfg.ReadOnly, AuthRequired: len(cfg.Secret) > 0},
	}, nil
}

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) now() time.Time { return s.cfg.Now() }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.guard(perm.OpRead, s.handleHome))
	mux.HandleFunc("GET /events", s.guard(perm.OpRead, s.handleEvents))
	mux.HandleFunc("GET /api/view", s.guard(perm.OpRead, s.handleView))
	mux.HandleFunc("GET /api/items/{id}", s.guard(perm.OpRead, s.handleItem))
	mux.HandleFunc("POST /api/items", s.guard(perm.OpWrite, s.handleCreate))
	mux.HandleFunc("POST /api/items/{id}/state", s.guard(perm.OpWrite, s.handleSetState))
	mux.HandleFunc("POST /api/items/{id}/text", s.guard(perm.OpWrite, s.handleSetText))
	mux.HandleFunc("POST /api/items/{id}/snooze", s.guard(perm.OpWrite, s.handleSnooze))
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.watchLoop(watchCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("serving", "addr", ln.Addr().String(), "project", s.cfg.Project.ID, "readOnly", s.cfg.ReadOnly, "auth", s.policy.AuthRequired)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// watchLoop broadcasts whenever the store's event sequence moves, so pages
// follow writes made by the CLI or another server.
func (s *Server) watchLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()

	last, err := s.cfg.Store.LastEventSeq(ctx)
	if err != nil {
		s.log.Warn("read event seq", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		seq, err := s.cfg.Store.LastEventSeq(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("read event seq", "err", err)
			}
			continue
		}
		if seq != last {
			last = seq
			s.log.Debug("store changed", "seq", seq, "streams", s.hub.len())
			s.hub.broadcast()
		}
	}
}

func (s *Server) guard(op perm.Op, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := s.scopeFor(w, r)
		if !s.policy.Allows(scope, op) {
			status := http.StatusForbidden
			if scope == "" && s.policy.AuthRequired {
				status = http.StatusUnauthorized
			}
			s.writeError(w, r, &httpError{status: status, err: fmt.Errorf("%s not allowed", op)})
			return
		}
		h(w, r)
	}
}

type httpError struct {
	status int
	err    error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

func statusFor(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, mutate.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mutate.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, mutate.ErrStructural), errors.Is(err, mutate.ErrOrphanedChildren):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = format.WriteJSON(w, map[string]any{"error": err.Error()}, false)
}

var contentTypes = map[string]string{
	"":     "application/json",
	"json": "application/json",
	"edn":  "application/edn",
	"yaml": "application/yaml",
	"yml":  "application/yaml",
	"text": "text/plain; charset=utf-8",
}

// writeData writes the CLI's {"data","meta"} envelope in ?format= (default json).
func (s *Server) writeData(w http.ResponseWriter, r *http.Request, status int, v any) {
	f := r.URL.Query().Get("format")
	if !format.Valid(f) {
		s.writeError(w, r, badRequest("unknown format: %s", f))
		return
	}
	w.Header().Set("Content-Type", contentTypes[f])
	w.WriteHeader(status)
	if err := format.Write(w, v, f, false); err != nil {
		s.log.Warn("write response", "err", err)
	}
}

func (s *Server) filterFor(r *http.Request) (model.Filter, error) {
	v := strings.TrimSpace(r.URL.Query().Get("filter"))
	if v == "" {
		return s.cfg.Filter, nil
	}
	f, err := statusutil.NormalizeFilter(v)
	if err != nil {
		return "", badRequest("%v", err)
	}
	return f, nil
}

// engine loads a fresh engine for the request. Callers hold s.mu.
func (s *Server) engine(ctx context.Context, f model.Filter) (*outline.Engine, error) {
	e := outline.NewEngine(s.cfg.Store,
		outline.WithLogger(s.log),
		outline.WithClock(s.cfg.Now),
		outline.WithFilter(f),
	)
	if err := e.Load(ctx, s.cfg.Project.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type pageVM struct {
	Project    string
	Filter     model.Filter
	Filters    []model.Filter
	ReadOnly   bool
	DatastarJS string
	Outline    template.HTML
}

var filterNav = []model.Filter{
	model.FilterFocus, model.FilterReview, model.FilterPile, model.FilterWaiting,
	model.FilterDone, model.FilterNotDone, model.FilterAll,
}

func (s *Server) pageFor(ctx context.Context, f model.Filter) (pageVM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.engine(ctx, f)
	if err != nil {
		return pageVM{}, err
	}
	md := publish.RenderOutlineMarkdown(s.cfg.Project.Name, f, e.Rows(), publish.RenderOptions{})
	body, err := renderOutlineHTML(md)
	if err != nil {
		return pageVM{}, err
	}
	return pageVM{
		Project:    s.cfg.Project.Name,
		Filter:     f,
		Filters:    filterNav,
		ReadOnly:   s.cfg.ReadOnly,
		DatastarJS: s.cfg.DatastarJS,
		Outline:    body,
	}, nil
}

func (s *Server) renderTemplate(name string, data any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	f, err := s.filterFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vm, err := s.pageFor(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	html, err := s.renderTemplate("page", vm)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// handleEvents streams the outline fragment: once on connect, then after
// every change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	f, err := s.filterFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ch, cancel := s.hub.subscribe()
	defer cancel()

	sse := datastar.NewSSE(w, r)
	render := func() {
		vm, err := s.pageFor(sse.Context(), f)
		if err == nil {
			var html string
			if html, err = s.renderTemplate("outline", vm); err == nil {
				err = sse.PatchElements(html, datastar.WithSelector("#outline"), datastar.WithMode(datastar.ElementPatchModeOuter))
			}
		}
		if err != nil && sse.Context().Err() == nil {
			s.log.Warn("stream render", "err", err)
			_ = sse.ExecuteScript(fmt.Sprintf(`console.error(%q)`, err.Error()))
		}
	}
	render()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-sse.Context().Done():
			return
		case <-keepAlive.C:
			_ = sse.PatchSignals([]byte(`{}`))
		case <-ch:
			render()
		}
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	f, err := s.filterFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	root := q.Get("root")
	asOutline := q.Get("outline") == "1" || q.Get("outline") == "true"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.engine(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := map[string]any{"project": s.cfg.Project.ID, "filter": f}
	if asOutline {
		s.writeData(w, r, http.StatusOK, map[string]any{"data": e.Rows(), "meta": meta})
		return
	}
	if root != "" {
		if _, err := e.Item(root); err != nil {
			s.writeError(w, r, err)
			return
		}
		meta["root"] = root
	}
	s.writeData(w, r, http.StatusOK, map[string]any{"data": e.FlatList(root), "meta": meta})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.engine(r.Context(), s.cfg.Filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	it, err := e.Item(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{"data": it})
}

// mutateItem runs fn against a freshly loaded engine and answers with the
// resulting item. Streams are told about the change.
func (s *Server) mutateItem(w http.ResponseWriter, r *http.Request, status int, fn func(ctx context.Context, e *outline.Engine) (string, error)) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, badRequest("parse form: %v", err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := r.Context()
	e, err := s.engine(ctx, s.cfg.Filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := fn(ctx, e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	it, err := e.Item(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("item changed", "method", r.Method, "path", r.URL.Path, "item", id)
	s.hub.broadcast()
	s.writeData(w, r, status, map[string]any{"data": it})
}

func formText(r *http.Request) (string, error) {
	text := strings.TrimSpace(r.PostFormValue("text"))
	if text == "" {
		return "", badRequest("missing text")
	}
	return text, nil
}

// formVersion reads the optional optimistic-concurrency token; without one
// the item's current version is used.
func formVersion(r *http.Request, e *outline.Engine, id string) (time.Time, error) {
	v := strings.TrimSpace(r.PostFormValue("version"))
	if v == "" {
		it, err := e.Item(id)
		if err != nil {
			return time.Time{}, err
		}
		return it.UpdatedAt, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, badRequest("invalid version %q (expected RFC3339 updatedAt)", v)
	}
	return t, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mutateItem(w, r, http.StatusCreated, func(ctx context.Context, e *outline.Engine) (string, error) {
		text, err := formText(r)
		if err != nil {
			return "", err
		}
		after, parent := r.PostFormValue("after"), r.PostFormValue("parent")
		var it model.Item
		switch {
		case after != "" && parent != "":
			return "", badRequest("use either after or parent")
		case after != "":
			it, err = e.CreateAfter(ctx, after, text)
		case parent != "":
			it, err = e.CreateChild(ctx, parent, text)
		default:
			roots := e.Children("")
			if len(roots) == 0 {
				it, err = e.CreateChild(ctx, "", text)
			} else {
				it, err = e.CreateAfter(ctx, roots[len(roots)-1].ID, text)
			}
		}
		return it.ID, err
	})
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mutateItem(w, r, http.StatusOK, func(ctx context.Context, e *outline.Engine) (string, error) {
		st, err := statusutil.NormalizeState(r.PostFormValue("state"))
		if err != nil {
			return "", badRequest("%v", err)
		}
		v, err := formVersion(r, e, id)
		if err != nil {
			return "", err
		}
		_, err = e.Update(ctx, id, mutate.Fields{}.WithState(st), v)
		return id, err
	})
}

func (s *Server) handleSetText(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mutateItem(w, r, http.StatusOK, func(ctx context.Context, e *outline.Engine) (string, error) {
		text, err := formText(r)
		if err != nil {
			return "", err
		}
		v, err := formVersion(r, e, id)
		if err != nil {
			return "", err
		}
		_, err = e.Update(ctx, id, mutate.Fields{Text: mutate.Set(text)}, v)
		return id, err
	})
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mutateItem(w, r, http.StatusOK, func(ctx context.Context, e *outline.Engine) (string, error) {
		d := s.cfg.SnoozeFor
		if v := strings.TrimSpace(r.PostFormValue("for")); v != "" {
			var err error
			if d, err = time.ParseDuration(v); err != nil || d <= 0 {
				return "", badRequest("invalid for %q (expected a positive duration like 2h)", v)
			}
		}
		_, err := e.Snooze(ctx, id, d)
		return id, err
	})
}
