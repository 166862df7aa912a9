package cli

import (
	"context"
	"errors"

	"minder-cli/internal/model"
	"minder-cli/internal/outline"
	"minder-cli/internal/store"
	"minder-cli/internal/store/pgstore"
)

// backend is everything the CLI needs from a store: the engine's ItemStore
// plus projects and the event log. Both store.SQLite and pgstore.Store satisfy it.
type backend interface {
	outline.ItemStore
	CreateProject(ctx context.Context, name string) (model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	FindProject(ctx context.Context, idOrName string) (model.Project, error)
	CurrentProjectID(ctx context.Context) (string, error)
	SetCurrentProject(ctx context.Context, id string) error
	ReadEvents(ctx context.Context, limit int) ([]model.Event, error)
	ReadEventsForEntity(ctx context.Context, entityID string, limit int) ([]model.Event, error)
	EventsSince(ctx context.Context, after int64) ([]model.Event, error)
	LastEventSeq(ctx context.Context) (int64, error)
	Close() error
}

var (
	_ backend = (*store.SQLite)(nil)
	_ backend = (*pgstore.Store)(nil)
)

var errNoProject = errors.New("no current project; run `minder init` or `minder projects add <name>`")

func openBackend(ctx context.Context, app *App) (backend, error) {
	switch app.cfg.Store.Driver {
	case "postgres":
		if app.cfg.Store.DSN == "" {
			return nil, errors.New("store.driver is postgres but no dsn is configured (store.dsn or MINDER_PG_DSN)")
		}
		return pgstore.Open(ctx, app.cfg.Store.DSN, pgstore.WithLogger(app.log))
	default:
		return store.Store{Dir: app.Dir}.Open(ctx, store.WithLogger(app.log))
	}
}

// resolveProject picks --project when given, else the workspace's current project.
func resolveProject(ctx context.Context, app *App, b backend) (model.Project, error) {
	ref := app.Project
	if ref == "" {
		id, err := b.CurrentProjectID(ctx)
		if err != nil {
			return model.Project{}, err
		}
		if id == "" {
			return model.Project{}, errNoProject
		}
		ref = id
	}
	return b.FindProject(ctx, ref)
}

// session is one command's view of the workspace: an open backend and an
// engine loaded with the selected project.
type session struct {
	b       backend
	e       *outline.Engine
	project model.Project
}

func (s *session) Close() error { return s.b.Close() }

func openSession(ctx context.Context, app *App, filter string) (*session, error) {
	b, err := openBackend(ctx, app)
	if err != nil {
		return nil, err
	}
	s, err := loadSession(ctx, app, b, filter)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return s, nil
}

// loadSession builds an engine over an already open backend. Closing the
// session closes b.
func loadSession(ctx context.Context, app *App, b backend, filter string) (*session, error) {
	p, err := resolveProject(ctx, app, b)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		filter = app.cfg.View.Filter
	}
	e := outline.NewEngine(b, outline.WithLogger(app.log))
	if err := e.SetFilter(model.Filter(filter)); err != nil {
		return nil, err
	}
	if err := e.Load(ctx, p.ID); err != nil {
		return nil, err
	}
	return &session{b: b, e: e, project: p}, nil
}

// itemView is the payload for a single item: the item plus its place in the outline.
type itemView struct {
	model.Item `yaml:",inline"`

	IsParent bool           `json:"isParent" yaml:"isParent"`
	Visible  bool           `json:"visible" yaml:"visible"`
	Flags    *outline.Flags `json:"flags,omitempty" yaml:"flags,omitempty"`
	Children []string       `json:"children,omitempty" yaml:"children,omitempty"`
}

func (s *session) view(id string) (itemView, error) {
	it, err := s.e.Item(id)
	if err != nil {
		return itemView{}, err
	}
	v := itemView{Item: it, IsParent: s.e.IsParent(id), Visible: s.e.IsVisible(id)}
	if fl, ok := s.e.Flags(id); ok {
		v.Flags = &fl
	}
	for _, k := range s.e.Children(id) {
		v.Children = append(v.Children, k.ID)
	}
	return v, nil
}
