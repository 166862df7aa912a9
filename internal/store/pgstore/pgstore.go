// Package pgstore is a PostgreSQL-backed ItemStore for shared workspaces.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
	"minder-cli/internal/store"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
	log  *slog.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open connects to dsn, pings, and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.MaxConns = 4
	// Port 6543 is a transaction pooler without prepared statement support.
	if cfg.ConnConfig.Port == 6543 && cfg.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool, now: time.Now, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS minder_meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS minder_projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			doc JSONB NOT NULL,
			created_at_unixnano BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS minder_items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES minder_projects(id),
			parent_id TEXT NOT NULL,
			rank TEXT COLLATE "C" NOT NULL,
			state TEXT NOT NULL,
			doc JSONB NOT NULL,
			created_at_unixnano BIGINT NOT NULL,
			updated_at_unixnano BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_minder_items_parent ON minder_items(project_id, parent_id, rank)`,
		`CREATE TABLE IF NOT EXISTS minder_events (
			seq BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			issued_at_unixnano BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_minder_events_entity ON minder_events(entity_id, seq)`,
	}
	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction. Rollback after Commit is a no-op.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Error("rollback failed", "err", err)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func getItem(ctx context.Context, db dbtx, id string, forUpdate bool) (model.Item, int64, error) {
	id = strings.TrimSpace(id)
	q := `SELECT doc, updated_at_unixnano FROM minder_items WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	var raw []byte
	var version int64
	if err := db.QueryRow(ctx, q, id).Scan(&raw, &version); err != nil {
		if isNoRows(err) {
			return model.Item{}, 0, mutate.NotFoundError{Kind: "item", ID: id}
		}
		return model.Item{}, 0, fmt.Errorf("get item: %w", err)
	}
	var it model.Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return model.Item{}, 0, fmt.Errorf("decode item %s: %w", id, err)
	}
	return it, version, nil
}

func appendEvent(ctx context.Context, db dbtx, ts time.Time, typ, entityID string, payload any) error {
	pb, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO minder_events (event_id, type, entity_id, payload, issued_at_unixnano)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), typ, entityID, pb, ts.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Item, error) {
	it, _, err := getItem(ctx, s.pool, id, false)
	return it, err
}

func (s *Store) Create(ctx context.Context, n model.NewItem) (model.Item, error) {
	if n.State == "" {
		n.State = model.StateNew
	}
	if err := mutate.ValidateNewItem(n); err != nil {
		return model.Item{}, err
	}
	var out model.Item
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := findProject(ctx, tx, n.ProjectID); err != nil {
			return err
		}
		parent := ""
		if n.ParentID != nil {
			p, _, err := getItem(ctx, tx, *n.ParentID, false)
			if err != nil {
				return err
			}
			if p.ProjectID != n.ProjectID {
				return &mutate.StructuralError{Op: "create", TargetID: p.ID, Reason: "parent belongs to another project"}
			}
			parent = p.ID
		}
		id, err := store.NextID("item", func(id string) (bool, error) {
			var one int
			err := tx.QueryRow(ctx, `SELECT 1 FROM minder_items WHERE id = $1`, id).Scan(&one)
			if isNoRows(err) {
				return false, nil
			}
			return err == nil, err
		})
		if err != nil {
			return err
		}
		rank := strings.TrimSpace(n.Rank)
		if rank == "" {
			var maxRank *string
			if err := tx.QueryRow(ctx, `SELECT MAX(rank) FROM minder_items WHERE project_id = $1 AND parent_id = $2`,
				n.ProjectID, parent).Scan(&maxRank); err != nil {
				return fmt.Errorf("sibling rank: %w", err)
			}
			if maxRank == nil || *maxRank == "" {
				rank, err = store.RankInitial()
			} else {
				rank, err = store.RankAfter(*maxRank)
			}
			if err != nil {
				return err
			}
		}
		now := s.now().UTC()
		out = model.Item{
			ID:        id,
			ProjectID: n.ProjectID,
			ParentID:  n.ParentID,
			Rank:      rank,
			Text:      n.Text,
			State:     n.State,
			Pinned:    n.Pinned,
			CreatedAt: now,
			UpdatedAt: now,
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO minder_items (id, project_id, parent_id, rank, state, doc, created_at_unixnano, updated_at_unixnano)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			out.ID, out.ProjectID, parent, out.Rank, string(out.State), raw, now.UnixNano(), now.UnixNano(),
		); err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		return appendEvent(ctx, tx, now, store.EventItemCreate, out.ID, out)
	})
	if err != nil {
		return model.Item{}, err
	}
	s.log.Debug("item created", "id", out.ID, "parent", out.Parent())
	return out, nil
}

// Update locks the row, compares its version with checkVersion and applies f.
func (s *Store) Update(ctx context.Context, id string, f mutate.Fields, checkVersion time.Time) (model.Item, error) {
	var next model.Item
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, version, err := getItem(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if version != checkVersion.UnixNano() {
			s.log.Warn("update rejected: stale version", "id", id, "expected", checkVersion, "actual", cur.UpdatedAt)
			return &mutate.ConflictError{ItemID: cur.ID, Expected: checkVersion, Actual: cur.UpdatedAt}
		}
		now := s.now()
		f, err = f.Resolve(cur, now)
		if err != nil {
			return err
		}
		if f.ParentID.IsSet() {
			if err := checkParent(ctx, tx, cur, f.ParentID.Value); err != nil {
				return err
			}
		}
		next = cur.Clone()
		f.Apply(&next)
		next.UpdatedAt = store.NextVersion(cur.UpdatedAt, now)
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE minder_items SET parent_id = $1, rank = $2, state = $3, doc = $4, updated_at_unixnano = $5
			WHERE id = $6`,
			next.Parent(), next.Rank, string(next.State), raw, next.UpdatedAt.UnixNano(), next.ID,
		); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		return appendEvent(ctx, tx, next.UpdatedAt, store.EventItemUpdate, next.ID, f.Payload())
	})
	if err != nil {
		return model.Item{}, err
	}
	s.log.Debug("item updated", "id", next.ID, "fields", f.Names())
	return next, nil
}

func checkParent(ctx context.Context, tx pgx.Tx, it model.Item, parentID string) error {
	seen := map[string]bool{}
	cur := strings.TrimSpace(parentID)
	for cur != "" {
		if cur == it.ID || seen[cur] {
			return &mutate.StructuralError{Op: "update", ItemID: it.ID, TargetID: parentID, Reason: "parent would create a cycle"}
		}
		seen[cur] = true
		p, _, err := getItem(ctx, tx, cur, false)
		if err != nil {
			return err
		}
		if p.ProjectID != it.ProjectID {
			return &mutate.StructuralError{Op: "update", ItemID: it.ID, TargetID: parentID, Reason: "parent belongs to another project"}
		}
		cur = p.Parent()
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		cur, _, err := getItem(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM minder_items WHERE id = $1`, cur.ID); err != nil {
			return fmt.Errorf("remove item: %w", err)
		}
		return appendEvent(ctx, tx, s.now(), store.EventItemRemove, cur.ID, map[string]any{"parentId": cur.ParentID})
	})
}

func (s *Store) Query(ctx context.Context, q model.Query) ([]model.Item, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if strings.TrimSpace(q.ProjectID) != "" {
		where = append(where, "project_id = "+arg(strings.TrimSpace(q.ProjectID)))
	}
	switch {
	case q.ParentID != nil:
		where = append(where, "parent_id = "+arg(strings.TrimSpace(*q.ParentID)))
	case q.TopLevel:
		where = append(where, "parent_id = ''")
	}
	if len(q.States) > 0 {
		states := make([]string, 0, len(q.States))
		for _, st := range q.States {
			states = append(states, string(st))
		}
		where = append(where, "state = ANY("+arg(states)+")")
	}
	stmt := `SELECT doc FROM minder_items`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY rank ASC, created_at_unixnano ASC, id ASC`

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	out := []model.Item{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var it model.Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func findProject(ctx context.Context, db dbtx, id string) (model.Project, error) {
	var raw []byte
	err := db.QueryRow(ctx, `SELECT doc FROM minder_projects WHERE id = $1`, strings.TrimSpace(id)).Scan(&raw)
	if isNoRows(err) {
		return model.Project{}, mutate.NotFoundError{Kind: "project", ID: id}
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("get project: %w", err)
	}
	var p model.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Project{}, err
	}
	return p, nil
}

func (s *Store) CreateProject(ctx context.Context, name string) (model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Project{}, errors.New("project name is empty")
	}
	var p model.Project
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		id, err := store.NextID("proj", func(id string) (bool, error) {
			_, err := findProject(ctx, tx, id)
			if errors.Is(err, mutate.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		})
		if err != nil {
			return err
		}
		p = model.Project{ID: id, Name: name, CreatedAt: s.now().UTC()}
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO minder_projects (id, name, doc, created_at_unixnano) VALUES ($1, $2, $3, $4)`,
			p.ID, p.Name, raw, p.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO minder_meta (k, v) VALUES ('current_project_id', $1) ON CONFLICT (k) DO NOTHING`, p.ID); err != nil {
			return err
		}
		return appendEvent(ctx, tx, p.CreatedAt, store.EventProjectCreate, p.ID, p)
	})
	return p, err
}

func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM minder_projects ORDER BY created_at_unixnano ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	out := []model.Project{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p model.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) FindProject(ctx context.Context, idOrName string) (model.Project, error) {
	p, err := findProject(ctx, s.pool, idOrName)
	if err == nil || !errors.Is(err, mutate.ErrNotFound) {
		return p, err
	}
	var raw []byte
	err = s.pool.QueryRow(ctx, `SELECT doc FROM minder_projects WHERE name = $1 ORDER BY created_at_unixnano LIMIT 1`,
		strings.TrimSpace(idOrName)).Scan(&raw)
	if isNoRows(err) {
		return model.Project{}, mutate.NotFoundError{Kind: "project", ID: idOrName}
	}
	if err != nil {
		return model.Project{}, err
	}
	err = json.Unmarshal(raw, &p)
	return p, err
}

func (s *Store) CurrentProjectID(ctx context.Context) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT v FROM minder_meta WHERE k = 'current_project_id'`).Scan(&v)
	if isNoRows(err) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetCurrentProject(ctx context.Context, id string) error {
	if _, err := findProject(ctx, s.pool, id); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO minder_meta (k, v) VALUES ('current_project_id', $1)
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`, strings.TrimSpace(id))
	return err
}

func (s *Store) ReadEvents(ctx context.Context, limit int) ([]model.Event, error) {
	q := `SELECT seq, event_id, issued_at_unixnano, type, entity_id, payload FROM minder_events`
	if limit > 0 {
		return s.scanEvents(ctx, `SELECT * FROM (`+q+` ORDER BY seq DESC LIMIT $1) t ORDER BY seq ASC`, limit)
	}
	return s.scanEvents(ctx, q+` ORDER BY seq ASC`)
}

func (s *Store) EventsSince(ctx context.Context, after int64) ([]model.Event, error) {
	return s.scanEvents(ctx, `
		SELECT seq, event_id, issued_at_unixnano, type, entity_id, payload
		FROM minder_events WHERE seq > $1 ORDER BY seq ASC`, after)
}

func (s *Store) ReadEventsForEntity(ctx context.Context, entityID string, limit int) ([]model.Event, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return []model.Event{}, nil
	}
	q := `SELECT seq, event_id, issued_at_unixnano, type, entity_id, payload
		FROM minder_events WHERE entity_id = $1 ORDER BY seq ASC`
	if limit > 0 {
		return s.scanEvents(ctx, q+` LIMIT $2`, entityID, limit)
	}
	return s.scanEvents(ctx, q, entityID)
}

func (s *Store) LastEventSeq(ctx context.Context) (int64, error) {
	var n *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(seq) FROM minder_events`).Scan(&n); err != nil {
		return 0, err
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

func (s *Store) scanEvents(ctx context.Context, q string, args ...any) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		var ev model.Event
		var ts int64
		var raw []byte
		if err := rows.Scan(&ev.Seq, &ev.ID, &ts, &ev.Type, &ev.EntityID, &raw); err != nil {
			return nil, err
		}
		ev.TS = time.Unix(0, ts).UTC()
		_ = json.Unmarshal(raw, &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
