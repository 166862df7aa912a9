package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
)

// SQLite is the workspace-local ItemStore. Items are stored as JSON blobs with
// the columns needed for lookups and the concurrency check broken out.
type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
	log  *slog.Logger
}

func (s *SQLite) Close() error { return s.db.Close() }

// Path is the database file; the WAL sidecar next to it changes on every commit.
func (s *SQLite) Path() string { return s.path }

func migrateSQLiteState(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			archived INTEGER NOT NULL,
			json TEXT NOT NULL,
			created_at_unixnano INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			rank TEXT NOT NULL,
			state TEXT NOT NULL,
			json TEXT NOT NULL,
			created_at_unixnano INTEGER NOT NULL,
			updated_at_unixnano INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_project_parent ON items(project_id, parent_id, rank);`,
		`CREATE INDEX IF NOT EXISTS idx_items_state ON items(state);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			issued_at_unixnano INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	_, err := ensureMetaUUID(ctx, db, "workspace_id")
	return err
}

func (s *SQLite) WorkspaceID(ctx context.Context) (string, error) {
	return ensureMetaUUID(ctx, s.db, "workspace_id")
}

// Get returns the stored item or mutate.NotFoundError.
func (s *SQLite) Get(ctx context.Context, id string) (model.Item, error) {
	it, _, err := getItem(ctx, s.db, id)
	return it, err
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getItem(ctx context.Context, q rowQueryer, id string) (model.Item, int64, error) {
	id = strings.TrimSpace(id)
	var js string
	var version int64
	err := q.QueryRowContext(ctx, `SELECT json, updated_at_unixnano FROM items WHERE id = ?`, id).Scan(&js, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, 0, mutate.NotFoundError{Kind: "item", ID: id}
	}
	if err != nil {
		return model.Item{}, 0, err
	}
	var it model.Item
	if err := json.Unmarshal([]byte(js), &it); err != nil {
		return model.Item{}, 0, fmt.Errorf("decode item %s: %w", id, err)
	}
	return it, version, nil
}

// Create validates n, assigns id, rank (appended after siblings when empty) and
// timestamps, and inserts the item together with an item.create event.
func (s *SQLite) Create(ctx context.Context, n model.NewItem) (model.Item, error) {
	if n.State == "" {
		n.State = model.StateNew
	}
	if err := mutate.ValidateNewItem(n); err != nil {
		return model.Item{}, err
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return model.Item{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := findProjectTx(ctx, tx, n.ProjectID); err != nil {
		return model.Item{}, err
	}
	if n.ParentID != nil {
		parent, _, err := getItem(ctx, tx, *n.ParentID)
		if err != nil {
			return model.Item{}, err
		}
		if parent.ProjectID != n.ProjectID {
			return model.Item{}, &mutate.StructuralError{Op: "create", TargetID: parent.ID, Reason: "parent belongs to another project"}
		}
	}

	id, err := NextID("item", func(id string) (bool, error) {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return model.Item{}, err
	}

	rank := strings.TrimSpace(n.Rank)
	if rank == "" {
		rank, err = nextSiblingRank(ctx, tx, n.ProjectID, parentKey(n.ParentID))
		if err != nil {
			return model.Item{}, err
		}
	}

	now := s.now().UTC()
	it := model.Item{
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
	if err := insertItem(ctx, tx, it); err != nil {
		return model.Item{}, err
	}
	if err := appendEvent(ctx, tx, now, EventItemCreate, it.ID, it); err != nil {
		return model.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Item{}, err
	}
	s.log.Debug("item created", "id", it.ID, "parent", it.Parent(), "rank", it.Rank)
	return it, nil
}

// Update applies f to the item if its stored version equals checkVersion. A
// mismatch returns *mutate.ConflictError and leaves the item untouched.
func (s *SQLite) Update(ctx context.Context, id string, f mutate.Fields, checkVersion time.Time) (model.Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return model.Item{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, version, err := getItem(ctx, tx, id)
	if err != nil {
		return model.Item{}, err
	}
	if version != checkVersion.UnixNano() {
		s.log.Warn("update rejected: stale version", "id", id, "expected", checkVersion, "actual", cur.UpdatedAt)
		return model.Item{}, &mutate.ConflictError{ItemID: cur.ID, Expected: checkVersion, Actual: cur.UpdatedAt}
	}

	now := s.now()
	f, err = f.Resolve(cur, now)
	if err != nil {
		return model.Item{}, err
	}
	if f.ParentID.IsSet() {
		if err := checkParentTx(ctx, tx, cur, f.ParentID.Value); err != nil {
			return model.Item{}, err
		}
	}

	next := cur.Clone()
	f.Apply(&next)
	next.UpdatedAt = NextVersion(cur.UpdatedAt, now)

	raw, err := json.Marshal(next)
	if err != nil {
		return model.Item{}, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE items SET parent_id = ?, rank = ?, state = ?, json = ?, updated_at_unixnano = ?
		WHERE id = ? AND updated_at_unixnano = ?`,
		next.Parent(), next.Rank, string(next.State), string(raw), next.UpdatedAt.UnixNano(),
		next.ID, version,
	)
	if err != nil {
		return model.Item{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Item{}, &mutate.ConflictError{ItemID: cur.ID, Expected: checkVersion, Actual: cur.UpdatedAt}
	}
	if err := appendEvent(ctx, tx, next.UpdatedAt, EventItemUpdate, next.ID, f.Payload()); err != nil {
		return model.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Item{}, err
	}
	s.log.Debug("item updated", "id", next.ID, "fields", f.Names())
	return next, nil
}

// checkParentTx rejects a parent in another project or one that is it or one
// of its descendants.
func checkParentTx(ctx context.Context, tx *sql.Tx, it model.Item, parentID string) error {
	seen := map[string]bool{}
	cur := strings.TrimSpace(parentID)
	for cur != "" {
		if cur == it.ID {
			return &mutate.StructuralError{Op: "update", ItemID: it.ID, TargetID: parentID, Reason: "parent would create a cycle"}
		}
		if seen[cur] {
			return &mutate.StructuralError{Op: "update", ItemID: it.ID, TargetID: parentID, Reason: "existing parent chain is cyclic"}
		}
		seen[cur] = true
		p, _, err := getItem(ctx, tx, cur)
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

// Remove deletes one item. Children are not touched; the caller decides how
// they are handled before removing their parent.
func (s *SQLite) Remove(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	cur, _, err := getItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, cur.ID); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, s.now(), EventItemRemove, cur.ID, map[string]any{"parentId": cur.ParentID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("item removed", "id", cur.ID)
	return nil
}

// Query returns matching items in rank order.
func (s *SQLite) Query(ctx context.Context, q model.Query) ([]model.Item, error) {
	var where []string
	var args []any
	if strings.TrimSpace(q.ProjectID) != "" {
		where = append(where, "project_id = ?")
		args = append(args, strings.TrimSpace(q.ProjectID))
	}
	switch {
	case q.ParentID != nil:
		where = append(where, "parent_id = ?")
		args = append(args, strings.TrimSpace(*q.ParentID))
	case q.TopLevel:
		where = append(where, "parent_id = ''")
	}
	if len(q.States) > 0 {
		marks := make([]string, 0, len(q.States))
		for _, st := range q.States {
			marks = append(marks, "?")
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	stmt := `SELECT json FROM items`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY rank ASC, created_at_unixnano ASC, id ASC`

	xs, err := readJSONRows[model.Item](ctx, s.db, stmt, args...)
	if err != nil {
		return nil, err
	}
	if xs == nil {
		xs = []model.Item{}
	}
	return xs, nil
}

func insertItem(ctx context.Context, tx execer, it model.Item) error {
	raw, err := json.Marshal(it)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO items(
		id, project_id, parent_id, rank, state, json, created_at_unixnano, updated_at_unixnano
	) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ProjectID, it.Parent(), it.Rank, string(it.State), string(raw),
		it.CreatedAt.UnixNano(), it.UpdatedAt.UnixNano(),
	)
	return err
}

func parentKey(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func nextSiblingRank(ctx context.Context, tx *sql.Tx, projectID, parentID string) (string, error) {
	var maxRank sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT MAX(rank) FROM items WHERE project_id = ? AND parent_id = ?`, projectID, parentID).Scan(&maxRank)
	if err != nil {
		return "", err
	}
	if !maxRank.Valid || strings.TrimSpace(maxRank.String) == "" {
		return RankInitial()
	}
	return RankAfter(maxRank.String)
}

// CreateProject inserts a project and makes it current when none is set.
func (s *SQLite) CreateProject(ctx context.Context, name string) (model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Project{}, errors.New("project name is empty")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return model.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := NextID("proj", func(id string) (bool, error) {
		_, err := findProjectTx(ctx, tx, id)
		if errors.Is(err, mutate.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return model.Project{}, err
	}
	p := model.Project{ID: id, Name: name, CreatedAt: s.now().UTC()}
	raw, err := json.Marshal(p)
	if err != nil {
		return model.Project{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id, name, archived, json, created_at_unixnano) VALUES(?, ?, ?, ?, ?)`,
		p.ID, p.Name, boolToInt(p.Archived), string(raw), p.CreatedAt.UnixNano()); err != nil {
		return model.Project{}, err
	}
	if err := appendEvent(ctx, tx, p.CreatedAt, EventProjectCreate, p.ID, p); err != nil {
		return model.Project{}, err
	}
	var cur string
	_ = tx.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, "current_project_id").Scan(&cur)
	if strings.TrimSpace(cur) == "" {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(k, v) VALUES(?, ?)`, "current_project_id", p.ID); err != nil {
			return model.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Project{}, err
	}
	return p, nil
}

func (s *SQLite) ListProjects(ctx context.Context) ([]model.Project, error) {
	xs, err := readJSONRows[model.Project](ctx, s.db, `SELECT json FROM projects ORDER BY created_at_unixnano ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	if xs == nil {
		xs = []model.Project{}
	}
	return xs, nil
}

// FindProject resolves a project by id, falling back to an exact name match.
func (s *SQLite) FindProject(ctx context.Context, idOrName string) (model.Project, error) {
	idOrName = strings.TrimSpace(idOrName)
	p, err := findProjectTx(ctx, s.db, idOrName)
	if err == nil || !errors.Is(err, mutate.ErrNotFound) {
		return p, err
	}
	xs, err := readJSONRows[model.Project](ctx, s.db, `SELECT json FROM projects WHERE name = ? ORDER BY created_at_unixnano ASC LIMIT 1`, idOrName)
	if err != nil {
		return model.Project{}, err
	}
	if len(xs) == 0 {
		return model.Project{}, mutate.NotFoundError{Kind: "project", ID: idOrName}
	}
	return xs[0], nil
}

func findProjectTx(ctx context.Context, q rowQueryer, id string) (model.Project, error) {
	var js string
	err := q.QueryRowContext(ctx, `SELECT json FROM projects WHERE id = ?`, strings.TrimSpace(id)).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, mutate.NotFoundError{Kind: "project", ID: id}
	}
	if err != nil {
		return model.Project{}, err
	}
	var p model.Project
	if err := json.Unmarshal([]byte(js), &p); err != nil {
		return model.Project{}, err
	}
	return p, nil
}

func (s *SQLite) CurrentProjectID(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, "current_project_id").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return strings.TrimSpace(v), err
}

func (s *SQLite) SetCurrentProject(ctx context.Context, id string) error {
	if _, err := findProjectTx(ctx, s.db, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(k, v) VALUES(?, ?)`, "current_project_id", strings.TrimSpace(id))
	return err
}

func readJSONRows[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var js string
		if err := rows.Scan(&js); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(js), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
