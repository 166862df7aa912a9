package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MINDER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MINDER_TEST_PG_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresUpdateConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p, err := s.CreateProject(ctx, "pg-"+t.Name())
	require.NoError(t, err)
	it, err := s.Create(ctx, model.NewItem{ProjectID: p.ID, Text: "draft"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, it.ID, mutate.Fields{Text: mutate.Set("from B")}, it.UpdatedAt)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(it.UpdatedAt))

	_, err = s.Update(ctx, it.ID, mutate.Fields{Text: mutate.Set("from A")}, it.UpdatedAt)
	var conflict *mutate.ConflictError
	require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)

	got, err := s.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "from B", got.Text)
}

func TestPostgresQueryAndRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p, err := s.CreateProject(ctx, "pg-"+t.Name())
	require.NoError(t, err)
	a, err := s.Create(ctx, model.NewItem{ProjectID: p.ID, Text: "a"})
	require.NoError(t, err)
	parent := a.ID
	b, err := s.Create(ctx, model.NewItem{ProjectID: p.ID, ParentID: &parent, Text: "b", State: model.StateCur})
	require.NoError(t, err)

	kids, err := s.Query(ctx, model.Query{ProjectID: p.ID, ParentID: &parent})
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, b.ID, kids[0].ID)

	cur, err := s.Query(ctx, model.Query{ProjectID: p.ID, States: []model.State{model.StateCur}})
	require.NoError(t, err)
	require.Len(t, cur, 1)

	snoozed, err := s.Update(ctx, b.ID, mutate.Fields{}.WithSnooze(time.Hour), b.UpdatedAt)
	require.NoError(t, err)
	require.NotNil(t, snoozed.UnsnoozedState)
	assert.Equal(t, model.StateCur, *snoozed.UnsnoozedState)

	require.NoError(t, s.Remove(ctx, b.ID))
	_, err = s.Get(ctx, b.ID)
	assert.ErrorIs(t, err, mutate.ErrNotFound)
}
