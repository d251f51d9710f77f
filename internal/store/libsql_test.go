package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	body := json.RawMessage(`{"key":"graph-1","sheets":{}}`)
	require.NoError(t, s.PutDocument(ctx, "graph-1", "graph", body))

	rec, err := s.GetDocument(ctx, "graph-1")
	require.NoError(t, err)
	assert.Equal(t, "graph-1", rec.ResourceKey)
	assert.Equal(t, "graph", rec.Kind)
	assert.Equal(t, int64(1), rec.Revision)
	assert.JSONEq(t, string(body), string(rec.Body))
}

func TestPutDocument_BumpsRevision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, "graph-1", "graph", json.RawMessage(`{"v":1}`)))
	require.NoError(t, s.PutDocument(ctx, "graph-1", "graph", json.RawMessage(`{"v":2}`)))

	rec, err := s.GetDocument(ctx, "graph-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Revision)
	assert.JSONEq(t, `{"v":2}`, string(rec.Body))
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocument(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, "graph-1", "graph", json.RawMessage(`{}`)))
	require.NoError(t, s.DeleteDocument(ctx, "graph-1"))

	_, err := s.GetDocument(ctx, "graph-1")
	require.Error(t, err)

	err = s.DeleteDocument(ctx, "graph-1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListDocumentKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, "graph-b", "graph", json.RawMessage(`{}`)))
	require.NoError(t, s.PutDocument(ctx, "graph-a", "graph", json.RawMessage(`{}`)))
	require.NoError(t, s.PutDocument(ctx, "nodeConfig-x", "nodeConfig", json.RawMessage(`{}`)))

	keys, err := s.ListDocumentKeys(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph-a", "graph-b"}, keys)

	all, err := s.ListDocumentKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", Name: "ada"}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Name)
	assert.Equal(t, UserStatusActive, u.Status)
	assert.Nil(t, u.LastSeenAt)

	require.NoError(t, s.UpdateUserSeen(ctx, "u1"))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, u.LastSeenAt)

	require.NoError(t, s.SetUserStatus(ctx, "u1", UserStatusBanned))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, UserStatusBanned, u.Status)
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestUpsertUser_KeepsStatusOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1"}))
	require.NoError(t, s.SetUserStatus(ctx, "u1", UserStatusBanned))
	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", Name: "renamed"}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, UserStatusBanned, u.Status, "re-registration must not lift a ban")
	assert.Equal(t, "renamed", u.Name)
}
