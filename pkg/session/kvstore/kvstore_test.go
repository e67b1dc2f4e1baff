package kvstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/session/kvstore"
)

var (
	_ session.Storage = &kvstore.Memory{}
	_ session.Storage = &kvstore.SQLite{}
)

func exerciseStorage(t *testing.T, s session.Storage) {
	t.Helper()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set("punku-chat-session-a-1", "one"))
	require.NoError(t, s.Set("punku-chat-session-b-2", "two"))
	require.NoError(t, s.Set("other", "x"))
	require.NoError(t, s.Set("punku-chat-session-a-1", "uno"))

	v, ok, err := s.Get("punku-chat-session-a-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "uno", v)

	keys, err := s.Keys("punku-chat-session-")
	require.NoError(t, err)
	require.Equal(t, []string{"punku-chat-session-a-1", "punku-chat-session-b-2"}, keys)

	require.NoError(t, s.Remove("punku-chat-session-a-1"))
	require.NoError(t, s.Remove("punku-chat-session-a-1"))
	_, ok, err = s.Get("punku-chat-session-a-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func exercisePrefixes(t *testing.T, s session.Storage) {
	t.Helper()

	for _, k := range []string{
		"punku-chat-session-münchen.de-f1",
		"PUNKU-chat-session-münchen.de-f2",
		"punku-chat-session-a_b-1",
		"punku-chat-session-axb-1",
		"punku-chat-session-100%-1",
		"punku-chat-session-1000-1",
	} {
		require.NoError(t, s.Set(k, "v"))
	}

	keys, err := s.Keys("punku-chat-session-münchen.de-")
	require.NoError(t, err)
	require.Equal(t, []string{"punku-chat-session-münchen.de-f1"}, keys)

	keys, err = s.Keys("punku-chat-session-a_")
	require.NoError(t, err)
	require.Equal(t, []string{"punku-chat-session-a_b-1"}, keys)

	keys, err = s.Keys("punku-chat-session-100%")
	require.NoError(t, err)
	require.Equal(t, []string{"punku-chat-session-100%-1"}, keys)
}

func TestMemory(t *testing.T) {
	m := kvstore.NewMemory()
	exerciseStorage(t, m)
	exercisePrefixes(t, kvstore.NewMemory())

	m.SetUnavailable(true)
	require.ErrorIs(t, m.Set("k", "v"), kvstore.ErrUnavailable)
	_, err := m.Keys("")
	require.ErrorIs(t, err, kvstore.ErrUnavailable)

	m.SetUnavailable(false)
	require.NoError(t, m.Set("k", "v"))
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s, err := kvstore.OpenSQLiteFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStorage(t, s)
	exercisePrefixes(t, s)
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := kvstore.OpenSQLiteFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "persisted"))
	require.NoError(t, s.Close())

	s, err = kvstore.OpenSQLiteFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", v)
}

func TestSQLiteDSNForFile(t *testing.T) {
	_, err := kvstore.SQLiteDSNForFile("")
	require.Error(t, err)
	dsn, err := kvstore.SQLiteDSNForFile("/tmp/x.db")
	require.NoError(t, err)
	require.Contains(t, dsn, "file:/tmp/x.db?")
}
