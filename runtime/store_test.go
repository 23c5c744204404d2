package runtime

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s SessionStore) {
	t.Helper()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(Session{ID: "mem_b", Token: "tok_b", AddedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Put(Session{ID: "mem_a", Token: "tok_a", AddedAt: base}))

	got, err := s.Get("mem_a")
	require.NoError(t, err)
	assert.Equal(t, "tok_a", got.Token)

	got, err = s.FindByToken("tok_b")
	require.NoError(t, err)
	assert.Equal(t, "mem_b", got.ID)

	_, err = s.Get("mem_x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.FindByToken("tok_x")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mem_a", all[0].ID, "ordered by AddedAt")

	require.NoError(t, s.Delete("mem_a"))
	require.NoError(t, s.Delete("mem_a"))
	all, err = s.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteAll())
	all, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStore(t *testing.T) {
	s, err := OpenSessionStore("")
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestBoltStore(t *testing.T) {
	s, err := OpenSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestBoltStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	added := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(Session{ID: "mem_1", Token: "tok_1", AddedAt: added}))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("mem_1")
	require.NoError(t, err)
	assert.Equal(t, "tok_1", got.Token)
	assert.True(t, added.Equal(got.AddedAt))

	// The simulator picks up sessions stored by a previous run.
	c, _ := newSimClient(t, SimulatorConfig{Store: s})
	ids, err := c.GetSessionIDs(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_1"}, ids)
}
