package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/autonomy"
	"conductor/pkg/phase"
)

func sampleSnapshot() *Snapshot {
	phases := phase.NewTable()
	phases["1A"].Status = phase.StatusCompleted
	phases["1A"].LastOutput = "functional architecture content"
	return &Snapshot{
		Phases:        phases,
		AutonomyMode:  autonomy.ModePerAgentOnce,
		ApprovedRoles: []phase.Role{phase.RoleArchitect},
		SavedAt:       time.Now().UTC(),
	}
}

func roundTrip(t *testing.T, store Store) {
	t.Helper()

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty store loads nil")

	require.NoError(t, store.Save(sampleSnapshot()))

	loaded, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, phase.StatusCompleted, loaded.Phases["1A"].Status)
	assert.Equal(t, "functional architecture content", loaded.Phases["1A"].LastOutput)
	assert.Equal(t, autonomy.ModePerAgentOnce, loaded.AutonomyMode)
	assert.Equal(t, []phase.Role{phase.RoleArchitect}, loaded.ApprovedRoles)

	// Second save overwrites, never appends.
	second := sampleSnapshot()
	second.AutonomyMode = autonomy.ModeFullAuto
	require.NoError(t, store.Save(second))

	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, autonomy.ModeFullAuto, loaded.AutonomyMode)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	roundTrip(t, NewMemoryStore())
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state", "snapshot.json"))
	require.NoError(t, err)
	roundTrip(t, store)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conductor.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	roundTrip(t, store)
}

func TestFileStoreAtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleSnapshot()))

	// No temp files left behind after a save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot.json", entries[0].Name())
}

func TestSaveNilSnapshot(t *testing.T) {
	assert.Error(t, NewMemoryStore().Save(nil))

	store, err := NewFileStore(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	assert.Error(t, store.Save(nil))
}
