package pairedstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/model"
)

func TestOpenOnMissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "roster.json"))
	require.NoError(t, err)
	assert.Empty(t, s.List())
}

func TestUpsertThenIsPaired(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "roster.json"))
	require.NoError(t, err)

	require.NoError(t, s.Upsert(model.PairedDevice{
		DeviceID: "Peer-A", Name: "Peer A", Platform: "linux", LastSeen: time.Now(),
	}))

	assert.True(t, s.IsPaired("peer-a"))
	assert.False(t, s.IsPaired("peer-b"))
}

func TestRosterPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(model.PairedDevice{DeviceID: "peer-a", Name: "Peer A"}))

	s2, err := Open(path)
	require.NoError(t, err)
	assert.True(t, s2.IsPaired("peer-a"))
	assert.Len(t, s2.List(), 1)
}

func TestRemoveUnpairs(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "roster.json"))
	require.NoError(t, err)
	require.NoError(t, s.Upsert(model.PairedDevice{DeviceID: "peer-a"}))
	require.NoError(t, s.Remove("peer-a"))
	assert.False(t, s.IsPaired("peer-a"))
}
