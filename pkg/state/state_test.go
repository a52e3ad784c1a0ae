package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookmarkMissingStream(t *testing.T) {
	m := NewManager()
	_, ok := m.Bookmark("payroll_output")
	assert.False(t, ok)
}

func TestAdvanceMovesForward(t *testing.T) {
	m := NewManager()

	assert.True(t, m.Advance("payroll_output", "modified", "2024-01-01T00:00:00Z"))
	v, ok := m.Bookmark("payroll_output")
	require.True(t, ok)
	assert.Equal(t, "2024-01-01T00:00:00Z", v)

	assert.True(t, m.Advance("payroll_output", "modified", "2024-02-01T00:00:00Z"))
	v, _ = m.Bookmark("payroll_output")
	assert.Equal(t, "2024-02-01T00:00:00Z", v)
}

func TestAdvanceNeverRegresses(t *testing.T) {
	m := NewManager()
	m.Advance("payroll_output", "modified", "2024-02-01T00:00:00Z")

	// out-of-order records must not move the bookmark backwards
	assert.False(t, m.Advance("payroll_output", "modified", "2024-01-15T00:00:00Z"))
	assert.False(t, m.Advance("payroll_output", "modified", "2024-02-01T00:00:00Z"))

	v, _ := m.Bookmark("payroll_output")
	assert.Equal(t, "2024-02-01T00:00:00Z", v)
}

func TestAdvanceIgnoresEmptyValue(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Advance("payroll_output", "modified", ""))
}

func TestSnapshotIsIsolatedFromLaterAdvances(t *testing.T) {
	m := NewManager()
	m.Advance("payroll_output", "modified", "2024-01-01T00:00:00Z")

	snap := m.Snapshot()
	m.Advance("payroll_output", "modified", "2024-06-01T00:00:00Z")

	bookmarks := snap["bookmarks"].(map[string]interface{})
	entry := bookmarks["payroll_output"].(map[string]interface{})
	assert.Equal(t, "2024-01-01T00:00:00Z", entry["replication_key_value"])
}

func TestLoadMissingFileIsFreshStart(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	_, ok := m.Bookmark("payroll_output")
	assert.False(t, ok)
}

func TestLoadEmptyPathIsFreshStart(t *testing.T) {
	m, err := Load("")
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	m := NewManager()
	m.Advance("payroll_output", "modified", "2024-03-01T00:00:00Z")
	require.NoError(t, m.Save(path))

	restored, err := Load(path)
	require.NoError(t, err)
	v, ok := restored.Bookmark("payroll_output")
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T00:00:00Z", v)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
