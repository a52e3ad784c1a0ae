// Package state tracks per-stream bookmarks across runs. Bookmarks advance
// monotonically and are flushed as consistent snapshots, giving the pipeline
// at-least-once delivery: a crash between checkpoints re-extracts records,
// never skips them.
package state

import (
	"os"
	"sync"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/jsonutil"
)

// Bookmark is the persisted position of one incremental stream
type Bookmark struct {
	ReplicationKey      string `json:"replication_key"`
	ReplicationKeyValue string `json:"replication_key_value"`
}

// document is the serialized state shape
type document struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Manager holds the in-memory bookmark table. Safe for concurrent stream
// workers.
type Manager struct {
	mu        sync.RWMutex
	bookmarks map[string]Bookmark
}

// NewManager creates an empty bookmark table
func NewManager() *Manager {
	return &Manager{bookmarks: make(map[string]Bookmark)}
}

// Load reads persisted state from a file. A missing file is a fresh start,
// not an error.
func Load(path string) (*Manager, error) {
	m := NewManager()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read state file")
	}
	if len(data) == 0 {
		return m, nil
	}

	var doc document
	if err := jsonutil.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse state file")
	}
	for stream, b := range doc.Bookmarks {
		m.bookmarks[stream] = b
	}
	return m, nil
}

// Bookmark returns the current bookmark value for a stream
func (m *Manager) Bookmark(stream string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookmarks[stream]
	if !ok || b.ReplicationKeyValue == "" {
		return "", false
	}
	return b.ReplicationKeyValue, true
}

// Advance moves a stream's bookmark forward. A value at or below the current
// bookmark is ignored; bookmarks never regress. Values are RFC3339 UTC
// timestamps, so lexicographic order is chronological order. Returns whether
// the bookmark moved.
func (m *Manager) Advance(stream, replicationKey, value string) bool {
	if value == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bookmarks[stream]
	if ok && current.ReplicationKeyValue >= value {
		return false
	}
	m.bookmarks[stream] = Bookmark{
		ReplicationKey:      replicationKey,
		ReplicationKeyValue: value,
	}
	return true
}

// Snapshot renders the current bookmark table as a state message value.
// The returned map is a deep copy; later advances do not mutate it.
func (m *Manager) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bookmarks := make(map[string]interface{}, len(m.bookmarks))
	for stream, b := range m.bookmarks {
		bookmarks[stream] = map[string]interface{}{
			"replication_key":       b.ReplicationKey,
			"replication_key_value": b.ReplicationKeyValue,
		}
	}
	return map[string]interface{}{"bookmarks": bookmarks}
}

// Save persists the current bookmark table to a file
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	doc := document{Bookmarks: make(map[string]Bookmark, len(m.bookmarks))}
	for stream, b := range m.bookmarks {
		doc.Bookmarks[stream] = b
	}
	m.mu.RUnlock()

	data, err := jsonutil.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to serialize state")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write state file")
	}
	return nil
}
