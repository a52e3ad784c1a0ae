// Package singer implements the typed output message protocol consumed by
// the downstream loader: schema announcements, data records tagged with
// their stream, and state checkpoints, emitted as line-delimited JSON on a
// single ordered channel.
package singer

import (
	"io"
	"sync"
	"time"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/jsonutil"
)

// Message types
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// SchemaMessage announces a stream's shape before its records
type SchemaMessage struct {
	Type               string                 `json:"type"`
	Stream             string                 `json:"stream"`
	Schema             map[string]interface{} `json:"schema"`
	KeyProperties      []string               `json:"key_properties"`
	BookmarkProperties []string               `json:"bookmark_properties,omitempty"`
}

// RecordMessage carries one mapped record
type RecordMessage struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream"`
	Record        map[string]interface{} `json:"record"`
	TimeExtracted time.Time              `json:"time_extracted"`
}

// StateMessage carries a checkpoint of per-stream bookmarks
type StateMessage struct {
	Type  string                 `json:"type"`
	Value map[string]interface{} `json:"value"`
}

// Writer emits messages to a single output channel in the order produced.
// It is safe for use from concurrent stream workers; the mutex preserves
// whole-message ordering on the shared sink.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter creates a message writer over the given sink
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// WriteSchema emits a SCHEMA message
func (w *Writer) WriteSchema(stream string, schema map[string]interface{}, keyProperties, bookmarkProperties []string) error {
	return w.write(SchemaMessage{
		Type:               TypeSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	})
}

// WriteRecord emits a RECORD message
func (w *Writer) WriteRecord(stream string, record map[string]interface{}) error {
	return w.write(RecordMessage{
		Type:          TypeRecord,
		Stream:        stream,
		Record:        record,
		TimeExtracted: time.Now().UTC(),
	})
}

// WriteState emits a STATE message
func (w *Writer) WriteState(value map[string]interface{}) error {
	return w.write(StateMessage{Type: TypeState, Value: value})
}

func (w *Writer) write(msg interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	enc := jsonutil.NewEncoder(w.out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write output message")
	}
	return nil
}
