// Package catalog defines the stream catalog for the ADP API: the static
// set of extractable streams, their schemas and replication strategy, the
// selection semantics, and the serialized catalog document exchanged with
// the operator between invocations.
package catalog

import (
	"os"
	"sort"
	"strings"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/jsonutil"
	"github.com/ajitpratap0/tap-adp/pkg/transform"
)

// ReplicationMethod selects how a stream is extracted across runs
type ReplicationMethod string

const (
	// ReplicationFullTable extracts the stream in full on every run
	ReplicationFullTable ReplicationMethod = "FULL_TABLE"
	// ReplicationIncremental resumes from the stream's bookmark
	ReplicationIncremental ReplicationMethod = "INCREMENTAL"
)

// SkippableCondition identifies an upstream error response that marks a
// single resource as unavailable rather than the run as failed. The matched
// request is skipped and the stream continues.
type SkippableCondition struct {
	Status          int    `json:"status"`
	MessageContains string `json:"message_contains,omitempty"`
	CodeValue       string `json:"code_value,omitempty"`
}

// StreamDefinition describes one extractable stream. Definitions are
// immutable after discovery.
type StreamDefinition struct {
	Name              string
	Path              string // endpoint path, may contain {context} placeholders
	PrimaryKeys       []string
	ReplicationMethod ReplicationMethod
	ReplicationKey    string
	// RecordsKey is the response envelope key holding the record array;
	// empty means the response body is the record itself
	RecordsKey string
	// Paginated streams use the $top/$skip window protocol
	Paginated bool

	// Parent names the stream whose records provide this stream's context
	Parent string
	// ParentContext maps context placeholder -> parent record field
	ParentContext map[string]string

	Headers map[string]string
	Params  map[string]string

	// IncrementalFilter is the $filter template applied for incremental
	// extraction; {date} is replaced with the bookmark date as YYYYMMDD
	IncrementalFilter string

	// Rules are built-in derivations applied before operator stream maps
	Rules []transform.Rule

	// EmptyOnStatus lists HTTP statuses treated as an empty result for this
	// stream rather than an error
	EmptyOnStatus []int
	// Skippable lists per-resource error conditions that skip the resource
	Skippable []SkippableCondition

	Schema map[string]interface{}
}

// IsChild reports whether the stream requires a parent context
func (s *StreamDefinition) IsChild() bool {
	return s.Parent != ""
}

// Catalog is the discovered set of stream definitions in declared order
type Catalog struct {
	Streams []StreamDefinition
}

// Discover returns the catalog of ADP streams. Discovery is static and
// therefore idempotent: the same definitions are produced on every call.
func Discover() *Catalog {
	return &Catalog{Streams: streamDefinitions()}
}

// Get returns the definition for a stream name
func (c *Catalog) Get(name string) (*StreamDefinition, bool) {
	for i := range c.Streams {
		if c.Streams[i].Name == name {
			return &c.Streams[i], true
		}
	}
	return nil, false
}

// Selection is the resolved set of selected streams, in catalog declared
// order, with optional per-stream field restriction (nil = all fields).
type Selection struct {
	Streams []string
	Fields  map[string]map[string]bool
}

// IsSelected reports whether a stream is part of the selection
func (s *Selection) IsSelected(stream string) bool {
	for _, name := range s.Streams {
		if name == stream {
			return true
		}
	}
	return false
}

// FieldSelected reports whether a field survives the selection for a stream
func (s *Selection) FieldSelected(stream, field string) bool {
	fields, ok := s.Fields[stream]
	if !ok || fields == nil {
		return true
	}
	return fields[field]
}

// Select resolves selection patterns against the catalog.
//
// A pattern is "stream" or "stream.field". "*" matches exactly one whole
// segment, never across the "." separator and never a substring: the
// pattern "payroll_output.*" selects every field of the payroll_output
// stream and does not select the payroll_output_acc stream.
//
// A pattern matching no catalog stream is a schema mismatch error: a stream
// not present in the catalog cannot be selected.
func (c *Catalog) Select(patterns []string) (*Selection, error) {
	if len(patterns) == 0 {
		// No selection means every stream
		sel := &Selection{Fields: map[string]map[string]bool{}}
		for _, s := range c.Streams {
			sel.Streams = append(sel.Streams, s.Name)
		}
		return sel, nil
	}

	selected := make(map[string]bool)
	fields := make(map[string]map[string]bool)

	for _, pattern := range patterns {
		parts := strings.SplitN(pattern, ".", 2)
		streamPat := parts[0]

		matched := false
		for _, s := range c.Streams {
			if !segmentMatch(streamPat, s.Name) {
				continue
			}
			matched = true
			selected[s.Name] = true

			if len(parts) == 1 || parts[1] == "*" {
				// whole stream: clear any field restriction
				fields[s.Name] = nil
				continue
			}
			if restricted, ok := fields[s.Name]; ok && restricted == nil {
				// an earlier pattern already selected the whole stream
				continue
			}
			if fields[s.Name] == nil {
				fields[s.Name] = make(map[string]bool)
			}
			fields[s.Name][parts[1]] = true
			// primary and replication keys always survive field selection
			for _, pk := range s.PrimaryKeys {
				fields[s.Name][pk] = true
			}
			if s.ReplicationKey != "" {
				fields[s.Name][s.ReplicationKey] = true
			}
		}

		if !matched {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
				"selection pattern %q matches no stream in the catalog", pattern)
		}
	}

	sel := &Selection{Fields: fields}
	for _, s := range c.Streams {
		if selected[s.Name] {
			sel.Streams = append(sel.Streams, s.Name)
		}
	}
	return sel, nil
}

// segmentMatch matches one selection segment against a name. "*" matches
// the whole segment; anything else is an exact match.
func segmentMatch(pattern, name string) bool {
	return pattern == "*" || pattern == name
}

// Document is the serialized catalog exchanged with the operator
type Document struct {
	Streams []DocumentStream `json:"streams"`
}

// DocumentStream is one stream entry in the serialized catalog
type DocumentStream struct {
	Stream            string                 `json:"tap_stream_id"`
	ReplicationMethod string                 `json:"replication_method"`
	ReplicationKey    string                 `json:"replication_key,omitempty"`
	PrimaryKeys       []string               `json:"key_properties"`
	Selected          bool                   `json:"selected"`
	SelectedFields    []string               `json:"selected_fields,omitempty"`
	Schema            map[string]interface{} `json:"schema"`
}

// Document renders the catalog with the given selection applied. A nil
// selection marks every stream selected.
func (c *Catalog) Document(sel *Selection) *Document {
	doc := &Document{}
	for _, s := range c.Streams {
		entry := DocumentStream{
			Stream:            s.Name,
			ReplicationMethod: string(s.ReplicationMethod),
			ReplicationKey:    s.ReplicationKey,
			PrimaryKeys:       s.PrimaryKeys,
			Selected:          sel == nil || sel.IsSelected(s.Name),
			Schema:            s.Schema,
		}
		if sel != nil {
			if fields := sel.Fields[s.Name]; fields != nil {
				for f := range fields {
					entry.SelectedFields = append(entry.SelectedFields, f)
				}
				// map iteration order would make discovery output unstable
				sort.Strings(entry.SelectedFields)
			}
		}
		doc.Streams = append(doc.Streams, entry)
	}
	return doc
}

// WriteDocument serializes the catalog document to a file
func WriteDocument(path string, doc *Document) error {
	data, err := jsonutil.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to serialize catalog")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write catalog file")
	}
	return nil
}

// LoadDocument reads a previously emitted catalog document
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read catalog file")
	}
	var doc Document
	if err := jsonutil.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse catalog file")
	}
	return &doc, nil
}

// SelectionFromDocument reconstructs a selection from a loaded catalog
// document, validating every selected stream against the live catalog.
func (c *Catalog) SelectionFromDocument(doc *Document) (*Selection, error) {
	sel := &Selection{Fields: map[string]map[string]bool{}}
	for _, entry := range doc.Streams {
		if !entry.Selected {
			continue
		}
		def, ok := c.Get(entry.Stream)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
				"selected stream %q is not in the catalog", entry.Stream)
		}
		sel.Streams = append(sel.Streams, def.Name)
		if len(entry.SelectedFields) > 0 {
			fields := make(map[string]bool, len(entry.SelectedFields))
			for _, f := range entry.SelectedFields {
				fields[f] = true
			}
			sel.Fields[def.Name] = fields
		}
	}
	// restore catalog declared order
	present := make(map[string]bool, len(sel.Streams))
	for _, name := range sel.Streams {
		present[name] = true
	}
	ordered := make([]string, 0, len(sel.Streams))
	for _, s := range c.Streams {
		if present[s.Name] {
			ordered = append(ordered, s.Name)
		}
	}
	sel.Streams = ordered
	return sel, nil
}
