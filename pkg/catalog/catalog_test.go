package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
)

func TestDiscoverIsIdempotent(t *testing.T) {
	first := Discover()
	second := Discover()

	require.Equal(t, len(first.Streams), len(second.Streams))
	for i := range first.Streams {
		assert.Equal(t, first.Streams[i].Name, second.Streams[i].Name)
		assert.Equal(t, first.Streams[i].Path, second.Streams[i].Path)
		assert.Equal(t, first.Streams[i].PrimaryKeys, second.Streams[i].PrimaryKeys)
	}
}

func TestDiscoverDeclaresParentsBeforeChildren(t *testing.T) {
	c := Discover()
	seen := make(map[string]bool)
	for _, s := range c.Streams {
		if s.Parent != "" {
			assert.True(t, seen[s.Parent], "parent %s of %s must be declared first", s.Parent, s.Name)
		}
		seen[s.Name] = true
	}
}

func TestPayrollOutputIsIncremental(t *testing.T) {
	c := Discover()
	def, ok := c.Get("payroll_output")
	require.True(t, ok)
	assert.Equal(t, ReplicationIncremental, def.ReplicationMethod)
	assert.Equal(t, "_sdc_modified_schedule_entry_id", def.ReplicationKey)
	assert.NotEmpty(t, def.IncrementalFilter)
}

func TestSelectEmptyPatternsSelectsEverything(t *testing.T) {
	c := Discover()
	sel, err := c.Select(nil)
	require.NoError(t, err)
	assert.Len(t, sel.Streams, len(c.Streams))
}

func TestSelectExactStream(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"workers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"workers"}, sel.Streams)
}

func TestSelectWildcardMatchesWholeSegmentOnly(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"payroll_output.*"})
	require.NoError(t, err)

	// the wildcard covers payroll_output's fields, never a sibling stream
	// whose name merely shares the prefix
	assert.True(t, sel.IsSelected("payroll_output"))
	assert.False(t, sel.IsSelected("payroll_output_acc"))
	assert.True(t, sel.FieldSelected("payroll_output", "anything"))
}

func TestSelectStarSelectsEveryStream(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"*"})
	require.NoError(t, err)
	assert.Len(t, sel.Streams, len(c.Streams))
}

func TestSelectFieldRestriction(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"workers.associateOID"})
	require.NoError(t, err)

	assert.True(t, sel.FieldSelected("workers", "associateOID"))
	assert.False(t, sel.FieldSelected("workers", "person"))
}

func TestSelectFieldRestrictionKeepsKeys(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"payroll_output.payPeriodEndDate"})
	require.NoError(t, err)

	// primary and replication keys always survive field selection
	assert.True(t, sel.FieldSelected("payroll_output", "itemID"))
	assert.True(t, sel.FieldSelected("payroll_output", "_sdc_modified_schedule_entry_id"))
	assert.False(t, sel.FieldSelected("payroll_output", "payrollScheduleReference"))
}

func TestSelectUnknownStreamFails(t *testing.T) {
	c := Discover()
	_, err := c.Select([]string{"no_such_stream"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
}

func TestSelectPreservesCatalogOrder(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"payroll_output", "workers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"workers", "payroll_output"}, sel.Streams)
}

func TestDocumentRoundTrip(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"workers", "payroll_output"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, WriteDocument(path, c.Document(sel)))

	doc, err := LoadDocument(path)
	require.NoError(t, err)

	restored, err := c.SelectionFromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"workers", "payroll_output"}, restored.Streams)
}

func TestSelectionFromDocumentReorderedStreams(t *testing.T) {
	c := Discover()

	// operator-edited catalogs may list streams in any order; every selected
	// stream survives and the selection comes back in catalog declared order
	doc := &Document{Streams: []DocumentStream{
		{Stream: "payroll_output", Selected: true},
		{Stream: "workers", Selected: true},
	}}
	sel, err := c.SelectionFromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"workers", "payroll_output"}, sel.Streams)
}

func TestSelectionFromDocumentReversedCatalog(t *testing.T) {
	c := Discover()

	doc := &Document{}
	for i := len(c.Streams) - 1; i >= 0; i-- {
		doc.Streams = append(doc.Streams, DocumentStream{
			Stream:   c.Streams[i].Name,
			Selected: true,
		})
	}
	sel, err := c.SelectionFromDocument(doc)
	require.NoError(t, err)

	require.Len(t, sel.Streams, len(c.Streams))
	for i, s := range c.Streams {
		assert.Equal(t, s.Name, sel.Streams[i])
	}
}

func TestDocumentSelectedFieldsAreSorted(t *testing.T) {
	c := Discover()
	sel, err := c.Select([]string{"payroll_output.payPeriodEndDate"})
	require.NoError(t, err)

	doc := c.Document(sel)
	for _, entry := range doc.Streams {
		if entry.Stream != "payroll_output" {
			continue
		}
		assert.Equal(t, []string{
			"_sdc_modified_schedule_entry_id",
			"itemID",
			"payPeriodEndDate",
		}, entry.SelectedFields)
	}
}

func TestSelectionFromDocumentRejectsUnknownStream(t *testing.T) {
	c := Discover()
	doc := &Document{Streams: []DocumentStream{
		{Stream: "ghosts", Selected: true},
	}}
	_, err := c.SelectionFromDocument(doc)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
}

func TestAboutListsAllStreams(t *testing.T) {
	about := NewAbout("1.2.3")
	assert.Equal(t, "tap-adp", about.Name)
	assert.Equal(t, "1.2.3", about.Version)
	assert.Len(t, about.Streams, len(Discover().Streams))
	assert.Contains(t, about.Capabilities, "discover")
}
