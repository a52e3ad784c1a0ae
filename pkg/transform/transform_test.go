package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRejectsMalformedRules(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"empty rule", Rule{}},
		{"two variants", Rule{
			Rename: &RenameRule{From: "a", To: "b"},
			Filter: &FilterRule{Field: "a", Op: "exists"},
		}},
		{"rename missing to", Rule{Rename: &RenameRule{From: "a"}}},
		{"extract missing path", Rule{Extract: &ExtractRule{To: "x"}}},
		{"compute without expression", Rule{Compute: &ComputeRule{Field: "x"}}},
		{"compute with two expressions", Rule{Compute: &ComputeRule{
			Field:    "x",
			Template: "{a}",
			DateAdd:  &DateAddExpr{Source: "a", SourceLayout: "20060102"},
		}}},
		{"unbalanced template braces", Rule{Compute: &ComputeRule{
			Field:    "x",
			Template: "{a",
		}}},
		{"date_add missing layout", Rule{Compute: &ComputeRule{
			Field:   "x",
			DateAdd: &DateAddExpr{Source: "a"},
		}}},
		{"unknown filter op", Rule{Filter: &FilterRule{Field: "a", Op: "gt"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Rule{tt.rule}, 2)
			assert.Error(t, err)
		})
	}
}

func TestCompileRejectsNegativeDepth(t *testing.T) {
	_, err := Compile(nil, -1)
	assert.Error(t, err)
}

func TestRename(t *testing.T) {
	tr, err := Compile([]Rule{
		{Rename: &RenameRule{From: "old", To: "new"}},
	}, 2)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{"old": 1, "other": 2})
	require.True(t, ok)
	assert.Equal(t, 1, out["new"])
	assert.Equal(t, 2, out["other"])
	assert.NotContains(t, out, "old")

	// absent source field is a no-op
	out, ok = tr.Apply(map[string]interface{}{"other": 2})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"other": 2}, out)
}

func TestExtractNestedPath(t *testing.T) {
	tr, err := Compile([]Rule{
		{Extract: &ExtractRule{Path: "nameCode.code", To: "code"}},
	}, 2)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{
		"nameCode": map[string]interface{}{"code": "D100", "shortName": "Ops"},
	})
	require.True(t, ok)
	assert.Equal(t, "D100", out["code"])
}

func TestComputeTemplate(t *testing.T) {
	tr, err := Compile([]Rule{
		{Compute: &ComputeRule{Field: "full", Template: "{first} {last}"}},
	}, 2)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{"first": "Ada", "last": "Lovelace"})
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", out["full"])
}

func TestComputeDateAddParsesPrefixAndShifts(t *testing.T) {
	tr, err := Compile([]Rule{
		{Compute: &ComputeRule{
			Field: "modified",
			DateAdd: &DateAddExpr{
				Source:       "schedule.entryID",
				Days:         -30,
				SourceLayout: "20060102",
			},
		}},
	}, 2)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{
		"schedule": map[string]interface{}{"entryID": "20240315WK11"},
	})
	require.True(t, ok)
	assert.Equal(t, "2024-02-14T00:00:00Z", out["modified"])

	// unparseable source leaves the field unset
	out, ok = tr.Apply(map[string]interface{}{
		"schedule": map[string]interface{}{"entryID": "notadate"},
	})
	require.True(t, ok)
	assert.NotContains(t, out, "modified")
}

func TestFilterDropsMatchingRecords(t *testing.T) {
	tr, err := Compile([]Rule{
		{Filter: &FilterRule{Field: "status", Op: "eq", Value: "inactive"}},
	}, 2)
	require.NoError(t, err)

	_, ok := tr.Apply(map[string]interface{}{"status": "inactive"})
	assert.False(t, ok)

	out, ok := tr.Apply(map[string]interface{}{"status": "active"})
	require.True(t, ok)
	assert.Equal(t, "active", out["status"])
}

func TestFilterExists(t *testing.T) {
	tr, err := Compile([]Rule{
		{Filter: &FilterRule{Field: "deletedAt", Op: "exists"}},
	}, 2)
	require.NoError(t, err)

	_, ok := tr.Apply(map[string]interface{}{"deletedAt": "2024-01-01"})
	assert.False(t, ok)

	_, ok = tr.Apply(map[string]interface{}{"id": 1})
	assert.True(t, ok)
}

func TestFlattenWithinDepth(t *testing.T) {
	tr, err := Compile(nil, 1)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{
		"a": map[string]interface{}{"b": 5},
	})
	require.True(t, ok)
	assert.Equal(t, 5, out["a_b"])
	assert.NotContains(t, out, "a")
}

func TestFlattenBeyondDepthSerializesBlob(t *testing.T) {
	tr, err := Compile(nil, 0)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{
		"a": map[string]interface{}{"b": 5},
	})
	require.True(t, ok)
	assert.Equal(t, `{"b":5}`, out["a"])
}

func TestFlattenDepthTwo(t *testing.T) {
	tr, err := Compile(nil, 2)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": map[string]interface{}{"d": 1},
			},
		},
	})
	require.True(t, ok)
	assert.Equal(t, `{"d":1}`, out["a_b_c"])
}

func TestFlattenKeepsArraysIntact(t *testing.T) {
	tr, err := Compile(nil, 2)
	require.NoError(t, err)

	out, ok := tr.Apply(map[string]interface{}{
		"items": []interface{}{1, 2, 3},
	})
	require.True(t, ok)
	assert.Equal(t, []interface{}{1, 2, 3}, out["items"])
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	tr, err := Compile([]Rule{
		{Rename: &RenameRule{From: "a", To: "b"}},
	}, 2)
	require.NoError(t, err)

	in := map[string]interface{}{"a": 1}
	_, ok := tr.Apply(in)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"a": 1}, in)
}
