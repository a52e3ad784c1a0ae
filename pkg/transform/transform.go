// Package transform applies declarative field mapping rules to raw records
// before emission. Rules are data, not code: a tagged-variant AST of rename,
// extract-path, compute, and filter operations interpreted at record time.
// Transformation is pure and total; every record yields exactly one outcome,
// either a mapped record or a drop. Malformed rules are rejected at compile
// time, never at record time.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
)

// Rule is one declarative mapping step. Exactly one variant must be set.
type Rule struct {
	Rename  *RenameRule  `yaml:"rename,omitempty" json:"rename,omitempty"`
	Extract *ExtractRule `yaml:"extract,omitempty" json:"extract,omitempty"`
	Compute *ComputeRule `yaml:"compute,omitempty" json:"compute,omitempty"`
	Filter  *FilterRule  `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// RenameRule renames a top-level field
type RenameRule struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// ExtractRule copies a nested value (dotted path) into a top-level field
type ExtractRule struct {
	Path string `yaml:"path" json:"path"`
	To   string `yaml:"to" json:"to"`
}

// ComputeRule derives a new field from other fields. Exactly one expression
// form must be set.
type ComputeRule struct {
	Field string `yaml:"field" json:"field"`

	// Template interpolates {field} references into a string
	Template string `yaml:"template,omitempty" json:"template,omitempty"`

	// DateAdd shifts a date-valued source field by a day offset
	DateAdd *DateAddExpr `yaml:"date_add,omitempty" json:"date_add,omitempty"`
}

// DateAddExpr describes a date-offset computation
type DateAddExpr struct {
	Source string `yaml:"source" json:"source"`
	Days   int    `yaml:"days" json:"days"`
	// SourceLayout is the Go time layout of the source value. A leading
	// prefix of the value is parsed when the value is longer than the layout.
	SourceLayout string `yaml:"source_layout" json:"source_layout"`
}

// FilterRule drops records matching a predicate on a top-level field
type FilterRule struct {
	Field string      `yaml:"field" json:"field"`
	Op    string      `yaml:"op" json:"op"` // eq, ne, exists, not_exists
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`
}

// Transformer is a compiled, immutable rule pipeline
type Transformer struct {
	rules    []Rule
	maxDepth int
	// flattenFn serializes values beyond the depth bound
	blob func(interface{}) (string, error)
}

// Compile validates a rule list and returns an executable Transformer.
// maxDepth bounds nested-object flattening applied after the rules run.
func Compile(rules []Rule, maxDepth int) (*Transformer, error) {
	if maxDepth < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "flatten depth cannot be negative")
	}

	for i, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig,
				fmt.Sprintf("rule %d is malformed", i))
		}
	}

	return &Transformer{
		rules:    rules,
		maxDepth: maxDepth,
		blob:     marshalBlob,
	}, nil
}

func validateRule(r Rule) error {
	set := 0
	if r.Rename != nil {
		set++
		if r.Rename.From == "" || r.Rename.To == "" {
			return fmt.Errorf("rename requires from and to")
		}
	}
	if r.Extract != nil {
		set++
		if r.Extract.Path == "" || r.Extract.To == "" {
			return fmt.Errorf("extract requires path and to")
		}
	}
	if r.Compute != nil {
		set++
		if r.Compute.Field == "" {
			return fmt.Errorf("compute requires field")
		}
		exprs := 0
		if r.Compute.Template != "" {
			exprs++
			if strings.Count(r.Compute.Template, "{") != strings.Count(r.Compute.Template, "}") {
				return fmt.Errorf("unbalanced braces in template %q", r.Compute.Template)
			}
		}
		if r.Compute.DateAdd != nil {
			exprs++
			if r.Compute.DateAdd.Source == "" {
				return fmt.Errorf("date_add requires source")
			}
			if r.Compute.DateAdd.SourceLayout == "" {
				return fmt.Errorf("date_add requires source_layout")
			}
		}
		if exprs != 1 {
			return fmt.Errorf("compute requires exactly one expression form")
		}
	}
	if r.Filter != nil {
		set++
		switch r.Filter.Op {
		case "eq", "ne":
			if r.Filter.Field == "" {
				return fmt.Errorf("filter requires field")
			}
		case "exists", "not_exists":
			if r.Filter.Field == "" {
				return fmt.Errorf("filter requires field")
			}
		default:
			return fmt.Errorf("unknown filter op %q", r.Filter.Op)
		}
	}

	if set != 1 {
		return fmt.Errorf("exactly one rule variant must be set, got %d", set)
	}
	return nil
}

// Apply runs the rule pipeline over a raw record and flattens the result.
// It returns the mapped record, or ok=false when a filter dropped the record.
// Apply never fails: absent fields make individual rules no-ops.
func (t *Transformer) Apply(raw map[string]interface{}) (map[string]interface{}, bool) {
	record := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		record[k] = v
	}

	for _, r := range t.rules {
		switch {
		case r.Rename != nil:
			if v, ok := record[r.Rename.From]; ok {
				delete(record, r.Rename.From)
				record[r.Rename.To] = v
			}
		case r.Extract != nil:
			if v, ok := lookupPath(record, r.Extract.Path); ok {
				record[r.Extract.To] = v
			}
		case r.Compute != nil:
			if v, ok := t.compute(record, r.Compute); ok {
				record[r.Compute.Field] = v
			}
		case r.Filter != nil:
			if matchFilter(record, r.Filter) {
				return nil, false
			}
		}
	}

	return t.flatten(record), true
}

func (t *Transformer) compute(record map[string]interface{}, c *ComputeRule) (interface{}, bool) {
	if c.Template != "" {
		var b strings.Builder
		rest := c.Template
		for {
			start := strings.Index(rest, "{")
			if start == -1 {
				b.WriteString(rest)
				break
			}
			end := strings.Index(rest[start:], "}")
			if end == -1 {
				b.WriteString(rest)
				break
			}
			end += start

			b.WriteString(rest[:start])
			ref := rest[start+1 : end]
			if v, ok := lookupPath(record, ref); ok {
				b.WriteString(fmt.Sprintf("%v", v))
			}
			rest = rest[end+1:]
		}
		return b.String(), true
	}

	if c.DateAdd != nil {
		v, ok := lookupPath(record, c.DateAdd.Source)
		if !ok {
			return nil, false
		}
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		layout := c.DateAdd.SourceLayout
		if len(s) > len(layout) {
			s = s[:len(layout)]
		}
		parsed, err := time.Parse(layout, s)
		if err != nil {
			return nil, false
		}
		return parsed.AddDate(0, 0, c.DateAdd.Days).Format(time.RFC3339), true
	}

	return nil, false
}

func matchFilter(record map[string]interface{}, f *FilterRule) bool {
	v, exists := lookupPath(record, f.Field)
	switch f.Op {
	case "exists":
		return exists
	case "not_exists":
		return !exists
	case "eq":
		return exists && fmt.Sprintf("%v", v) == fmt.Sprintf("%v", f.Value)
	case "ne":
		return exists && fmt.Sprintf("%v", v) != fmt.Sprintf("%v", f.Value)
	}
	return false
}

// lookupPath resolves a dotted path against nested map values
func lookupPath(record map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = record
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
