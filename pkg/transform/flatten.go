package transform

import (
	"github.com/ajitpratap0/tap-adp/pkg/jsonutil"
)

// flatten expands nested objects up to the configured depth, joining keys
// with "_". Objects deeper than the bound are serialized as opaque JSON
// strings rather than recursively expanded. A depth of 0 serializes every
// nested object at the top level.
func (t *Transformer) flatten(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	t.flattenInto(out, "", record, t.maxDepth)
	return out
}

func (t *Transformer) flattenInto(out map[string]interface{}, prefix string, m map[string]interface{}, depth int) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}

		nested, isMap := v.(map[string]interface{})
		if !isMap {
			out[key] = v
			continue
		}

		if depth <= 0 {
			out[key] = t.asBlob(nested)
			continue
		}
		t.flattenInto(out, key, nested, depth-1)
	}
}

func (t *Transformer) asBlob(v interface{}) interface{} {
	s, err := t.blob(v)
	if err != nil {
		// Serialization of decoded JSON values cannot realistically fail;
		// keep the value as-is rather than losing it
		return v
	}
	return s
}

func marshalBlob(v interface{}) (string, error) {
	return jsonutil.MarshalString(v)
}
