package store

import (
	"bytes"
	"encoding/json"
	"math"
)

// EncodeJSON marshals a document. A nil or empty document encodes as "{}".
func EncodeJSON(doc Document) ([]byte, error) {
	if len(doc) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// DecodeJSON unmarshals a document, turning integral numbers into int64 and
// the rest into float64.
func DecodeJSON(data []byte) (Document, error) {
	out := Document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	for k, v := range out {
		out[k] = normalizeNumber(v)
	}
	return out, nil
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
				return int64(f)
			}
			return f
		}
		return n.String()
	case map[string]any:
		for k, inner := range n {
			n[k] = normalizeNumber(inner)
		}
		return n
	case []any:
		for i, inner := range n {
			n[i] = normalizeNumber(inner)
		}
		return n
	}
	return v
}
