package record

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// MarshalRecords encodes records as a JSON array.
func MarshalRecords(records []*Record) ([]byte, error) {
	if records == nil {
		records = []*Record{}
	}
	return json.Marshal(records)
}

// ParseJSONRecords decodes a JSON object, an array of objects, or a stream of
// concatenated objects into generic maps. Numbers are kept as json.Number so
// their literal text survives the round trip to the infoset.
func ParseJSONRecords(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out []map[string]any
	for {
		var v any
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid record JSON: %w", err)
		}
		switch t := v.(type) {
		case map[string]any:
			out = append(out, t)
		case []any:
			for i, e := range t {
				m, ok := e.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("record %d is %T, expected an object", i, e)
				}
				out = append(out, m)
			}
		default:
			return nil, fmt.Errorf("expected a JSON object or array of objects, got %T", v)
		}
	}
	return out, nil
}
