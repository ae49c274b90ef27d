package marshal

import (
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"
)

// ErrBlobNotObject is returned when a blob does not decode to a JSON object.
var ErrBlobNotObject = errors.New("marshal: blob must be a JSON object")

// ParseBlob decodes a pre-encoded record, a JSON object whose comments and
// trailing commas are tolerated. String values go through Classify; numbers,
// booleans and nested values keep their JSON type.
func (m Marshaller) ParseBlob(blob string) (FieldSet, error) {
	decoded, err := decodeJSON(jsonc.ToJSON([]byte(blob)))
	if err != nil {
		return nil, fmt.Errorf("marshal: decode blob: %w", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, ErrBlobNotObject
	}
	fs := make(FieldSet, len(obj))
	for name, v := range obj {
		if name == "" {
			return nil, ErrEmptyName
		}
		if s, ok := v.(string); ok {
			typed, err := m.Classify(s)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			v = typed
		}
		fs[name] = v
	}
	return fs, nil
}
