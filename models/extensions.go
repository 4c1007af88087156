package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// marshalWithExtensions encodes known as a JSON object and merges extra keys into it.
// Known keys always win over extensions of the same name.
func marshalWithExtensions(known any, extensions map[string]any, knownKeys []string) ([]byte, error) {
	encoded, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		return encoded, nil
	}

	merged := make(map[string]json.RawMessage, len(knownKeys)+len(extensions))
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return nil, err
	}
	for key, value := range extensions {
		if slices.Contains(knownKeys, key) {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode extension %q: %w", key, err)
		}
		merged[key] = raw
	}
	return json.Marshal(merged)
}

// unmarshalExtensions returns every top-level key of data not in knownKeys, or nil.
func unmarshalExtensions(data []byte, knownKeys []string) (map[string]any, error) {
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range knownKeys {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
