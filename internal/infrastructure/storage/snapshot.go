package storage

import (
	"encoding/json"
	"fmt"
)

// toSnapshot converts a typed model into an untyped field map via its
// JSON form, so snapshots stay stable across schema evolution.
func toSnapshot(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("snapshot unmarshal: %w", err)
	}
	return m, nil
}

// fromSnapshot hydrates a typed model from an untyped field map.
func fromSnapshot(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("snapshot hydrate: %w", err)
	}
	return nil
}

// mergeSnapshot overlays partial field values onto the current state.
// Snapshots may be partial (e.g. only the fields an update touched), so
// undo writes them over whatever exists rather than replacing the row.
func mergeSnapshot(current, fields map[string]any, id string) map[string]any {
	merged := make(map[string]any, len(current)+len(fields)+1)
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	merged["id"] = id
	return merged
}
