package model

import (
	"encoding/json"
	"fmt"
)

// Patch is a JSON merge patch: present keys replace, null keys delete,
// nested objects merge recursively.
type Patch map[string]any

// MergePatch applies patch to the JSON document target.
func MergePatch(target []byte, patch Patch) ([]byte, error) {
	doc := map[string]any{}
	if len(target) > 0 {
		if err := json.Unmarshal(target, &doc); err != nil {
			return nil, fmt.Errorf("model: merge patch target: %w", err)
		}
	}
	return json.Marshal(mergeObject(doc, patch))
}

// Apply merges patch into a copy of rec and returns the result as a new
// record of the same kind.
func Apply[T Record](rec T, patch Patch, fresh func() T) (T, error) {
	var zero T
	raw, err := json.Marshal(rec)
	if err != nil {
		return zero, fmt.Errorf("model: encode record: %w", err)
	}
	merged, err := MergePatch(raw, patch)
	if err != nil {
		return zero, err
	}
	out := fresh()
	if err := json.Unmarshal(merged, out); err != nil {
		return zero, fmt.Errorf("model: decode patched record: %w", err)
	}
	return out, nil
}

func mergeObject(doc map[string]any, patch map[string]any) map[string]any {
	for k, v := range patch {
		if v == nil {
			delete(doc, k)
			continue
		}
		sub, isObj := asObject(v)
		if !isObj {
			doc[k] = v
			continue
		}
		existing, _ := asObject(doc[k])
		if existing == nil {
			existing = map[string]any{}
		}
		doc[k] = mergeObject(existing, sub)
	}
	return doc
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case Patch:
		return o, true
	default:
		return nil, false
	}
}
