package retrieval

import "maps"

// nonMetadataKeys are intent fields that never appear in stored metadata.
var nonMetadataKeys = []string{"type"}

// NormalizeFilters returns a flat copy of filters without nil values or
// keys that describe the question rather than the documents.
func NormalizeFilters(filters map[string]any) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	out := maps.Clone(filters)
	for _, k := range nonMetadataKeys {
		delete(out, k)
	}
	for k, v := range out {
		if isEmpty(v) {
			delete(out, k)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case *string:
		return x == nil || *x == ""
	case *int:
		return x == nil
	}
	return false
}
