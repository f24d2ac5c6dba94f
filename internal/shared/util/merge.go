package util

// DeepMerge merges maps left to right into a new map. Nested maps merge
// recursively and any other value replaces the earlier one, arrays included.
// Arrays stored under a key listed in additive are concatenated instead.
// Inputs are never modified.
func DeepMerge(additive map[string]bool, layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		mergeInto(out, layer, additive)
	}
	return out
}

func mergeInto(dst, src map[string]any, additive map[string]bool) {
	for k, v := range src {
		switch sv := v.(type) {
		case map[string]any:
			if dv, ok := dst[k].(map[string]any); ok {
				merged := make(map[string]any, len(dv)+len(sv))
				mergeInto(merged, dv, additive)
				mergeInto(merged, sv, additive)
				dst[k] = merged
				continue
			}
			fresh := make(map[string]any, len(sv))
			mergeInto(fresh, sv, additive)
			dst[k] = fresh
		case []any:
			if additive[k] {
				if dv, ok := dst[k].([]any); ok {
					joined := make([]any, 0, len(dv)+len(sv))
					joined = append(joined, dv...)
					dst[k] = append(joined, sv...)
					continue
				}
			}
			dst[k] = append([]any(nil), sv...)
		default:
			dst[k] = v
		}
	}
}
