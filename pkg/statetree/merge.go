package statetree

// Merge composes slice values ordered from weakest to strongest, for example
// Merge(memory, local, remote). A field set in a stronger layer wins; a field
// that a stronger layer does not define never erases a value from a weaker one.
// An explicit JSON null counts as not defined, the same way a nil field value
// deletes the field in a patch, so null cannot clear a field during a merge.
// Objects merge member by member, everything else is replaced. The result
// never aliases any of the inputs.
func Merge(layers ...Slice) Slice {
	out := make(Slice)
	for _, layer := range layers {
		for field, value := range layer {
			if value == nil {
				continue
			}
			out[field] = mergeValue(out[field], value)
		}
	}
	return out
}

func mergeValue(weak, strong any) any {
	strongMap, ok := asObject(strong)
	if !ok {
		return cloneValue(strong)
	}
	weakMap, ok := asObject(weak)
	if !ok {
		return cloneValue(strongMap)
	}
	out := make(map[string]any, len(weakMap)+len(strongMap))
	for k, v := range weakMap {
		out[k] = cloneValue(v)
	}
	for k, v := range strongMap {
		if v == nil {
			continue
		}
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Slice:
		return map[string]any(t), true
	default:
		return nil, false
	}
}
