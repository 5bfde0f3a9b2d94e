package statetree

// Diff returns the part of newer that differs from base.
//
// For every slice and field whose value is not deeply equal to the value at the
// same position in base, the newer value is included. When both sides hold an
// object the comparison recurses and only the differing members are kept.
// Identical subtrees are omitted, so Diff(a, a) is empty. Fields present only in
// base are not reported: the remote store applies the result as a partial update.
// Arrays are compared and replaced as a whole.
func Diff(newer, base Envelope) Envelope {
	out := make(Envelope)
	for key, fields := range newer {
		baseFields, ok := base[key]
		if !ok {
			out[key] = cloneFields(fields)
			continue
		}
		changed := make(map[string]Leaf)
		for field, leaf := range fields {
			baseLeaf, ok := baseFields[field]
			if ok && Equal(leaf.Value, baseLeaf.Value) {
				continue
			}
			if ok {
				changed[field] = Leaf{Value: diffValue(leaf.Value, baseLeaf.Value)}
				continue
			}
			changed[field] = Leaf{Value: cloneValue(leaf.Value)}
		}
		if len(changed) > 0 {
			out[key] = changed
		}
	}
	return out
}

func diffValue(newer, base any) any {
	newMap, ok := newer.(map[string]any)
	if !ok {
		return cloneValue(newer)
	}
	baseMap, ok := base.(map[string]any)
	if !ok {
		return cloneValue(newer)
	}
	out := make(map[string]any)
	for k, v := range newMap {
		bv, present := baseMap[k]
		if present && Equal(v, bv) {
			continue
		}
		if present {
			out[k] = diffValue(v, bv)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneFields(fields map[string]Leaf) map[string]Leaf {
	out := make(map[string]Leaf, len(fields))
	for field, leaf := range fields {
		out[field] = Leaf{Value: cloneValue(leaf.Value)}
	}
	return out
}
