package state

import "strings"

// PathSeparator divides segments of a state path.
const PathSeparator = "."

// splitPath splits a dot path into segments. Empty paths address the root.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// getPath retrieves a value from a nested tree by dot path. Any absent or
// non-map intermediate segment means the path does not resolve; malformed
// paths simply fail to resolve, they never error.
func getPath(tree map[string]any, path string) (any, bool) {
	current := any(tree)
	for _, part := range splitPath(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes a value into a nested tree, creating intermediate maps.
// When merge is true and both the existing and new value are maps, they are
// deep-merged; otherwise the new value replaces the old. Scalars always
// replace.
func setPath(tree map[string]any, path string, value any, merge bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		if m, ok := value.(map[string]any); ok {
			mergeTree(tree, m)
		}
		return
	}

	current := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}

	key := parts[len(parts)-1]
	newMap, newIsMap := value.(map[string]any)
	oldMap, oldIsMap := current[key].(map[string]any)
	if merge && newIsMap && oldIsMap {
		mergeTree(oldMap, newMap)
		return
	}
	current[key] = cloneValue(value)
}

// deletePath removes a value by dot path, reporting whether it existed.
func deletePath(tree map[string]any, path string) bool {
	parts := splitPath(path)
	if len(parts) == 0 {
		return false
	}

	current := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return false
		}
		current = next
	}

	key := parts[len(parts)-1]
	if _, exists := current[key]; !exists {
		return false
	}
	delete(current, key)
	return true
}

// mergeTree recursively merges src into dst. Map values merge; everything
// else replaces, which keeps a path's value shape stable after first write.
func mergeTree(dst, src map[string]any) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				mergeTree(dstMap, srcMap)
				continue
			}
		}
		dst[key] = cloneValue(srcVal)
	}
}

// cloneTree returns a deep, independent copy of a tree.
func cloneTree(tree map[string]any) map[string]any {
	if tree == nil {
		return make(map[string]any)
	}
	clone := make(map[string]any, len(tree))
	for k, v := range tree {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return cloneTree(v)
	case []any:
		clone := make([]any, len(v))
		for i, item := range v {
			clone[i] = cloneValue(item)
		}
		return clone
	default:
		return val
	}
}

// flattenTree flattens a nested tree into leaf dot paths.
func flattenTree(tree map[string]any) map[string]any {
	result := make(map[string]any)
	flattenInto(tree, "", result)
	return result
}

func flattenInto(tree map[string]any, prefix string, result map[string]any) {
	for key, val := range tree {
		path := key
		if prefix != "" {
			path = prefix + PathSeparator + key
		}
		if nested, ok := val.(map[string]any); ok && len(nested) > 0 {
			flattenInto(nested, path, result)
		} else {
			result[path] = val
		}
	}
}

// diffLeaves returns the leaf paths whose values differ between two trees,
// mapped to their value in the new tree (nil for removed leaves).
func diffLeaves(old, new map[string]any) map[string]any {
	oldFlat := flattenTree(old)
	newFlat := flattenTree(new)

	changed := make(map[string]any)
	for path, newVal := range newFlat {
		if oldVal, exists := oldFlat[path]; !exists || !valuesEqual(oldVal, newVal) {
			changed[path] = newVal
		}
	}
	for path := range oldFlat {
		if _, exists := newFlat[path]; !exists {
			changed[path] = nil
		}
	}
	return changed
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, v := range va {
			w, exists := vb[k]
			if !exists || !valuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !valuesEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// pathWithin reports whether leaf falls under watched: either equal, or
// watched is a segmentwise prefix of leaf. An empty watched path matches
// every leaf.
func pathWithin(watched, leaf string) bool {
	if watched == "" || watched == leaf {
		return true
	}
	return strings.HasPrefix(leaf, watched+PathSeparator)
}
