package filter

import "strings"

// Project builds the output row containing exactly the listed dotted
// paths, materializing nested objects for multi-segment paths — §4.3's
// projection semantics. A missing source path is simply omitted from
// the output (not present as an explicit null).
func Project(row Row, paths []string) Row {
	out := make(Row)
	for _, p := range paths {
		v, present := lookup(row, p)
		if !present {
			continue
		}
		setDotted(out, p, v)
	}
	return out
}

// ProjectInclusionMap is the {path: 1} inclusion-map form of projection.
func ProjectInclusionMap(row Row, include map[string]int) Row {
	paths := make([]string, 0, len(include))
	for p, flag := range include {
		if flag != 0 {
			paths = append(paths, p)
		}
	}
	return Project(row, paths)
}

func setDotted(out Row, path string, v any) {
	parts := strings.Split(path, ".")
	m := map[string]any(out)
	for i, p := range parts {
		if i == len(parts)-1 {
			m[p] = v
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
}
