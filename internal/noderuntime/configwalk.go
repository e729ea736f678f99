package noderuntime

import "sitekiln/internal/input"

// WalkConfig recursively visits config, invoking onFileRef for every
// input.FileRef and onNodeRef for every input.NodeRef it finds,
// regardless of nesting depth inside maps and slices.
func WalkConfig(v any, onFileRef func(input.FileRef), onNodeRef func(input.NodeRef)) {
	switch val := v.(type) {
	case input.FileRef:
		onFileRef(val)
	case input.NodeRef:
		onNodeRef(val)
	case map[string]any:
		for _, vv := range val {
			WalkConfig(vv, onFileRef, onNodeRef)
		}
	case []any:
		for _, vv := range val {
			WalkConfig(vv, onFileRef, onNodeRef)
		}
	}
}
