// Package noderuntime is the shared base every concrete node builds on:
// content-signature computation, the per-item cache-aware execution
// envelope, and output-path shaping.
package noderuntime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"sitekiln/internal/input"
)

// Hook stands in for a function-valued config entry. Go cannot stringify
// a closure stably, so callable post-processing is attached as a named
// identifier plus the expr-lang expression it evaluates; the identifier
// alone participates in the content signature, satisfying the rule that
// two function values sharing a source representation share a cache
// entry.
type Hook struct {
	Identifier string
	Expr       string
}

// ContentSignature serializes config (never outputConfig) into the
// canonical string described in §4.2.1 and hashes it, producing
// "<nodeTypeTag>-<first 8 hex chars>".
func ContentSignature(nodeTypeTag string, config map[string]any) string {
	s := serializeValue(config)
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%s-%s", nodeTypeTag, hex.EncodeToString(sum[:])[:8])
}

func serializeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case input.FileRef:
		return fmt.Sprintf("FileRef(%s)", val.Path)
	case input.NodeRef:
		if val.Glob != "" {
			return fmt.Sprintf("from(%s:%s:%s)", val.Producer, val.Output, val.Glob)
		}
		return fmt.Sprintf("from(%s:%s)", val.Producer, val.Output)
	case Hook:
		return fmt.Sprintf("hook(%s)", val.Identifier)
	case map[string]any:
		return serializeMap(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = serializeValue(elem)
		}
		return "[" + joinComma(parts) + "]"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "null"
		}
		return string(b)
	}
}

func serializeMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue // null / absent entries are dropped
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		keyJSON, _ := json.Marshal(k)
		parts[i] = string(keyJSON) + ":" + serializeValue(m[k])
	}
	return "{" + joinComma(parts) + "}"
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
