package confstack

import (
	"strings"

	"github.com/knadh/koanf/maps"
)

// Merge returns a new mapping with override deep-merged over base.
//
// When both sides hold a mapping under the same key the two are merged
// recursively; any other value in override (sequences included) replaces the
// base value wholesale. Neither input is modified and the result shares no
// mutable values with them.
func Merge(base, override map[string]any) map[string]any {
	out := maps.Copy(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	if len(override) == 0 {
		return out
	}

	maps.Merge(maps.Copy(override), out)
	return out
}

// Lookup returns the value at a dot-separated path such as "db.connections",
// or nil when any segment is missing or an intermediate value is not a mapping.
func Lookup(cfg map[string]any, path string) any {
	if len(cfg) == 0 || path == "" {
		return nil
	}
	return maps.Search(cfg, strings.Split(path, "."))
}

func isMapping(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}
