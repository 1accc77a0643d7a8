package httpclient

import "strings"

// Body is a decoded JSON object.
type Body map[string]any

// Object returns the nested object at key, or nil.
func (b Body) Object(key string) Body {
	if b == nil {
		return nil
	}
	if nested, ok := b[key].(map[string]any); ok {
		return Body(nested)
	}
	return nil
}

// Lookup walks a dotted path ("offer.sdp") and returns the raw value.
func (b Body) Lookup(path string) (any, bool) {
	if b == nil {
		return nil, false
	}
	keys := strings.Split(path, ".")
	current := b
	for i, key := range keys {
		value, ok := current[key]
		if !ok || value == nil {
			return nil, false
		}
		if i == len(keys)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// FirstString returns the first non-empty string found at any of the paths,
// checked in order, and the path that matched.
func (b Body) FirstString(paths ...string) (string, string) {
	for _, path := range paths {
		value, ok := b.Lookup(path)
		if !ok {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
			return s, path
		}
	}
	return "", ""
}

// FirstList returns the first non-empty array found at any of the paths.
func (b Body) FirstList(paths ...string) ([]any, string) {
	for _, path := range paths {
		value, ok := b.Lookup(path)
		if !ok {
			continue
		}
		if list, ok := value.([]any); ok && len(list) > 0 {
			return list, path
		}
	}
	return nil, ""
}
