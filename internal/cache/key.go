package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Delimiter separates the namespace and each name=value pair in a key.
const Delimiter = ":"

// BuildKey renders namespace plus params as
//
//	namespace:name1=value1:name2=value2
//
// with names sorted ascending (byte order), so the same parameter set always
// produces the same key regardless of map iteration order. Values are not
// escaped: a value containing ":" or "=" can make two different parameter
// sets collide, so callers keep delimiters out of values.
func BuildKey(namespace string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(namespace)
	b.WriteString(Delimiter)
	for i, name := range names {
		if i > 0 {
			b.WriteString(Delimiter)
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(fmt.Sprint(params[name]))
	}
	return b.String()
}

// BuildTokenKey is the single-token form, e.g. a bare fingerprint.
func BuildTokenKey(namespace, token string) string {
	return namespace + Delimiter + token
}
