// Package env composes the environment handed to the scanner.
package env

import (
	"sort"
	"strings"
)

type Var map[string]string

// Parse turns "K=V" entries into a map. Entries without '=' or with an
// empty key are skipped; later entries win.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Compose applies overrides on top of base and expands ${KEY} references
// in the overrides. A reference resolves to the base value when base has
// the key, so PATH=/opt/bin:${PATH} extends the inherited PATH; otherwise
// to the unexpanded override. Base values pass through untouched. The
// result is sorted by key.
func Compose(base, overrides []string) []string {
	m := Parse(base)
	over := Parse(overrides)
	ref := make(Var, len(m)+len(over))
	for k, v := range m {
		ref[k] = v
	}
	for k, v := range over {
		if _, inBase := m[k]; !inBase {
			ref[k] = v
		}
	}
	for k, v := range over {
		m[k] = expand(v, ref)
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// expand replaces ${KEY} for keys present in m. Unknown references are left
// as written. No recursion.
func expand(s string, m Var) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		key := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
