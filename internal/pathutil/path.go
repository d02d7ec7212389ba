// Package pathutil implements forward-slash path helpers for remote and
// tree-relative paths. Leading and trailing slashes are never significant.
package pathutil

import "strings"

// Split returns the non-empty segments of p.
func Split(p string) []string {
	raw := strings.Split(p, "/")
	parts := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func Join(elems ...string) string {
	var parts []string
	for _, e := range elems {
		parts = append(parts, Split(e)...)
	}
	return strings.Join(parts, "/")
}

// Dirname returns everything before the last slash, or "" when p has none.
func Dirname(p string) string {
	p = strings.TrimRight(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Basename returns the last segment of p with ext removed when it is a suffix.
func Basename(p, ext string) string {
	parts := Split(p)
	if len(parts) == 0 {
		return ""
	}
	base := parts[len(parts)-1]
	if ext != "" && strings.HasSuffix(base, ext) && base != ext {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Relative returns the path from "from" to "to".
func Relative(from, to string) string {
	f, t := Split(from), Split(to)

	common := 0
	for common < len(f) && common < len(t) && f[common] == t[common] {
		common++
	}

	var b strings.Builder
	for range len(f) - common {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(t[common:], "/"))
	return strings.TrimSuffix(b.String(), "/")
}

// Within reports whether p lies strictly below root.
func Within(root, p string) bool {
	r, q := Split(root), Split(p)
	if len(q) <= len(r) {
		return false
	}
	for i := range r {
		if r[i] != q[i] {
			return false
		}
	}
	return true
}
