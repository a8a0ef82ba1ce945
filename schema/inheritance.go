package schema

import (
	"sort"
	"strings"
)

// Ancestors returns the parent chain of name, nearest first. The walk stops
// at missing parents and at cycles.
func (s State) Ancestors(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	for doc := s[name]; doc != nil && doc.Parent != ""; doc = s[doc.Parent] {
		if seen[doc.Parent] {
			break
		}
		seen[doc.Parent] = true
		out = append(out, doc.Parent)
	}
	return out
}

// Root returns the topmost ancestor of name, or name itself.
func (s State) Root(name string) string {
	anc := s.Ancestors(name)
	if len(anc) == 0 {
		return name
	}
	return anc[len(anc)-1]
}

// ClassPath returns the "_cls" discriminator value, e.g. "Root.Child".
func (s State) ClassPath(name string) string {
	anc := s.Ancestors(name)
	parts := make([]string, 0, len(anc)+1)
	for i := len(anc) - 1; i >= 0; i-- {
		parts = append(parts, anc[i])
	}
	return strings.Join(append(parts, name), ".")
}

// Children returns the direct descendants of name, sorted.
func (s State) Children(name string) []string {
	var out []string
	for n, doc := range s {
		if doc.Parent == name {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Descendants returns every document deriving from name, sorted.
func (s State) Descendants(name string) []string {
	var out []string
	for n := range s {
		if n == name {
			continue
		}
		for _, a := range s.Ancestors(n) {
			if a == name {
				out = append(out, n)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Depth is the number of ancestors of name.
func (s State) Depth(name string) int { return len(s.Ancestors(name)) }

// EffectiveFields merges the fields of name with those inherited from its
// ancestors. Own fields shadow inherited ones.
func (s State) EffectiveFields(name string) map[string]Field {
	out := map[string]Field{}
	anc := s.Ancestors(name)
	for i := len(anc) - 1; i >= 0; i-- {
		for fn, f := range s[anc[i]].Fields {
			out[fn] = f
		}
	}
	if doc := s[name]; doc != nil {
		for fn, f := range doc.Fields {
			out[fn] = f
		}
	}
	return out
}

// HasField reports whether name declares or inherits field.
func (s State) HasField(name, field string) bool {
	if doc := s[name]; doc != nil {
		if _, ok := doc.Fields[field]; ok {
			return true
		}
	}
	for _, a := range s.Ancestors(name) {
		if _, ok := s[a].Fields[field]; ok {
			return true
		}
	}
	return false
}

// Hierarchical reports whether records of name carry a "_cls" discriminator.
func (s State) Hierarchical(name string) bool {
	doc := s[name]
	return doc != nil && (doc.Parent != "" || len(s.Children(name)) > 0)
}

// ClassFilter returns the "_cls" values that select records of name and its
// descendants, or nil when the whole collection belongs to name.
func (s State) ClassFilter(name string) []string {
	doc := s[name]
	if doc == nil || doc.Parent == "" {
		return nil
	}
	out := []string{s.ClassPath(name)}
	for _, d := range s.Descendants(name) {
		out = append(out, s.ClassPath(d))
	}
	return out
}

// Related reports whether a and b share a common root.
func (s State) Related(a, b string) bool { return s.Root(a) == s.Root(b) }

// CollectionUsers returns the documents stored in collection, sorted.
func (s State) CollectionUsers(collection string) []string {
	var out []string
	for n, doc := range s {
		if !IsEmbedded(n) && doc.Collection == collection {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
