// Package flags parses and renders IMAP message flags.
//
// A Set holds normalized flag names: system flags lose their leading
// backslash ("Seen", "Flagged", "Deleted", "Answered", "Draft", "Recent")
// and keywords such as "$Important" are kept verbatim.
package flags

import (
	"sort"
	"strings"
)

const (
	Seen     = "Seen"
	Flagged  = "Flagged"
	Deleted  = "Deleted"
	Answered = "Answered"
	Draft    = "Draft"
	Recent   = "Recent"
)

var systemFlags = map[string]string{
	"seen":     Seen,
	"flagged":  Flagged,
	"deleted":  Deleted,
	"answered": Answered,
	"draft":    Draft,
	"recent":   Recent,
}

// Set is a set of normalized flag names. The zero value is an empty set.
type Set map[string]struct{}

// New returns a set holding the normalized form of each flag.
func New(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts the normalized form of name. Empty names and the "\*"
// wildcard are ignored.
func (s Set) Add(name string) {
	if n := Normalize(name); n != "" {
		s[n] = struct{}{}
	}
}

// Has reports whether the set contains name, compared in normalized form.
func (s Set) Has(name string) bool {
	_, ok := s[Normalize(name)]
	return ok
}

// List returns the flags sorted for stable output.
func (s Set) List() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsRead reports whether the message carrying these flags has been read.
func IsRead(s Set) bool { return s.Has(Seen) }

// IsImportant reports whether the message is flagged.
func IsImportant(s Set) bool { return s.Has(Flagged) }

// Normalize strips any number of leading backslashes and canonicalizes
// the case of system flags.
func Normalize(name string) string {
	n := strings.TrimLeft(strings.TrimSpace(name), `\`)
	if n == "" || n == "*" {
		return ""
	}
	if canon, ok := systemFlags[strings.ToLower(n)]; ok {
		return canon
	}
	return n
}

// Wire renders a normalized flag in the form the server expects.
func Wire(name string) string {
	n := Normalize(name)
	if _, ok := systemFlags[strings.ToLower(n)]; ok {
		return `\` + n
	}
	return n
}
