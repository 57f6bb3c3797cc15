package folder

import (
	"strings"
)

// Entry is one mailbox from a LIST response, with the name still in its
// wire form.
type Entry struct {
	Attributes []string
	Delimiter  string
	WireName   string
}

// Selectable reports whether the mailbox can be selected.
func (e Entry) Selectable() bool {
	for _, a := range e.Attributes {
		switch strings.ToLower(a) {
		case `\noselect`, `\nonexistent`:
			return false
		}
	}
	return true
}

// ParseList parses one LIST response line:
//
//	["*" SP] ["LIST" SP] "(" [attr *(SP attr)] ")" SP (quoted / "NIL") SP mailbox
//
// where mailbox is a quoted string or an atom. It reports false for lines
// of any other shape.
func ParseList(line string) (Entry, bool) {
	var e Entry

	rest := strings.TrimSpace(line)
	rest = strings.TrimPrefix(rest, "* ")
	if len(rest) >= 5 && strings.EqualFold(rest[:5], "LIST ") {
		rest = strings.TrimLeft(rest[5:], " ")
	}

	if !strings.HasPrefix(rest, "(") {
		return e, false
	}
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return e, false
	}
	e.Attributes = strings.Fields(rest[1:end])
	rest = strings.TrimLeft(rest[end+1:], " ")

	delim, rest, ok := readString(rest)
	if !ok {
		return e, false
	}
	if !strings.EqualFold(delim.raw, "NIL") || delim.quoted {
		e.Delimiter = delim.value
	}

	rest = strings.TrimLeft(rest, " ")
	name, rest, ok := readString(rest)
	if !ok || strings.TrimSpace(rest) != "" {
		return e, false
	}
	e.WireName = name.value

	return e, true
}

type token struct {
	raw    string
	value  string
	quoted bool
}

// readString reads a quoted string or an atom from the front of s.
func readString(s string) (token, string, bool) {
	if s == "" {
		return token{}, s, false
	}
	if s[0] != '"' {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			i = len(s)
		}
		return token{raw: s[:i], value: s[:i]}, s[i:], i > 0
	}

	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return token{}, s, false
			}
			i++
			b.WriteByte(s[i])
		case '"':
			return token{raw: s[:i+1], value: b.String(), quoted: true}, s[i+1:], true
		default:
			b.WriteByte(s[i])
		}
	}
	return token{}, s, false
}
