package flags

import (
	"strings"
)

// Parse returns the union of the flags carried by every message-data line
// in lines. A line contributes only when it has the shape
//
//	["*" SP] [number SP] ["FETCH" SP] "(" item *(SP item) ")"
//
// and one of its items is FLAGS followed by a parenthesized list. Mailbox
// level "* FLAGS (...)" responses, PERMANENTFLAGS codes, and anything
// malformed contribute nothing. Parse never fails; no flags means an empty
// set.
func Parse(lines ...string) Set {
	set := Set{}
	for _, line := range lines {
		for _, f := range parseLine(line) {
			set.Add(f)
		}
	}
	return set
}

func parseLine(line string) []string {
	rest := strings.TrimSpace(line)
	rest = strings.TrimPrefix(rest, "* ")

	// Optional sequence number.
	if i := strings.IndexByte(rest, ' '); i > 0 && isDigits(rest[:i]) {
		rest = strings.TrimLeft(rest[i:], " ")
	}
	if len(rest) >= 6 && strings.EqualFold(rest[:6], "FETCH ") {
		rest = strings.TrimLeft(rest[6:], " ")
	}
	if !strings.HasPrefix(rest, "(") {
		return nil
	}

	sc := &scanner{s: rest, pos: 1}
	for {
		sc.skipSpace()
		if sc.done() || sc.peek() == ')' {
			return nil
		}
		name, ok := sc.atom()
		if !ok {
			return nil
		}
		sc.skipSpace()
		if strings.EqualFold(name, "FLAGS") {
			list, ok := sc.list()
			if !ok {
				return nil
			}
			return strings.Fields(list)
		}
		if !sc.skipValue() {
			return nil
		}
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// scanner walks a FETCH item list. It understands just enough of the
// response grammar to skip item values it does not care about.
type scanner struct {
	s   string
	pos int
}

func (sc *scanner) done() bool { return sc.pos >= len(sc.s) }

func (sc *scanner) peek() byte { return sc.s[sc.pos] }

func (sc *scanner) skipSpace() {
	for !sc.done() && sc.s[sc.pos] == ' ' {
		sc.pos++
	}
}

// atom reads an item name such as UID, FLAGS or BODY[HEADER.FIELDS (X)].
func (sc *scanner) atom() (string, bool) {
	start := sc.pos
	depth := 0
	for !sc.done() {
		c := sc.s[sc.pos]
		switch {
		case c == '[':
			depth++
		case c == ']':
			depth--
		case depth == 0 && (c == ' ' || c == '(' || c == ')'):
			return sc.s[start:sc.pos], sc.pos > start
		}
		sc.pos++
	}
	return "", false
}

// list reads a parenthesized list and returns its contents.
func (sc *scanner) list() (string, bool) {
	if sc.done() || sc.peek() != '(' {
		return "", false
	}
	start := sc.pos + 1
	if !sc.skipParens() {
		return "", false
	}
	return sc.s[start : sc.pos-1], true
}

func (sc *scanner) skipParens() bool {
	depth := 0
	for !sc.done() {
		switch sc.s[sc.pos] {
		case '"':
			if !sc.skipQuoted() {
				return false
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				sc.pos++
				return true
			}
		}
		sc.pos++
	}
	return false
}

func (sc *scanner) skipQuoted() bool {
	sc.pos++
	for !sc.done() {
		switch sc.s[sc.pos] {
		case '\\':
			sc.pos += 2
			continue
		case '"':
			sc.pos++
			return true
		}
		sc.pos++
	}
	return false
}

// skipValue advances past one item value: a list, a quoted string, a
// literal marker or an atom.
func (sc *scanner) skipValue() bool {
	if sc.done() {
		return false
	}
	switch sc.peek() {
	case '(':
		return sc.skipParens()
	case '"':
		return sc.skipQuoted()
	case '{':
		end := strings.IndexByte(sc.s[sc.pos:], '}')
		if end < 0 {
			return false
		}
		sc.pos += end + 1
		return true
	}
	_, ok := sc.atom()
	return ok
}
