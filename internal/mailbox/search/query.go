// Package search builds IMAP SEARCH criteria for free-text queries and
// decides how the query text is presented to servers of differing
// charset support.
package search

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxQueryLength is the longest query text accepted, in characters.
const MaxQueryLength = 1000

// Field scopes a query to part of the message.
type Field string

const (
	FieldText    Field = "text"
	FieldSubject Field = "subject"
	FieldFrom    Field = "from"
	FieldBody    Field = "body"
)

// Strategy is how the query text is presented on the wire.
type Strategy int

const (
	// StrategyUTF8 sends raw UTF-8 with no CHARSET, for servers that
	// negotiated UTF8=ACCEPT or IMAP4rev2.
	StrategyUTF8 Strategy = iota
	// StrategyCharsetUTF8 sends UTF-8 behind an explicit CHARSET UTF-8.
	StrategyCharsetUTF8
	// StrategyASCII sends ASCII-only text with no CHARSET.
	StrategyASCII
)

func (s Strategy) String() string {
	switch s {
	case StrategyUTF8:
		return "utf8"
	case StrategyCharsetUTF8:
		return "charset-utf8"
	case StrategyASCII:
		return "ascii"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyQuery   = errors.New("search query cannot be empty")
	ErrQueryTooLong = fmt.Errorf("search query too long (max %d characters)", MaxQueryLength)
	ErrUnknownField = errors.New("unknown search field")
)

// Query is a caller's search request.
type Query struct {
	Text  string
	Field Field
}

// Attempt is one SEARCH command the session may issue.
type Attempt struct {
	Strategy Strategy
	Criteria *imap.SearchCriteria
	// Lossy is set when characters of the original text were folded or
	// dropped to build the criteria.
	Lossy bool
}

// Plan lists the attempts in the order they should be tried. A later
// attempt is only issued when the server rejected the previous one.
type Plan struct {
	Query    Query
	Attempts []Attempt
}

// ParseField maps a caller-supplied scope to a Field. The empty string
// means FieldText.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case "", "all":
		return FieldText, nil
	case FieldText, FieldSubject, FieldFrom, FieldBody:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
}

// Build validates q and returns its plan. utf8Wire reports whether the
// session negotiated UTF-8 on the wire.
func Build(q Query, utf8Wire bool) (Plan, error) {
	field, err := ParseField(string(q.Field))
	if err != nil {
		return Plan{}, err
	}
	q.Field = field

	if strings.TrimSpace(q.Text) == "" {
		return Plan{}, ErrEmptyQuery
	}
	if utf8.RuneCountInString(q.Text) > MaxQueryLength {
		return Plan{}, ErrQueryTooLong
	}

	plan := Plan{Query: q}

	if isASCII(q.Text) {
		plan.Attempts = []Attempt{{
			Strategy: StrategyASCII,
			Criteria: criteria(q.Field, q.Text),
		}}
		return plan, nil
	}

	if utf8Wire {
		plan.Attempts = append(plan.Attempts, Attempt{
			Strategy: StrategyUTF8,
			Criteria: criteria(q.Field, q.Text),
		})
	} else {
		plan.Attempts = append(plan.Attempts, Attempt{
			Strategy: StrategyCharsetUTF8,
			Criteria: criteria(q.Field, q.Text),
		})
	}

	if folded := Fold(q.Text); strings.TrimSpace(folded) != "" {
		plan.Attempts = append(plan.Attempts, Attempt{
			Strategy: StrategyASCII,
			Criteria: criteria(FieldText, folded),
			Lossy:    true,
		})
	}

	return plan, nil
}

func criteria(f Field, text string) *imap.SearchCriteria {
	c := &imap.SearchCriteria{}
	switch f {
	case FieldSubject:
		c.Header = []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: text}}
	case FieldFrom:
		c.Header = []imap.SearchCriteriaHeaderField{{Key: "From", Value: text}}
	case FieldBody:
		c.Body = []string{text}
	default:
		c.Text = []string{text}
	}
	return c
}

// Fold reduces s to ASCII: accents are stripped from letters that have an
// ASCII base, other non-ASCII runes are removed, and the resulting runs of
// whitespace are collapsed.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range folded {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
