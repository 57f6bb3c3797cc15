package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/message"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50

	// MaxSubjectLength is the RFC 5322 line length limit applied to
	// subjects.
	MaxSubjectLength = 998
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NormalizePage clamps paging parameters. The returned warning describes
// any adjustment made.
func NormalizePage(page, pageSize int) (int, int, string) {
	var warnings []string
	if page < 1 {
		page = 1
		warnings = append(warnings, "Page number adjusted to 1.")
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
		warnings = append(warnings, fmt.Sprintf("Page size adjusted to %d.", DefaultPageSize))
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
		warnings = append(warnings, fmt.Sprintf("Page size limited to %d.", MaxPageSize))
	}
	return page, pageSize, strings.Join(warnings, " ")
}

// SanitizeSubject removes control characters, collapses whitespace and
// truncates to MaxSubjectLength characters.
func SanitizeSubject(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > MaxSubjectLength {
		s = strings.TrimSpace(string(r[:MaxSubjectLength]))
	}
	return s
}

// SplitAddresses splits comma-separated address strings into single
// entries.
func SplitAddresses(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ParseRecipients parses and validates each entry of list. field names
// the argument in the returned ValidationError.
func ParseRecipients(field string, list []string, required bool) ([]message.Address, error) {
	list = SplitAddresses(list...)
	if len(list) == 0 {
		if required {
			return nil, &mailbox.ValidationError{Field: field, Message: "at least one address is required"}
		}
		return nil, nil
	}

	out := make([]message.Address, 0, len(list))
	var invalid []string
	for _, raw := range list {
		name, addr := message.ParseAddress(raw)
		if err := validate.Var(addr, "required,email"); err != nil {
			invalid = append(invalid, raw)
			continue
		}
		out = append(out, message.Address{Name: name, Email: addr})
	}
	if len(invalid) > 0 {
		return nil, &mailbox.ValidationError{
			Field:   field,
			Message: "invalid email addresses: " + strings.Join(invalid, ", "),
		}
	}
	return out, nil
}
