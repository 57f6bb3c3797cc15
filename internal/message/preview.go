package message

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	blockBreak   = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6])>`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText strips markup from an HTML body, keeping line breaks at block
// boundaries.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	s = blockBreak.ReplaceAllString(s, "\n")
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}

// Preview returns up to n characters of the message text, falling back to
// the HTML body with markup removed.
func Preview(e *Email, n int) string {
	text := e.BodyText
	if strings.TrimSpace(text) == "" {
		text = HTMLToText(e.BodyHTML)
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// FormatSize renders a byte count for display.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
