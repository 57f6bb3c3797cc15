package folder

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the longest folder name accepted from callers.
const MaxNameLength = 255

var invalidSequences = []string{"/", `\`, "..", "<", ">", ":", `"`, "|", "?", "*"}

// protected lists the folders that mutating operations must never touch.
var protected = []string{"INBOX", "Sent", "Drafts", "Trash", "Spam", "Junk"}

// SentCandidates are tried in order when saving a copy of sent mail.
var SentCandidates = []string{"Sent", "INBOX.Sent", "Sent Messages", "Sent Items"}

// Validate checks a caller-supplied folder name. It returns a description
// of the first problem found, or "" when the name is acceptable.
func Validate(name string) string {
	if strings.TrimSpace(name) == "" {
		return "folder name cannot be empty"
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Sprintf("folder name too long (max %d characters)", MaxNameLength)
	}
	for _, seq := range invalidSequences {
		if strings.Contains(name, seq) {
			return fmt.Sprintf("folder name contains invalid character: %s", seq)
		}
	}
	return ""
}

// IsProtected reports whether name is INBOX or a well-known delivery
// folder.
func IsProtected(name string) bool {
	for _, p := range protected {
		if strings.EqualFold(name, p) {
			return true
		}
	}
	return false
}

// Listable reports whether a name from LIST should be shown to callers.
func Listable(name string) bool {
	return name != "" && name != "." && name != ".."
}

// Alternatives returns the names tried when creating a folder: the name
// itself, then under INBOX with the two common hierarchy delimiters.
func Alternatives(name string) []string {
	return []string{name, "INBOX." + name, "INBOX/" + name}
}
