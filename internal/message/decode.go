package message

import (
	"encoding/base64"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "utf-8", "utf8", "us-ascii":
		return input, nil
	}
	return charset.Reader(label, input)
}

// DecodeHeader decodes the RFC 2047 encoded-words in a header value.
// Adjacent encoded-words are joined with no separator. A word whose
// charset is unknown, or whose decoded bytes are not valid UTF-8, is
// decoded leniently as UTF-8. A value with no "=?" is returned unchanged.
func DecodeHeader(raw string) string {
	if !strings.Contains(raw, "=?") {
		return raw
	}

	var (
		b        strings.Builder
		rest     = raw
		lastWord bool
	)
	for rest != "" {
		start := strings.Index(rest, "=?")
		if start < 0 {
			b.WriteString(rest)
			break
		}

		n, ok := encodedWordLen(rest[start:])
		if !ok {
			b.WriteString(rest[:start+2])
			rest = rest[start+2:]
			lastWord = false
			continue
		}

		if between := rest[:start]; !lastWord || strings.Trim(between, " \t\r\n") != "" {
			b.WriteString(between)
		}
		b.WriteString(decodeWord(rest[start : start+n]))
		rest = rest[start+n:]
		lastWord = true
	}
	return b.String()
}

// encodedWordLen returns the length of the encoded-word
// "=?" charset "?" encoding "?" text "?=" at the start of s.
func encodedWordLen(s string) (int, bool) {
	i := 2
	cs := strings.IndexByte(s[i:], '?')
	if cs <= 0 {
		return 0, false
	}
	i += cs + 1
	if len(s) < i+2 || s[i+1] != '?' {
		return 0, false
	}
	switch s[i] {
	case 'B', 'b', 'Q', 'q':
	default:
		return 0, false
	}
	i += 2
	end := strings.Index(s[i:], "?=")
	if end < 0 || strings.ContainsAny(s[i:i+end], " \t\r\n?") {
		return 0, false
	}
	return i + end + 2, true
}

func decodeWord(word string) string {
	if s, err := wordDecoder.Decode(word); err == nil {
		return lenient(s)
	}

	fields := strings.SplitN(word[2:len(word)-2], "?", 3)
	if len(fields) != 3 {
		return word
	}
	var (
		raw []byte
		err error
	)
	switch strings.ToUpper(fields[1]) {
	case "B":
		raw, err = base64.StdEncoding.DecodeString(fields[2])
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(fields[2], "="))
		}
	case "Q":
		raw = decodeQ(fields[2])
	}
	if err != nil {
		return word
	}
	return lenient(string(raw))
}

func decodeQ(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '_':
			out = append(out, ' ')
		case c == '=' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
		default:
			out = append(out, c)
		}
	}
	return out
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// lenient drops byte sequences that are not valid UTF-8.
func lenient(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// Address is a parsed mailbox with its display name decoded.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String formats the address for a header, encoding a non-ASCII display
// name as an RFC 2047 encoded-word.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// ParseAddress splits a single address header into its decoded display
// name and its address. Values that are not valid RFC 5322 addresses are
// split on the last angle bracket, or treated as a bare address.
func ParseAddress(raw string) (name, addr string) {
	if a, err := mail.ParseAddress(raw); err == nil {
		return a.Name, a.Address
	}

	decoded := strings.TrimSpace(DecodeHeader(raw))
	if lt := strings.LastIndexByte(decoded, '<'); lt >= 0 {
		if gt := strings.IndexByte(decoded[lt:], '>'); gt > 0 {
			name = strings.Trim(strings.TrimSpace(decoded[:lt]), `"`)
			return name, strings.TrimSpace(decoded[lt+1 : lt+gt])
		}
	}
	return "", decoded
}

// DecodeAddressList parses a comma-separated address header.
func DecodeAddressList(raw string) []Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(raw); err == nil {
		out := make([]Address, 0, len(list))
		for _, a := range list {
			out = append(out, Address{Name: a.Name, Email: a.Address})
		}
		return out
	}

	var out []Address
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		name, addr := ParseAddress(part)
		out = append(out, Address{Name: name, Email: addr})
	}
	return out
}
