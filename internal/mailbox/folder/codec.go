// Package folder converts mailbox names between their human-readable form
// and the form sent on the wire, and parses LIST responses.
//
// Servers that accept UTF-8 mailbox names (UTF8=ACCEPT or IMAP4rev2) get
// names verbatim. Other servers get the modified UTF-7 encoding of RFC 3501
// section 5.1.3 for any name containing non-ASCII characters. Pure ASCII
// names are always sent verbatim.
package folder

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Capability describes what the connected server accepts in mailbox names.
type Capability struct {
	// UTF8 is set when raw UTF-8 octets are accepted in mailbox names.
	UTF8 bool
}

// modifiedBase64 is standard base64 with ',' in place of '/' and no
// padding.
var modifiedBase64 = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,",
).WithPadding(base64.NoPadding)

// Encode returns the wire form of name.
func Encode(name string, c Capability) string {
	if c.UTF8 || isASCII(name) {
		return name
	}
	return encodeUTF7(name)
}

// Decode returns the human-readable form of a wire name. A wire name that
// is not valid modified UTF-7, or that Encode would not have produced, is
// returned unchanged.
func Decode(wire string, c Capability) string {
	if c.UTF8 || !strings.Contains(wire, "&") {
		return wire
	}
	name, err := decodeUTF7(wire)
	if err != nil || Encode(name, c) != wire {
		return wire
	}
	return name
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func encodeUTF7(s string) string {
	var (
		buf    strings.Builder
		b64buf []byte
	)
	buf.Grow(len(s) * 2)

	flush := func() {
		if len(b64buf) == 0 {
			return
		}
		buf.WriteByte('&')
		buf.WriteString(modifiedBase64.EncodeToString(b64buf))
		buf.WriteByte('-')
		b64buf = b64buf[:0]
	}

	for _, r := range s {
		if r >= 0x20 && r <= 0x7e {
			flush()
			if r == '&' {
				buf.WriteString("&-")
			} else {
				buf.WriteRune(r)
			}
			continue
		}
		if r >= 0x10000 {
			r1, r2 := utf16.EncodeRune(r)
			b64buf = append(b64buf, byte(r1>>8), byte(r1), byte(r2>>8), byte(r2))
		} else {
			b64buf = append(b64buf, byte(r>>8), byte(r))
		}
	}
	flush()

	return buf.String()
}

var (
	errUnterminated = errors.New("folder: unterminated base64 section")
	errOddLength    = errors.New("folder: odd UTF-16 length")
	errSurrogate    = errors.New("folder: invalid surrogate pair")
	errBadByte      = errors.New("folder: byte outside printable ASCII")
)

func decodeUTF7(s string) (string, error) {
	var buf strings.Builder
	buf.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c < 0x20 || c > 0x7e {
			return "", errBadByte
		}
		if c != '&' {
			buf.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(s[i+1:], '-')
		if end < 0 {
			return "", errUnterminated
		}
		encoded := s[i+1 : i+1+end]
		i += end + 2

		if encoded == "" {
			buf.WriteByte('&')
			continue
		}

		raw, err := modifiedBase64.DecodeString(encoded)
		if err != nil {
			return "", err
		}
		if len(raw)%2 != 0 {
			return "", errOddLength
		}

		units := make([]uint16, 0, len(raw)/2)
		for j := 0; j < len(raw); j += 2 {
			units = append(units, uint16(raw[j])<<8|uint16(raw[j+1]))
		}
		for j := 0; j < len(units); j++ {
			r := rune(units[j])
			if utf16.IsSurrogate(r) {
				if j+1 >= len(units) {
					return "", errSurrogate
				}
				r = utf16.DecodeRune(r, rune(units[j+1]))
				if r == utf8.RuneError {
					return "", errSurrogate
				}
				j++
			}
			buf.WriteRune(r)
		}
	}

	return buf.String(), nil
}
