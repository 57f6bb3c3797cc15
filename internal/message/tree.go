package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
)

// Part is one node of a parsed MIME tree. Leaf bodies are held decoded:
// transfer encoding removed and, for text parts, converted to UTF-8.
type Part struct {
	Header      gomessage.Header
	ContentType string
	Params      map[string]string
	Disposition string
	Filename    string
	Body        []byte
	// BodyErr is set when the leaf body could not be decoded.
	BodyErr  error
	Children []*Part
}

// IsAttachment reports whether the part carries an attachment disposition.
func (p *Part) IsAttachment() bool {
	return p.Disposition == "attachment"
}

// Walk visits p and its descendants depth-first in document order. When fn
// returns false the part's children are skipped.
func (p *Part) Walk(fn func(*Part) bool) {
	if p == nil {
		return
	}
	if !fn(p) {
		return
	}
	for _, c := range p.Children {
		c.Walk(fn)
	}
}

// ParseTree reads raw RFC 5322 bytes into a part tree. Unknown charsets and
// transfer encodings are not errors: the affected body is kept as read.
func ParseTree(raw []byte) (*Part, error) {
	e, err := gomessage.Read(bytes.NewReader(raw))
	if e == nil {
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	return buildPart(e, err), nil
}

func buildPart(e *gomessage.Entity, readErr error) *Part {
	p := &Part{Header: e.Header}

	ct, params, err := e.Header.ContentType()
	if err != nil || ct == "" {
		ct = "text/plain"
	}
	p.ContentType = strings.ToLower(ct)
	p.Params = params

	if disp, dparams, err := e.Header.ContentDisposition(); err == nil {
		p.Disposition = strings.ToLower(disp)
		p.Filename = dparams["filename"]
	} else if raw := strings.ToLower(e.Header.Get("Content-Disposition")); strings.HasPrefix(strings.TrimSpace(raw), "attachment") {
		p.Disposition = "attachment"
	}
	if p.Filename == "" {
		p.Filename = params["name"]
	}
	p.Filename = DecodeHeader(p.Filename)

	if mr := e.MultipartReader(); mr != nil {
		defer mr.Close()
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if child == nil {
				if err != nil {
					p.BodyErr = err
				}
				break
			}
			p.Children = append(p.Children, buildPart(child, err))
		}
		return p
	}

	body, err := io.ReadAll(e.Body)
	switch {
	case err != nil:
		p.BodyErr = err
	case gomessage.IsUnknownEncoding(readErr):
		p.BodyErr = readErr
		p.Body = body
	default:
		p.Body = body
	}
	return p
}

// Text returns the part body as a string, decoding invalid UTF-8
// leniently.
func (p *Part) Text() string {
	return lenient(string(p.Body))
}
