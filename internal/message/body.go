package message

// Attachment describes an attachment part. Content holds the decoded
// payload for forwarding and is never serialized.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"`
}

// ExtractBody returns the first non-empty text/plain part and the first
// non-empty text/html part in tree order. Attachment parts are skipped.
func ExtractBody(tree *Part) (text, html string) {
	var haveText, haveHTML bool
	tree.Walk(func(p *Part) bool {
		if p.IsAttachment() {
			return false
		}
		if len(p.Children) > 0 || len(p.Body) == 0 {
			return true
		}
		switch p.ContentType {
		case "text/plain":
			if !haveText {
				text, haveText = p.Text(), true
			}
		case "text/html":
			if !haveHTML {
				html, haveHTML = p.Text(), true
			}
		}
		return true
	})
	return text, html
}

// ExtractAttachments lists every attachment part with a filename. Size is
// the decoded payload length, or 0 when the payload could not be decoded.
func ExtractAttachments(tree *Part) []Attachment {
	var out []Attachment
	tree.Walk(func(p *Part) bool {
		if !p.IsAttachment() || p.Filename == "" {
			return true
		}
		a := Attachment{
			Filename:    p.Filename,
			ContentType: p.ContentType,
		}
		if p.BodyErr == nil {
			a.Size = int64(len(p.Body))
			a.Content = p.Body
		}
		out = append(out, a)
		return true
	})
	return out
}
