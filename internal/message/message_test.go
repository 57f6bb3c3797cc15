package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "base64 word", raw: "=?UTF-8?B?5byg5LiJ?=", want: "张三"},
		{name: "adjacent words joined", raw: "=?UTF-8?B?5byg?= =?UTF-8?B?5LiJ?=", want: "张三"},
		{name: "folded adjacent words", raw: "=?UTF-8?B?5byg?=\r\n =?UTF-8?B?5LiJ?=", want: "张三"},
		{name: "word between plain text", raw: "Re: =?UTF-8?Q?caf=C3=A9?= menu", want: "Re: café menu"},
		{name: "latin1", raw: "=?ISO-8859-1?Q?Caf=E9?=", want: "Café"},
		{name: "mixed charsets", raw: "=?ISO-8859-1?Q?Caf=E9?= =?UTF-8?B?5byg?=", want: "Café张"},
		{name: "unknown charset decoded leniently", raw: "=?x-no-such-charset?Q?hello_world?=", want: "hello world"},
		{name: "invalid utf-8 bytes dropped", raw: "=?UTF-8?Q?a=FFb?=", want: "ab"},
		{name: "marker that is not a word", raw: "price =? unknown", want: "price =? unknown"},
		{name: "broken base64 kept", raw: "=?UTF-8?B?***?=", want: "=?UTF-8?B?***?="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeHeader(tt.raw))
		})
	}
}

func TestDecodeHeaderPlainIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Filter(func(s string) bool {
			return !strings.Contains(s, "=?")
		}).Draw(t, "s")
		if got := DecodeHeader(s); got != s {
			t.Fatalf("DecodeHeader(%q) = %q", s, got)
		}
	})
}

func TestParseAddress(t *testing.T) {
	name, addr := ParseAddress("=?UTF-8?B?5byg5LiJ?= <a@example.com>")
	assert.Equal(t, "张三", name)
	assert.Equal(t, "a@example.com", addr)

	name, addr = ParseAddress("bob@example.com")
	assert.Empty(t, name)
	assert.Equal(t, "bob@example.com", addr)

	name, addr = ParseAddress("Broken, Name <x@example.com")
	assert.Empty(t, name)
	assert.Equal(t, "Broken, Name <x@example.com", addr)

	name, addr = ParseAddress(`"Ops [team]" <ops@example.com>`)
	assert.Equal(t, "Ops [team]", name)
	assert.Equal(t, "ops@example.com", addr)
}

func TestDecodeAddressList(t *testing.T) {
	list := DecodeAddressList("=?UTF-8?B?5byg5LiJ?= <a@example.com>, b@example.com")
	require.Len(t, list, 2)
	assert.Equal(t, Address{Name: "张三", Email: "a@example.com"}, list[0])
	assert.Equal(t, Address{Email: "b@example.com"}, list[1])

	assert.Nil(t, DecodeAddressList("  "))
}

func TestAddressStringRoundTrip(t *testing.T) {
	formatted := Address{Name: "张三", Email: "a@example.com"}.String()
	assert.NotContains(t, formatted, "张三")

	name, addr := ParseAddress(formatted)
	assert.Equal(t, "张三", name)
	assert.Equal(t, "a@example.com", addr)

	assert.Equal(t, "a@example.com", Address{Email: "a@example.com"}.String())
}

const twoPlainParts = "From: a@example.com\r\n" +
	"Subject: two parts\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"first\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"second\r\n" +
	"--outer--\r\n"

func TestExtractBodyFirstWins(t *testing.T) {
	tree, err := ParseTree([]byte(twoPlainParts))
	require.NoError(t, err)

	text, html := ExtractBody(tree)
	assert.Equal(t, "first", text)
	assert.Empty(t, html)
}

const nested = "From: =?UTF-8?B?5byg5LiJ?= <a@example.com>\r\n" +
	"To: b@example.com, c@example.com\r\n" +
	"Cc: d@example.com\r\n" +
	"Subject: =?UTF-8?B?5byg5LiJ?= report\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-ID: <abc@example.com>\r\n" +
	"References: <r1@example.com> <r2@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; name=notes.txt\r\n" +
	"Content-Disposition: attachment\r\n" +
	"\r\n" +
	"attached text must not become the body\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"caf=C3=A9\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>caf&eacute;</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"=?UTF-8?B?5oql5ZGKLnBkZg==?=\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQgZmFrZQ==\r\n" +
	"--outer\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=odd.bin\r\n" +
	"Content-Transfer-Encoding: x-unknown\r\n" +
	"\r\n" +
	"zzzz\r\n" +
	"--outer\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: attachment\r\n" +
	"\r\n" +
	"nameless\r\n" +
	"--outer--\r\n"

func TestExtractBodySkipsAttachments(t *testing.T) {
	tree, err := ParseTree([]byte(nested))
	require.NoError(t, err)

	text, html := ExtractBody(tree)
	assert.Equal(t, "café", text)
	assert.Equal(t, "<p>caf&eacute;</p>", html)
}

func TestExtractAttachments(t *testing.T) {
	tree, err := ParseTree([]byte(nested))
	require.NoError(t, err)

	atts := ExtractAttachments(tree)
	require.Len(t, atts, 3)

	assert.Equal(t, "notes.txt", atts[0].Filename)
	assert.Equal(t, "text/plain", atts[0].ContentType)

	assert.Equal(t, "报告.pdf", atts[1].Filename)
	assert.Equal(t, "application/pdf", atts[1].ContentType)
	assert.Equal(t, int64(13), atts[1].Size)
	assert.Equal(t, []byte("%PDF-1.4 fake"), atts[1].Content)

	assert.Equal(t, "odd.bin", atts[2].Filename)
	assert.Zero(t, atts[2].Size)
}

func TestParse(t *testing.T) {
	email, err := Parse([]byte(nested), "7")
	require.NoError(t, err)

	assert.Equal(t, "7", email.ID)
	assert.Equal(t, "张三 report", email.Subject)
	assert.Equal(t, "张三 <a@example.com>", email.From)
	assert.Equal(t, "b@example.com, c@example.com", email.To)
	assert.Equal(t, "d@example.com", email.Cc)
	assert.Equal(t, "<abc@example.com>", email.MessageID)
	assert.Equal(t, 2006, email.Time.Year())
	assert.Equal(t, []string{"r1@example.com", "r2@example.com"}, email.References)
	assert.Equal(t, "café", email.BodyText)
	assert.Len(t, email.Attachments, 3)
	assert.NotNil(t, email.Tree)

	from := email.FromAddress()
	assert.Equal(t, "张三", from.Name)
	assert.Equal(t, "a@example.com", from.Email)
}

func TestParseSinglePart(t *testing.T) {
	raw := "Subject: hi\r\nContent-Type: text/html; charset=iso-8859-1\r\n\r\n<b>Caf\xe9</b>"
	email, err := Parse([]byte(raw), "1")
	require.NoError(t, err)
	assert.Empty(t, email.BodyText)
	assert.Equal(t, "<b>Café</b>", email.BodyHTML)
	assert.Empty(t, email.Attachments)

	raw = "Subject: plain\r\n\r\nno content type"
	email, err = Parse([]byte(raw), "2")
	require.NoError(t, err)
	assert.Equal(t, "no content type", email.BodyText)
}

func TestParseUnreadableHeader(t *testing.T) {
	email, err := Parse([]byte("not a header line\r\n"), "3")
	require.NoError(t, err)
	assert.Equal(t, "not a header line\r\n", email.BodyText)

	_, err = Parse(nil, "4")
	assert.Error(t, err)
}

func TestComposeRoundTrip(t *testing.T) {
	raw, err := Compose(Outgoing{
		From:       Address{Name: "张三", Email: "a@example.com"},
		To:         []Address{{Email: "b@example.com"}},
		Cc:         []Address{{Name: "Carol", Email: "c@example.com"}},
		Subject:    "季度报告",
		Text:       "see attached",
		HTML:       "<p>see attached</p>",
		InReplyTo:  "<orig@example.com>",
		References: []string{"<orig@example.com>"},
		Attachments: []Attachment{
			{Filename: "报告.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4 fake")},
		},
	})
	require.NoError(t, err)

	email, err := Parse(raw, "1")
	require.NoError(t, err)
	assert.Equal(t, "季度报告", email.Subject)
	assert.Equal(t, "张三 <a@example.com>", email.From)
	assert.Contains(t, email.To, "b@example.com")
	assert.Contains(t, email.Cc, "c@example.com")
	assert.Equal(t, "see attached", email.BodyText)
	assert.Equal(t, "<p>see attached</p>", email.BodyHTML)
	assert.NotEmpty(t, email.MessageID)
	assert.Equal(t, []string{"orig@example.com"}, email.References)

	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "报告.pdf", email.Attachments[0].Filename)
	assert.Equal(t, int64(13), email.Attachments[0].Size)
}

func TestComposePlain(t *testing.T) {
	raw, err := Compose(Outgoing{
		From:    Address{Email: "a@example.com"},
		To:      []Address{{Email: "b@example.com"}},
		Subject: "hello",
		Text:    "body",
	})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "text/plain")
	assert.NotContains(t, string(raw), "multipart")

	email, err := Parse(raw, "1")
	require.NoError(t, err)
	assert.Equal(t, "body", email.BodyText)
}

func TestComposeRequiresAddresses(t *testing.T) {
	_, err := Compose(Outgoing{To: []Address{{Email: "b@example.com"}}})
	assert.Error(t, err)
	_, err = Compose(Outgoing{From: Address{Email: "a@example.com"}})
	assert.Error(t, err)
}

func TestRecipients(t *testing.T) {
	o := Outgoing{
		To: []Address{{Email: "a@example.com"}},
		Cc: []Address{{Email: "b@example.com"}},
	}
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, o.Recipients())
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "Hello & welcome\nBye", HTMLToText("<p>Hello &amp; welcome</p><p>Bye</p>"))
	assert.Equal(t, "a\nb", HTMLToText("a<br/>b<script>x()</script>"))
	assert.Empty(t, HTMLToText(""))
}

func TestPreview(t *testing.T) {
	e := &Email{BodyText: "one  two\nthree"}
	assert.Equal(t, "one two three", Preview(e, 100))
	assert.Equal(t, "one...", Preview(e, 3))

	e = &Email{BodyHTML: "<div>张三 says hi</div>"}
	assert.Equal(t, "张三...", Preview(e, 2))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}
