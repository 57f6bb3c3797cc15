package flags

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  []string
	}{
		{
			name:  "untagged fetch",
			lines: []string{`* 3 FETCH (FLAGS (\Seen \Flagged))`},
			want:  []string{Flagged, Seen},
		},
		{
			name:  "fetch data without star or keyword",
			lines: []string{`12 (UID 40 FLAGS (\Seen))`},
			want:  []string{Seen},
		},
		{
			name:  "double escaped flags",
			lines: []string{`1 (FLAGS (\\Seen \\Answered))`},
			want:  []string{Answered, Seen},
		},
		{
			name:  "keywords kept verbatim",
			lines: []string{`* 1 FETCH (FLAGS ($Important Junk \seen))`},
			want:  []string{"$Important", "Junk", Seen},
		},
		{
			name:  "flags after body literal marker",
			lines: []string{`* 2 FETCH (UID 9 BODY[] {342} FLAGS (\Deleted))`},
			want:  []string{Deleted},
		},
		{
			name:  "envelope with parens in quoted strings",
			lines: []string{`* 2 FETCH (ENVELOPE ("Mon" "a (b) c" NIL) FLAGS (\Draft))`},
			want:  []string{Draft},
		},
		{
			name: "interleaved unrelated lines",
			lines: []string{
				`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`,
				`* OK [PERMANENTFLAGS (\Deleted \Seen \*)] Limited`,
				`* 4 EXISTS`,
				`* 4 FETCH (FLAGS (\Flagged))`,
			},
			want: []string{Flagged},
		},
		{
			name:  "empty flag list",
			lines: []string{`* 1 FETCH (FLAGS ())`},
			want:  []string{},
		},
		{
			name:  "no flags section",
			lines: []string{`* 1 FETCH (UID 17 RFC822.SIZE 2048)`},
			want:  []string{},
		},
		{
			name:  "unbalanced list",
			lines: []string{`* 1 FETCH (FLAGS (\Seen`},
			want:  []string{},
		},
		{
			name:  "garbage",
			lines: []string{"", ")(", "FETCH", "* 1 FETCH"},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.lines...)
			assert.Equal(t, tt.want, got.List())
		})
	}
}

func TestParseAbsentFlagsIsNotRead(t *testing.T) {
	set := Parse(`* 1 FETCH (UID 3)`)
	assert.False(t, IsRead(set))
	assert.False(t, IsImportant(set))
	assert.Empty(t, set)
}

func TestDerivations(t *testing.T) {
	set := New(`\Seen`, `\Flagged`)
	assert.True(t, IsRead(set))
	assert.True(t, IsImportant(set))

	set = New("Answered")
	assert.False(t, IsRead(set))
	assert.False(t, IsImportant(set))
}

func TestWire(t *testing.T) {
	assert.Equal(t, `\Seen`, Wire("seen"))
	assert.Equal(t, `\Flagged`, Wire(`\\Flagged`))
	assert.Equal(t, "$Important", Wire("$Important"))
}

func TestParseNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.String().Draw(t, "line")
		_ = Parse(line)
	})
}

func TestParseWithoutFlagsMarkerIsEmpty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.StringMatching(`[ -~]{0,60}`).Filter(func(s string) bool {
			return !strings.Contains(strings.ToUpper(s), "FLAGS")
		}).Draw(t, "line")
		if got := Parse(line); len(got) != 0 {
			t.Fatalf("Parse(%q) = %v, want empty", line, got.List())
		}
	})
}
