package search

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBuildASCII(t *testing.T) {
	for _, utf8Wire := range []bool{false, true} {
		plan, err := Build(Query{Text: "invoice", Field: FieldSubject}, utf8Wire)
		require.NoError(t, err)
		require.Len(t, plan.Attempts, 1)

		a := plan.Attempts[0]
		assert.Equal(t, StrategyASCII, a.Strategy)
		assert.False(t, a.Lossy)
		assert.Equal(t, []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: "invoice"}}, a.Criteria.Header)
	}
}

func TestBuildUTF8Wire(t *testing.T) {
	plan, err := Build(Query{Text: "café", Field: FieldBody}, true)
	require.NoError(t, err)
	require.Len(t, plan.Attempts, 2)

	assert.Equal(t, StrategyUTF8, plan.Attempts[0].Strategy)
	assert.Equal(t, []string{"café"}, plan.Attempts[0].Criteria.Body)

	fallback := plan.Attempts[1]
	assert.Equal(t, StrategyASCII, fallback.Strategy)
	assert.True(t, fallback.Lossy)
	assert.Equal(t, []string{"cafe"}, fallback.Criteria.Text)
}

func TestBuildCharsetThenFallback(t *testing.T) {
	plan, err := Build(Query{Text: "Müller report", Field: FieldFrom}, false)
	require.NoError(t, err)
	require.Len(t, plan.Attempts, 2)

	first := plan.Attempts[0]
	assert.Equal(t, StrategyCharsetUTF8, first.Strategy)
	assert.Equal(t, "From", first.Criteria.Header[0].Key)
	assert.Equal(t, "Müller report", first.Criteria.Header[0].Value)

	second := plan.Attempts[1]
	assert.Equal(t, StrategyASCII, second.Strategy)
	assert.Equal(t, []string{"Muller report"}, second.Criteria.Text)
	assert.Empty(t, second.Criteria.Header)
}

func TestBuildNoASCIISurvivorHasNoFallback(t *testing.T) {
	plan, err := Build(Query{Text: "张三"}, false)
	require.NoError(t, err)
	require.Len(t, plan.Attempts, 1)
	assert.Equal(t, StrategyCharsetUTF8, plan.Attempts[0].Strategy)
	assert.Equal(t, []string{"张三"}, plan.Attempts[0].Criteria.Text)
}

func TestBuildValidation(t *testing.T) {
	_, err := Build(Query{Text: "  "}, false)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = Build(Query{Text: strings.Repeat("a", MaxQueryLength+1)}, false)
	assert.ErrorIs(t, err, ErrQueryTooLong)

	_, err = Build(Query{Text: strings.Repeat("é", MaxQueryLength)}, false)
	assert.NoError(t, err)

	_, err = Build(Query{Text: "x", Field: "headers"}, false)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestParseField(t *testing.T) {
	f, err := ParseField("")
	require.NoError(t, err)
	assert.Equal(t, FieldText, f)

	f, err = ParseField(" Subject ")
	require.NoError(t, err)
	assert.Equal(t, FieldSubject, f)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "Creme brulee", Fold("Crème brûlée"))
	assert.Equal(t, "a b", Fold("a 张 b"))
	assert.Equal(t, "", Fold("日本語"))
}

func TestQueryTextNeverDropped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(1, 50, -1).Filter(func(s string) bool {
			return strings.TrimSpace(s) != ""
		}).Draw(t, "text")
		utf8Wire := rapid.Bool().Draw(t, "utf8")

		plan, err := Build(Query{Text: text}, utf8Wire)
		if err != nil {
			t.Fatalf("Build(%q): %v", text, err)
		}
		if len(plan.Attempts) == 0 {
			t.Fatalf("Build(%q): no attempts", text)
		}
		if got := plan.Attempts[0].Criteria.Text; len(got) != 1 || got[0] != text {
			t.Fatalf("first attempt carries %q, want %q", got, text)
		}
		if plan.Attempts[0].Lossy {
			t.Fatalf("first attempt marked lossy")
		}
		for _, a := range plan.Attempts[1:] {
			if a.Strategy != StrategyASCII || !isASCII(a.Criteria.Text[0]) {
				t.Fatalf("fallback %+v is not ASCII", a)
			}
		}
	})
}
