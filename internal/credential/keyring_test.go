package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "imap:me@example.com", Key("imap", "me@example.com"))
}

func TestResolvePrefersConfiguredValue(t *testing.T) {
	got, err := Resolve("from-config", "imap", "me@example.com")

	require.NoError(t, err)
	assert.Equal(t, "from-config", got)
}

func TestResolveRequiresUsername(t *testing.T) {
	_, err := Resolve("", "smtp", "")

	assert.Error(t, err)
}
