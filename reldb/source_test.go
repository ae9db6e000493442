package reldb

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource_UnknownField(t *testing.T) {
	src := `
builds:
  - family: fallout4
    version: 1.10.163
    offsets: {}
`
	_, err := ParseSource(strings.NewReader(src))
	assert.ErrorContains(t, err, "offsets")
}

func TestParseSource_UnnamedItem(t *testing.T) {
	src := `
builds:
  - family: fallout4
    version: 1.10.163
    items:
      - version: 1
`
	_, err := ParseSource(strings.NewReader(src))
	assert.ErrorContains(t, err, "without a name")
}

func TestWriteSource_RoundTrip(t *testing.T) {
	db := loadTestSource(t)

	var buf bytes.Buffer
	require.NoError(t, db.WriteSource(&buf))

	again, err := ParseSource(&buf)
	require.NoError(t, err)
	assert.Equal(t, db.records(), again.records())
}

func TestParseBuildIdentity(t *testing.T) {
	b, err := ParseBuildIdentity("fallout4/1.10.980")
	require.NoError(t, err)
	assert.Equal(t, build980, b)
	assert.Equal(t, "980", b.Short())
	assert.Equal(t, "fallout4 1.10.980", b.VersionString())

	for _, bad := range []string{"", "fallout4", "/1.10.980", "fallout4/"} {
		_, err := ParseBuildIdentity(bad)
		assert.Error(t, err, bad)
	}
}
