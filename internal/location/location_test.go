package location_test

import (
	"testing"

	"github.com/blitsync/blit/internal/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainBlit(t *testing.T) {
	t.Parallel()

	loc, err := location.Parse("blit://example.com/data")
	require.NoError(t, err)
	assert.Equal(t, "example.com", loc.Host)
	assert.Equal(t, "/data", loc.Path)
	assert.False(t, loc.TLS)
	assert.Equal(t, "example.com:9876", loc.Addr())
}

func TestParseBlitsWithPort(t *testing.T) {
	t.Parallel()

	loc, err := location.Parse("blits://example.com:4443/backup")
	require.NoError(t, err)
	assert.True(t, loc.TLS)
	assert.Equal(t, 4443, loc.Port)
	assert.Equal(t, "example.com:4443", loc.Addr())
}

func TestParseRejectsOtherSchemes(t *testing.T) {
	t.Parallel()

	_, err := location.Parse("http://example.com/data")
	assert.Error(t, err)
}

func TestParseRejectsMissingHost(t *testing.T) {
	t.Parallel()

	_, err := location.Parse("blit:///data")
	assert.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	loc := location.Location{Host: "h", Port: 1234, Path: "/p", TLS: true}
	assert.Equal(t, "blits://h:1234/p", loc.String())
}
