package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, path, err := ParseURI("gs://transcripts/2026/10/CA1.json")
	require.NoError(t, err)
	assert.Equal(t, "transcripts", bucket)
	assert.Equal(t, "2026/10/CA1.json", path)

	for _, bad := range []string{"https://x/y", "gs://bucket", "gs://bucket/", "gs:///obj"} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestObjectURIRoundTrip(t *testing.T) {
	bucket, path, err := ParseURI(ObjectURI("b", "calls/MZ1.json"))
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "calls/MZ1.json", path)
}
