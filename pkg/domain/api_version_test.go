package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAPIVersion(t *testing.T) {
	v, err := ParseAPIVersion("v1")
	require.NoError(t, err)
	assert.Equal(t, APIVersionV1, v)

	for _, bad := range []string{"", "v2", "V1", "1"} {
		_, err := ParseAPIVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestAPIVersion_IsAtLeast(t *testing.T) {
	assert.True(t, APIVersionV1.IsAtLeast(APIVersionV1))
	assert.True(t, APIVersionV1.IsAtLeast("v9"))
	assert.False(t, APIVersion("v0").IsAtLeast(APIVersionV1))
	assert.True(t, APIVersion("").IsNil())
	assert.Equal(t, APIVersionV1, DefaultVersion())
}
