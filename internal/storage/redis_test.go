package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureKey(t *testing.T) {
	k := failureKey("/about")

	assert.True(t, strings.HasPrefix(k, failureKeyPrefix))
	assert.Len(t, strings.TrimPrefix(k, failureKeyPrefix), 64)
	assert.Equal(t, k, failureKey("/about"))
	assert.NotEqual(t, k, failureKey("/about/"))
}
