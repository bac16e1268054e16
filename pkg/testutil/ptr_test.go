package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPtr(t *testing.T) {
	b := Ptr(false)
	require.NotNil(t, b)
	assert.False(t, *b)

	d := Ptr(1500 * time.Millisecond)
	require.NotNil(t, d)
	assert.Equal(t, 1500*time.Millisecond, *d)

	// Each call returns a fresh pointer.
	assert.NotSame(t, Ptr(1), Ptr(1))
}
