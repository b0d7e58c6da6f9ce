package buildinfo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New("", "")
	assert.Equal(t, "dev", c.Version)
	assert.Equal(t, "unknown", c.BuildDate)

	_, err := uuid.Parse(c.InstanceID)
	require.NoError(t, err)
	assert.Len(t, c.ShortID(), 8)
}

func TestInstanceIDsDiffer(t *testing.T) {
	assert.NotEqual(t, New("v1", "").InstanceID, New("v1", "").InstanceID)
}

func TestString(t *testing.T) {
	c := New("v1.2.3", "2026-01-01")
	assert.Contains(t, c.String(), "arstream v1.2.3 (built 2026-01-01")
}
