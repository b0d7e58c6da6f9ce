package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/arstream/internal/errors"
)

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantSize int
		wantErr  bool
	}{
		{"raw", Config{PoolCapacity: 4, MaxElements: 2, ElementSize: 8}, 8, false},
		{"raw without size", Config{PoolCapacity: 4, MaxElements: 2}, 0, true},
		{"zero capacity", Config{MaxElements: 2, ElementSize: 8}, 0, true},
		{"zero elements", Config{PoolCapacity: 4, ElementSize: 8}, 0, true},
		{"negative growth", Config{PoolCapacity: 4, MaxElements: 1, ElementSize: 8, GrowthLimit: -1}, 0, true},
		{"matrix4 default size", Config{PoolCapacity: 4, MaxElements: 1, Kind: KindMatrix4}, 64, false},
		{"matrix4 wrong size", Config{PoolCapacity: 4, MaxElements: 1, Kind: KindMatrix4, ElementSize: 32}, 0, true},
		{"marker default size", Config{PoolCapacity: 4, MaxElements: 8, Kind: KindMarker}, 32, false},
		{"marker partial point", Config{PoolCapacity: 4, MaxElements: 8, Kind: KindMarker, ElementSize: 12}, 0, true},
		{
			"frame from layout",
			Config{PoolCapacity: 2, MaxElements: 1, Kind: KindFrame, Frame: FrameLayout{Width: 4, Height: 2, Components: 3, BytesPerComponent: 1}},
			24, false,
		},
		{
			"frame size mismatch",
			Config{PoolCapacity: 2, MaxElements: 1, Kind: KindFrame, ElementSize: 10, Frame: FrameLayout{Width: 4, Height: 2, Components: 3, BytesPerComponent: 1}},
			0, true,
		},
		{"frame without layout", Config{PoolCapacity: 2, MaxElements: 1, Kind: KindFrame}, 0, true},
		{
			"layout on raw kind",
			Config{PoolCapacity: 2, MaxElements: 1, ElementSize: 24, Frame: FrameLayout{Width: 4, Height: 2, Components: 3, BytesPerComponent: 1}},
			0, true,
		},
		{"unknown kind", Config{PoolCapacity: 2, MaxElements: 1, ElementSize: 4, Kind: Kind(42)}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.normalize()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfig)
				assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, got.ElementSize)
		})
	}
}

func TestParseKindAndMode(t *testing.T) {
	k, err := ParseKind("matrix4")
	require.NoError(t, err)
	assert.Equal(t, KindMatrix4, k)

	_, err = ParseKind("voxel")
	assert.ErrorIs(t, err, ErrConfig)

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Nearest, m)

	m, err = ParseMode("previous")
	require.NoError(t, err)
	assert.Equal(t, "previous", m.String())

	_, err = ParseMode("sideways")
	assert.Error(t, err)
}

func TestTimestampIsValid(t *testing.T) {
	assert.True(t, Timestamp(0.5).IsValid())
	assert.False(t, NoTimestamp.IsValid())
	assert.False(t, Timestamp(-1).IsValid())
}
