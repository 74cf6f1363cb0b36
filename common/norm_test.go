package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnpackSnorm8(t *testing.T) {
	assert.InDelta(t, 1.0, UnpackSnorm8(127), 1e-6)
	assert.InDelta(t, -1.0, UnpackSnorm8(-128), 1e-6, "the most negative code still clamps to -1")
	assert.InDelta(t, -1.0, UnpackSnorm8(-127), 1e-6)
	assert.InDelta(t, 0.0, UnpackSnorm8(0), 1e-6)
}

func TestUnpackSnorm16(t *testing.T) {
	assert.InDelta(t, 1.0, UnpackSnorm16(32767), 1e-6)
	assert.InDelta(t, -1.0, UnpackSnorm16(-32768), 1e-6)
	assert.InDelta(t, 0.5, UnpackSnorm16(16384), 1e-3)
}

func TestUnpackUnorm(t *testing.T) {
	assert.InDelta(t, 1.0, UnpackUnorm8(255), 1e-6)
	assert.InDelta(t, 0.0, UnpackUnorm8(0), 1e-6)
	assert.InDelta(t, 1.0, UnpackUnorm16(65535), 1e-6)
}

func TestPackSnorm16(t *testing.T) {
	assert.Equal(t, int16(32767), PackSnorm16(1))
	assert.Equal(t, int16(-32767), PackSnorm16(-1))
	assert.Equal(t, int16(0), PackSnorm16(0))

	// Out-of-range input clamps instead of wrapping.
	assert.Equal(t, int16(32767), PackSnorm16(2))
	assert.Equal(t, int16(-32767), PackSnorm16(-5))

	// Round trip within quantization error.
	v := float32(0.3)
	assert.InDelta(t, v, UnpackSnorm16(PackSnorm16(v)), 1.0/32767.0)
}

func TestSliceToBytes(t *testing.T) {
	raw := SliceToBytes([]uint16{0x0102, 0x0304})
	assert.Len(t, raw, 4)

	assert.Nil(t, SliceToBytes[float32](nil))
}
