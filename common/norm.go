package common

// Normalized-integer conversions as defined by the glTF 2.0 specification
// (and KHR_mesh_quantization). Signed variants map the most negative
// representable value onto -1.0 by clamping, so both -128 and -127 decode
// to -1.0 for 8-bit data.

// UnpackSnorm8 decodes a signed normalized 8-bit value to [-1, 1].
//
// Parameters:
//   - v: the raw signed byte
//
// Returns:
//   - float32: the decoded value in [-1, 1]
func UnpackSnorm8(v int8) float32 {
	return max(float32(v)/127.0, -1.0)
}

// UnpackUnorm8 decodes an unsigned normalized 8-bit value to [0, 1].
//
// Parameters:
//   - v: the raw unsigned byte
//
// Returns:
//   - float32: the decoded value in [0, 1]
func UnpackUnorm8(v uint8) float32 {
	return float32(v) / 255.0
}

// UnpackSnorm16 decodes a signed normalized 16-bit value to [-1, 1].
//
// Parameters:
//   - v: the raw signed 16-bit value
//
// Returns:
//   - float32: the decoded value in [-1, 1]
func UnpackSnorm16(v int16) float32 {
	return max(float32(v)/32767.0, -1.0)
}

// UnpackUnorm16 decodes an unsigned normalized 16-bit value to [0, 1].
//
// Parameters:
//   - v: the raw unsigned 16-bit value
//
// Returns:
//   - float32: the decoded value in [0, 1]
func UnpackUnorm16(v uint16) float32 {
	return float32(v) / 65535.0
}

// PackSnorm16 encodes a float in [-1, 1] as a signed normalized 16-bit value.
// Input outside the range is clamped.
//
// Parameters:
//   - v: the value to encode
//
// Returns:
//   - int16: the encoded value
func PackSnorm16(v float32) int16 {
	v = min(max(v, -1.0), 1.0)
	if v >= 0 {
		return int16(v*32767.0 + 0.5)
	}
	return int16(v*32767.0 - 0.5)
}
