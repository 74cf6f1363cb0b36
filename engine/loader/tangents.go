package loader

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-gltf/common"
	"github.com/Carmen-Shannon/oxy-gltf/engine/asset"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// computeOrientationQuats builds one packed tangent-frame quaternion per
// vertex from an orientation target's source accessors. When the primitive
// has no tangents a perpendicular basis is synthesized from the normal alone.
// The result is four snorm16 components per vertex, ready for upload.
func computeOrientationQuats(doc *gltf.Document, target asset.OrientationTarget) ([]int16, error) {
	normals, err := readVecFloats(doc, target.NormalAccessor, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to read normals: %w", err)
	}
	var tangents []float32
	if target.TangentAccessor != nil {
		tangents, err = readVecFloats(doc, *target.TangentAccessor, 4)
		if err != nil {
			return nil, fmt.Errorf("failed to read tangents: %w", err)
		}
	}

	count := target.VertexCount
	if n := len(normals) / 3; n < count {
		count = n
	}
	out := make([]int16, count*4)
	for i := 0; i < count; i++ {
		n := mgl32.Vec3{normals[i*3], normals[i*3+1], normals[i*3+2]}
		t := perpendicular(n)
		handedness := float32(1)
		if tangents != nil && (i+1)*4 <= len(tangents) {
			t = mgl32.Vec3{tangents[i*4], tangents[i*4+1], tangents[i*4+2]}
			handedness = tangents[i*4+3]
		}
		q := packTangentFrame(tangentFrame(n, t))
		if handedness < 0 {
			// A mirrored frame rides in the sign of the quaternion; the
			// packing above guarantees the scalar part is strictly positive,
			// so the sign survives quantization.
			q = mgl32.Quat{W: -q.W, V: mgl32.Vec3{-q.V[0], -q.V[1], -q.V[2]}}
		}
		out[i*4+0] = common.PackSnorm16(q.V[0])
		out[i*4+1] = common.PackSnorm16(q.V[1])
		out[i*4+2] = common.PackSnorm16(q.V[2])
		out[i*4+3] = common.PackSnorm16(q.W)
	}
	return out, nil
}

// perpendicular picks a unit tangent orthogonal to n. The reference axis
// avoids the degenerate cross product when n is nearly vertical.
func perpendicular(n mgl32.Vec3) mgl32.Vec3 {
	axis := mgl32.Vec3{0, 1, 0}
	if abs32(n.Y()) > 0.99 {
		axis = mgl32.Vec3{1, 0, 0}
	}
	t := axis.Cross(n)
	if t.Len() < 1e-8 {
		return mgl32.Vec3{1, 0, 0}
	}
	return t.Normalize()
}

// tangentFrame builds a right-handed orthonormal basis matrix with columns
// (t, b, n). The tangent is re-orthogonalized against the normal and the
// bitangent derived from the pair, so the result is always a pure rotation.
func tangentFrame(n, t mgl32.Vec3) mgl32.Mat4 {
	n = safeNormalize(n, mgl32.Vec3{0, 0, 1})
	t = safeNormalize(t.Sub(n.Mul(n.Dot(t))), perpendicular(n))
	b := n.Cross(t)
	return mgl32.Mat4{
		t[0], t[1], t[2], 0,
		b[0], b[1], b[2], 0,
		n[0], n[1], n[2], 0,
		0, 0, 0, 1,
	}
}

// packTangentFrame converts a basis matrix to a unit quaternion whose scalar
// part is non-negative, so the sign bit stays free for handedness. The scalar
// is biased away from zero to survive snorm16 quantization.
func packTangentFrame(m mgl32.Mat4) mgl32.Quat {
	q := mgl32.Mat4ToQuat(m).Normalize()
	if q.W < 0 {
		q = mgl32.Quat{W: -q.W, V: mgl32.Vec3{-q.V[0], -q.V[1], -q.V[2]}}
	}
	const bias = 1.0 / 32767.0
	if q.W < bias {
		factor := float32(math.Sqrt(1 - bias*bias))
		q.W = bias
		q.V = q.V.Mul(factor)
	}
	return q
}

// readVecFloats reads a float accessor as a flat component slice, checking
// its element width.
func readVecFloats(doc *gltf.Document, accIdx uint32, components int) ([]float32, error) {
	acc := doc.Accessors[accIdx]
	if acc.ComponentType != gltf.ComponentFloat || asset.ComponentCount(acc.Type) != components {
		return nil, fmt.Errorf("accessor %d is not a %d-component float accessor", accIdx, components)
	}
	raw, err := asset.AccessorBytes(doc, acc)
	if err != nil {
		return nil, err
	}
	out := make([]float32, int(acc.Count)*components)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func safeNormalize(v, fallback mgl32.Vec3) mgl32.Vec3 {
	if v.Len() < 1e-8 {
		return fallback
	}
	return v.Normalize()
}
