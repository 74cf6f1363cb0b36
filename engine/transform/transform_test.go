package transform

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndValidity(t *testing.T) {
	m := NewManager()

	assert.False(t, m.Valid(InvalidInstance))

	root := m.Create(InvalidInstance)
	require.True(t, m.Valid(root))
	assert.Equal(t, mgl32.Ident4(), m.Transform(root))

	child := m.Create(root)
	assert.True(t, m.Valid(child))
	assert.Equal(t, 2, m.Count())
}

func TestWorldTransformWalksParentChain(t *testing.T) {
	m := NewManager()
	root := m.Create(InvalidInstance)
	mid := m.Create(root)
	leaf := m.Create(mid)

	m.SetTransform(root, mgl32.Translate3D(1, 0, 0))
	m.SetTransform(mid, mgl32.Translate3D(0, 2, 0))
	m.SetTransform(leaf, mgl32.Translate3D(0, 0, 3))

	world := m.WorldTransform(leaf)
	pos := world.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 1.0, pos.X(), 1e-6)
	assert.InDelta(t, 2.0, pos.Y(), 1e-6)
	assert.InDelta(t, 3.0, pos.Z(), 1e-6)
}

func TestWorldTransformAppliesRotationBeforeChildOffset(t *testing.T) {
	m := NewManager()
	root := m.Create(InvalidInstance)
	child := m.Create(root)

	// Parent scales by 2, child sits at +1 X, so the child's origin lands at
	// +2 X in world space.
	m.SetTransform(root, mgl32.Scale3D(2, 2, 2))
	m.SetTransform(child, mgl32.Translate3D(1, 0, 0))

	pos := m.WorldTransform(child).Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 2.0, pos.X(), 1e-6)
}

func TestSetParentReparents(t *testing.T) {
	m := NewManager()
	a := m.Create(InvalidInstance)
	b := m.Create(InvalidInstance)
	c := m.Create(a)

	m.SetTransform(a, mgl32.Translate3D(10, 0, 0))
	m.SetTransform(b, mgl32.Translate3D(0, 10, 0))

	m.SetParent(c, b)
	pos := m.WorldTransform(c).Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 0.0, pos.X(), 1e-6)
	assert.InDelta(t, 10.0, pos.Y(), 1e-6)
}

func TestInvalidInstanceIsInert(t *testing.T) {
	m := NewManager()
	m.SetTransform(InvalidInstance, mgl32.Translate3D(1, 2, 3))
	assert.Equal(t, mgl32.Ident4(), m.Transform(InvalidInstance))
	assert.Equal(t, mgl32.Ident4(), m.WorldTransform(InvalidInstance))
}
