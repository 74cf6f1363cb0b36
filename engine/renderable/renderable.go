package renderable

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-gltf/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Instance is a handle to a renderable target: something that consumes a bone
// matrix palette each frame, typically a skinned mesh primitive. The zero
// value is invalid.
type Instance int

// InvalidInstance is the zero handle.
const InvalidInstance Instance = 0

// manager is the implementation of the Manager interface.
type manager struct {
	mu sync.RWMutex

	// bones[0] is a sentinel for InvalidInstance so handles index directly.
	bones [][]mgl32.Mat4
}

// Manager owns the renderable targets of loaded assets. Its only
// responsibility in this module is receiving bone matrix palettes from the
// skinning updater and staging them for GPU consumption.
type Manager interface {
	// Create allocates a new renderable target with no bone data.
	//
	// Returns:
	//   - Instance: the handle of the new target
	Create() Instance

	// SetBones replaces the bone matrix palette of a target. The matrices are
	// copied, so the caller may reuse its slice across frames.
	//
	// Parameters:
	//   - i: the target
	//   - bones: the bone matrices, one per skin joint, index aligned
	SetBones(i Instance, bones []mgl32.Mat4)

	// Bones returns the current bone matrix palette of a target. The returned
	// slice is owned by the manager; callers must not modify it.
	//
	// Parameters:
	//   - i: the target to read
	//
	// Returns:
	//   - []mgl32.Mat4: the bone palette, or nil for an invalid handle
	Bones(i Instance) []mgl32.Mat4

	// BoneBytes returns the bone palette of a target as raw bytes suitable
	// for a GPU buffer write (column-major float32, 64 bytes per matrix).
	//
	// Parameters:
	//   - i: the target to read
	//
	// Returns:
	//   - []byte: byte view of the bone palette, or nil
	BoneBytes(i Instance) []byte

	// Valid reports whether a handle refers to a live target.
	//
	// Parameters:
	//   - i: the handle to check
	//
	// Returns:
	//   - bool: true when the handle was produced by Create
	Valid(i Instance) bool
}

var _ Manager = &manager{}

// NewManager creates an empty renderable target store.
//
// Returns:
//   - Manager: a new renderable manager
func NewManager() Manager {
	return &manager{
		bones: make([][]mgl32.Mat4, 1),
	}
}

func (m *manager) Create() Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bones = append(m.bones, nil)
	return Instance(len(m.bones) - 1)
}

func (m *manager) SetBones(i Instance, bones []mgl32.Mat4) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.valid(i) {
		return
	}
	if cap(m.bones[i]) < len(bones) {
		m.bones[i] = make([]mgl32.Mat4, len(bones))
	}
	m.bones[i] = m.bones[i][:len(bones)]
	copy(m.bones[i], bones)
}

func (m *manager) Bones(i Instance) []mgl32.Mat4 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.valid(i) {
		return nil
	}
	return m.bones[i]
}

func (m *manager) BoneBytes(i Instance) []byte {
	return common.SliceToBytes(m.Bones(i))
}

func (m *manager) Valid(i Instance) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valid(i)
}

// valid must be called with the lock held.
func (m *manager) valid(i Instance) bool {
	return i > 0 && int(i) < len(m.bones)
}
