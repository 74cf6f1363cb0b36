package transform

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Instance is a handle to a single entry in the transform graph.
// The zero value is invalid; valid handles are only produced by Manager.Create.
type Instance int

// InvalidInstance is the zero handle. Manager methods treat it as a no-op
// target and return identity matrices for it.
const InvalidInstance Instance = 0

// entry is the storage backing one transform-graph node.
type entry struct {
	local  mgl32.Mat4
	parent Instance
}

// manager is the implementation of the Manager interface.
type manager struct {
	mu sync.RWMutex

	// entries[0] is a sentinel for InvalidInstance so handles index directly.
	entries []entry
}

// Manager owns the transform graph: a flat store of local 4x4 matrices with
// parent links, addressed by Instance handles. It is the single mutable
// transform state shared between the animation evaluator (writer) and the
// skinning updater (reader); within a frame the evaluator must finish
// writing before the updater reads, and the Manager performs no
// synchronization between the two beyond guarding its own storage.
type Manager interface {
	// Create allocates a new transform-graph entry with an identity local
	// transform and the given parent.
	//
	// Parameters:
	//   - parent: the parent instance, or InvalidInstance for a root entry
	//
	// Returns:
	//   - Instance: the handle of the new entry
	Create(parent Instance) Instance

	// SetParent re-parents an entry. Passing InvalidInstance detaches it.
	//
	// Parameters:
	//   - i: the entry to re-parent
	//   - parent: the new parent, or InvalidInstance
	SetParent(i, parent Instance)

	// SetTransform replaces the local transform of an entry. This is the
	// write half of the per-frame animation contract: the evaluator calls it
	// once per animated channel, overwriting whatever was stored before.
	//
	// Parameters:
	//   - i: the target entry
	//   - local: the new local transform
	SetTransform(i Instance, local mgl32.Mat4)

	// Transform returns the local transform of an entry.
	//
	// Parameters:
	//   - i: the entry to read
	//
	// Returns:
	//   - mgl32.Mat4: the local transform, or identity for an invalid handle
	Transform(i Instance) mgl32.Mat4

	// WorldTransform returns the world transform of an entry: the product of
	// every local transform on the path from the root down to the entry.
	// It is computed on demand by walking the parent chain.
	//
	// Parameters:
	//   - i: the entry to read
	//
	// Returns:
	//   - mgl32.Mat4: the world transform, or identity for an invalid handle
	WorldTransform(i Instance) mgl32.Mat4

	// Valid reports whether a handle refers to a live entry.
	//
	// Parameters:
	//   - i: the handle to check
	//
	// Returns:
	//   - bool: true when the handle was produced by Create
	Valid(i Instance) bool

	// Count returns the number of live entries in the graph.
	//
	// Returns:
	//   - int: the entry count
	Count() int
}

var _ Manager = &manager{}

// NewManager creates an empty transform graph.
//
// Returns:
//   - Manager: a new transform graph manager
func NewManager() Manager {
	return &manager{
		entries: []entry{{local: mgl32.Ident4()}},
	}
}

func (m *manager) Create(parent Instance) Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry{
		local:  mgl32.Ident4(),
		parent: parent,
	})
	return Instance(len(m.entries) - 1)
}

func (m *manager) SetParent(i, parent Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.valid(i) {
		return
	}
	m.entries[i].parent = parent
}

func (m *manager) SetTransform(i Instance, local mgl32.Mat4) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.valid(i) {
		return
	}
	m.entries[i].local = local
}

func (m *manager) Transform(i Instance) mgl32.Mat4 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.valid(i) {
		return mgl32.Ident4()
	}
	return m.entries[i].local
}

func (m *manager) WorldTransform(i Instance) mgl32.Mat4 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.valid(i) {
		return mgl32.Ident4()
	}

	world := m.entries[i].local
	for p := m.entries[i].parent; p != InvalidInstance && m.valid(p); p = m.entries[p].parent {
		world = m.entries[p].local.Mul4(world)
	}
	return world
}

func (m *manager) Valid(i Instance) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valid(i)
}

func (m *manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries) - 1
}

// valid must be called with the lock held.
func (m *manager) valid(i Instance) bool {
	return i > 0 && int(i) < len(m.entries)
}
