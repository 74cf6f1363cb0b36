package asset

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-gltf/engine/renderable"
	"github.com/Carmen-Shannon/oxy-gltf/engine/renderer"
	"github.com/Carmen-Shannon/oxy-gltf/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// BufferBinding describes one pending upload: a region of a source buffer and
// the single destination that region feeds. Exactly one of the destination
// fields is set on a well-formed binding.
type BufferBinding struct {
	// URI identifies the source buffer for diagnostics. Empty for GLB-embedded
	// buffers.
	URI string

	// SourceBuffer is the index of the source buffer in the document.
	SourceBuffer uint32

	// Offset is the byte offset of the region within the source buffer.
	Offset uint32

	// Size is the byte length of the region.
	Size uint32

	// Slot is the vertex attribute slot, meaningful only when VertexBuffer is
	// set.
	Slot int

	// VertexBuffer is the GPU vertex buffer destination, if any.
	VertexBuffer renderer.VertexBuffer

	// IndexBuffer is the GPU index buffer destination, if any.
	IndexBuffer renderer.IndexBuffer

	// AnimationBuffer is the CPU animation block destination, if any. The
	// slice aliases the asset's animation arena.
	AnimationBuffer []byte

	// OrientationBuffer is the CPU orientation block destination, if any.
	OrientationBuffer []byte
}

// DestinationCount reports how many destinations the binding carries. A
// well-formed binding has exactly one.
func (b *BufferBinding) DestinationCount() int {
	n := 0
	if b.VertexBuffer != nil {
		n++
	}
	if b.IndexBuffer != nil {
		n++
	}
	if b.AnimationBuffer != nil {
		n++
	}
	if b.OrientationBuffer != nil {
		n++
	}
	return n
}

// TextureBinding describes one pending texture decode: either embedded bytes
// or a URI to resolve against the loader's base path.
type TextureBinding struct {
	URI      string
	MimeType string

	// BufferView indexes the buffer view holding embedded image bytes, or nil
	// when the image must be resolved through URI. The loader slices the
	// bytes out after buffer resolution.
	BufferView *uint32
}

// Skin is the runtime form of one glTF skin: joint transform instances, the
// inverse bind matrix per joint, and the renderables whose bone palettes the
// skin drives.
type Skin struct {
	Name                string
	Joints              []transform.Instance
	InverseBindMatrices []mgl32.Mat4
	Targets             []renderable.Instance
}

// OrientationTarget names a vertex buffer slot that receives packed
// tangent-frame quaternions computed from the primitive's normals and
// tangents.
type OrientationTarget struct {
	VertexBuffer renderer.VertexBuffer
	Slot         int

	// NormalAccessor indexes the VEC3 normal accessor in the document.
	NormalAccessor uint32

	// TangentAccessor indexes the VEC4 tangent accessor, or nil when the
	// primitive has normals only.
	TangentAccessor *uint32

	VertexCount int
}

// Asset is the runtime state built from one parsed glTF document: transform
// instances per node, skins, and pending buffer and texture bindings for the
// resource loader to consume.
//
// The source document stays attached until every holder releases it; the
// animator and the loader each acquire it for as long as they need accessor
// metadata.
type Asset interface {
	// Document returns the source document, or nil once the last holder has
	// released it.
	//
	// Returns:
	//   - *gltf.Document: the parsed document, or nil after release
	Document() *gltf.Document

	// Instance returns the transform instance created for a document node.
	//
	// Parameters:
	//   - node: index of the node in the document
	//
	// Returns:
	//   - transform.Instance: the node's transform instance, or
	//     transform.InvalidInstance for an out-of-range index
	Instance(node uint32) transform.Instance

	// Root returns the transform instance that parents every scene root node.
	//
	// Returns:
	//   - transform.Instance: the asset root
	Root() transform.Instance

	// Skins returns the runtime skins in document order.
	//
	// Returns:
	//   - []Skin: the skins, empty when the document has none
	Skins() []Skin

	// BufferBindings returns the pending buffer bindings. The loader consumes
	// these once; they are cleared by ReleaseSourceData.
	//
	// Returns:
	//   - []*BufferBinding: pending bindings
	BufferBindings() []*BufferBinding

	// TextureBindings returns the pending texture bindings.
	//
	// Returns:
	//   - []*TextureBinding: pending texture bindings
	TextureBindings() []*TextureBinding

	// OrientationTargets returns the vertex buffer slots that need packed
	// tangent-frame quaternions.
	//
	// Returns:
	//   - []OrientationTarget: orientation work items
	OrientationTargets() []OrientationTarget

	// AnimationBlob returns the CPU copy of a source buffer retained for
	// animation sampling, or nil when the buffer was never copied.
	//
	// Parameters:
	//   - buffer: index of the source buffer in the document
	//
	// Returns:
	//   - []byte: the retained copy, or nil
	AnimationBlob(buffer uint32) []byte

	// AcquireSourceDoc adds a holder of the source document.
	AcquireSourceDoc()

	// ReleaseSourceDoc drops one holder of the source document. When the last
	// holder releases, the document is detached and becomes collectable.
	ReleaseSourceDoc()

	// ReleaseSourceData drops the creation hold on the source document and
	// clears the pending binding lists. Call once resource loading has
	// finished.
	ReleaseSourceData()

	// ResolveInverseBindMatrices reads inverse bind matrices for every skin
	// whose accessor data is now available. Safe to call more than once;
	// already-resolved skins are skipped.
	//
	// Returns:
	//   - error: error if a matrix accessor is malformed
	ResolveInverseBindMatrices() error
}

var _ Asset = &assetImpl{}

type assetImpl struct {
	mu sync.Mutex

	doc      *gltf.Document
	refCount int

	root      transform.Instance
	instances []transform.Instance

	skins         []Skin
	skinsResolved []bool

	bufferBindings  []*BufferBinding
	textureBindings []*TextureBinding

	orientationTargets []OrientationTarget

	// animationBlobs holds one retained copy per source buffer referenced by
	// an animation sampler, keyed by buffer index. The pending animation
	// bindings point into these slices.
	animationBlobs map[uint32][]byte

	// orientationArena backs the OrientationBuffer destinations.
	orientationArena []byte
}

func (a *assetImpl) Document() *gltf.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc
}

func (a *assetImpl) Instance(node uint32) transform.Instance {
	if int(node) >= len(a.instances) {
		return transform.InvalidInstance
	}
	return a.instances[node]
}

func (a *assetImpl) Root() transform.Instance {
	return a.root
}

func (a *assetImpl) Skins() []Skin {
	return a.skins
}

func (a *assetImpl) BufferBindings() []*BufferBinding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bufferBindings
}

func (a *assetImpl) TextureBindings() []*TextureBinding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.textureBindings
}

func (a *assetImpl) OrientationTargets() []OrientationTarget {
	return a.orientationTargets
}

func (a *assetImpl) AnimationBlob(buffer uint32) []byte {
	return a.animationBlobs[buffer]
}

func (a *assetImpl) AcquireSourceDoc() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refCount++
}

func (a *assetImpl) ReleaseSourceDoc() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refCount == 0 {
		return
	}
	a.refCount--
	if a.refCount == 0 {
		a.doc = nil
	}
}

func (a *assetImpl) ReleaseSourceData() {
	a.mu.Lock()
	a.bufferBindings = nil
	a.textureBindings = nil
	a.mu.Unlock()
	a.ReleaseSourceDoc()
}

func (a *assetImpl) ResolveInverseBindMatrices() error {
	a.mu.Lock()
	doc := a.doc
	a.mu.Unlock()
	if doc == nil {
		return nil
	}

	for i := range a.skins {
		if a.skinsResolved[i] {
			continue
		}
		src := doc.Skins[i]
		if src.InverseBindMatrices == nil {
			a.skinsResolved[i] = true
			continue
		}
		acc := doc.Accessors[*src.InverseBindMatrices]
		if acc.BufferView != nil && len(doc.Buffers[doc.BufferViews[*acc.BufferView].Buffer].Data) == 0 {
			// Buffer not resolved yet; try again after loading.
			continue
		}
		matrices, err := readInverseBindMatrices(doc, acc, len(a.skins[i].Joints))
		if err != nil {
			return err
		}
		a.skins[i].InverseBindMatrices = matrices
		a.skinsResolved[i] = true
	}
	return nil
}
