package asset

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/Carmen-Shannon/oxy-gltf/common"
	"github.com/Carmen-Shannon/oxy-gltf/engine/renderable"
	"github.com/Carmen-Shannon/oxy-gltf/engine/renderer"
	"github.com/Carmen-Shannon/oxy-gltf/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// packedTangentSize is the per-vertex byte size of a packed tangent-frame
// quaternion, four snorm16 components.
const packedTangentSize = 8

// AssetOption configures asset construction.
type AssetOption func(*assetBuilder)

// WithBufferFactory supplies the factory used to create GPU vertex and index
// buffers for the document's primitives. Without a factory the asset carries
// no GPU bindings and only animation state is built.
func WithBufferFactory(factory renderer.BufferFactory) AssetOption {
	return func(b *assetBuilder) {
		b.factory = factory
	}
}

type assetBuilder struct {
	factory renderer.BufferFactory
}

// NewAsset builds the runtime state for a parsed glTF document: one transform
// instance per node, runtime skins with their target renderables, and the
// pending buffer and texture bindings the resource loader consumes.
//
// The asset starts holding one reference to the source document; release it
// with ReleaseSourceData once loading is done.
//
// Parameters:
//   - doc: the parsed document
//   - tm: transform manager that owns the node hierarchy
//   - rm: renderable manager that owns the skinning targets
//   - options: optional configuration
//
// Returns:
//   - Asset: the built asset
//   - error: error if the document references entities out of range or GPU
//     buffer creation fails
func NewAsset(doc *gltf.Document, tm transform.Manager, rm renderable.Manager, options ...AssetOption) (Asset, error) {
	var b assetBuilder
	for _, opt := range options {
		opt(&b)
	}

	a := &assetImpl{
		doc:            doc,
		refCount:       1,
		animationBlobs: make(map[uint32][]byte),
	}

	a.root = tm.Create(transform.InvalidInstance)
	if err := b.buildNodes(doc, tm, a); err != nil {
		return nil, err
	}
	if err := b.buildSkins(doc, rm, a); err != nil {
		return nil, err
	}
	if b.factory != nil {
		if err := b.buildPrimitives(doc, a); err != nil {
			return nil, err
		}
		b.buildTextures(doc, a)
	}
	b.buildAnimationBindings(doc, a)

	if err := a.ResolveInverseBindMatrices(); err != nil {
		return nil, err
	}
	return a, nil
}

func (b *assetBuilder) buildNodes(doc *gltf.Document, tm transform.Manager, a *assetImpl) error {
	a.instances = make([]transform.Instance, len(doc.Nodes))
	for i, node := range doc.Nodes {
		inst := tm.Create(a.root)
		tm.SetTransform(inst, nodeLocalTransform(node))
		a.instances[i] = inst
	}
	for i, node := range doc.Nodes {
		for _, child := range node.Children {
			if int(child) >= len(a.instances) {
				return fmt.Errorf("node %d references child %d out of range", i, child)
			}
			tm.SetParent(a.instances[child], a.instances[i])
		}
	}
	return nil
}

// nodeLocalTransform converts a node's authored transform to a matrix. A
// populated matrix wins over TRS; zero-valued rotation and scale fall back to
// their glTF defaults so hand-built documents behave like decoded ones.
func nodeLocalTransform(node *gltf.Node) mgl32.Mat4 {
	if m := node.Matrix; m != ([16]float32{}) && m != identityMatrix {
		return mgl32.Mat4(m)
	}

	rotation := node.Rotation
	if rotation == ([4]float32{}) {
		rotation = [4]float32{0, 0, 0, 1}
	}
	scale := node.Scale
	if scale == ([3]float32{}) {
		scale = [3]float32{1, 1, 1}
	}

	t := mgl32.Translate3D(node.Translation[0], node.Translation[1], node.Translation[2])
	r := mgl32.Quat{
		W: rotation[3],
		V: mgl32.Vec3{rotation[0], rotation[1], rotation[2]},
	}.Mat4()
	s := mgl32.Scale3D(scale[0], scale[1], scale[2])
	return t.Mul4(r).Mul4(s)
}

var identityMatrix = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

func (b *assetBuilder) buildSkins(doc *gltf.Document, rm renderable.Manager, a *assetImpl) error {
	if len(doc.Skins) == 0 {
		return nil
	}

	// Every node that pairs a mesh with a skin gets a renderable whose bone
	// palette the skin drives.
	targets := make(map[uint32][]renderable.Instance)
	for _, node := range doc.Nodes {
		if node.Mesh == nil || node.Skin == nil {
			continue
		}
		if int(*node.Skin) >= len(doc.Skins) {
			return fmt.Errorf("node %q references skin %d out of range", node.Name, *node.Skin)
		}
		targets[*node.Skin] = append(targets[*node.Skin], rm.Create())
	}

	a.skins = make([]Skin, len(doc.Skins))
	a.skinsResolved = make([]bool, len(doc.Skins))
	for i, src := range doc.Skins {
		joints := make([]transform.Instance, len(src.Joints))
		matrices := make([]mgl32.Mat4, len(src.Joints))
		for j, joint := range src.Joints {
			if int(joint) >= len(a.instances) {
				return fmt.Errorf("skin %q references joint node %d out of range", src.Name, joint)
			}
			joints[j] = a.instances[joint]
			matrices[j] = mgl32.Ident4()
		}
		a.skins[i] = Skin{
			Name:                src.Name,
			Joints:              joints,
			InverseBindMatrices: matrices,
			Targets:             targets[uint32(i)],
		}
	}
	return nil
}

func readInverseBindMatrices(doc *gltf.Document, acc *gltf.Accessor, jointCount int) ([]mgl32.Mat4, error) {
	if acc.Type != gltf.AccessorMat4 || acc.ComponentType != gltf.ComponentFloat {
		return nil, fmt.Errorf("inverse bind matrix accessor must be MAT4 float, got %v %v", acc.Type, acc.ComponentType)
	}
	raw, err := AccessorBytes(doc, acc)
	if err != nil {
		return nil, fmt.Errorf("failed to read inverse bind matrices: %w", err)
	}
	if int(acc.Count) < jointCount {
		return nil, fmt.Errorf("inverse bind matrix accessor holds %d matrices for %d joints", acc.Count, jointCount)
	}

	matrices := make([]mgl32.Mat4, jointCount)
	for i := range matrices {
		var m mgl32.Mat4
		for c := 0; c < 16; c++ {
			bits := binary.LittleEndian.Uint32(raw[(i*16+c)*4:])
			m[c] = math.Float32frombits(bits)
		}
		matrices[i] = m
	}
	return matrices, nil
}

func (b *assetBuilder) buildPrimitives(doc *gltf.Document, a *assetImpl) error {
	// Orientation regions are copied into one CPU arena; size it first.
	var orientationSize uint32
	type slotPlan struct {
		name string
		acc  uint32
		size uint64
	}

	for mi, mesh := range doc.Meshes {
		for pi, prim := range mesh.Primitives {
			label := fmt.Sprintf("%s/prim%d", meshLabel(mesh, mi), pi)

			names := make([]string, 0, len(prim.Attributes))
			for name := range prim.Attributes {
				if name == "TANGENT" {
					// Tangents feed the packed orientation quaternions and
					// never get a slot of their own.
					continue
				}
				names = append(names, name)
			}
			sort.Strings(names)

			plans := make([]slotPlan, 0, len(names))
			normalSlot := -1
			var normalAcc uint32
			var vertexCount int
			for _, name := range names {
				accIdx := prim.Attributes[name]
				if int(accIdx) >= len(doc.Accessors) {
					return fmt.Errorf("primitive %s attribute %s references accessor %d out of range", label, name, accIdx)
				}
				acc := doc.Accessors[accIdx]
				if name == "NORMAL" {
					normalSlot = len(plans)
					normalAcc = accIdx
					vertexCount = int(acc.Count)
					plans = append(plans, slotPlan{name: name, acc: accIdx, size: uint64(acc.Count) * packedTangentSize})
					continue
				}
				_, _, size, err := accessorRegion(doc, acc)
				if err != nil {
					common.LogWarn("skipping attribute", "primitive", label, "attribute", name, "error", err)
					continue
				}
				plans = append(plans, slotPlan{name: name, acc: accIdx, size: uint64(size)})
			}
			if len(plans) == 0 {
				continue
			}

			sizes := make([]uint64, len(plans))
			for i, p := range plans {
				sizes[i] = p.size
			}
			vb, err := b.factory.CreateVertexBuffer(label, sizes)
			if err != nil {
				return fmt.Errorf("failed to create vertex buffer %s: %w", label, err)
			}

			for slot, p := range plans {
				if slot == normalSlot {
					continue
				}
				acc := doc.Accessors[p.acc]
				buffer, offset, size, err := accessorRegion(doc, acc)
				if err != nil {
					continue
				}
				a.bufferBindings = append(a.bufferBindings, &BufferBinding{
					URI:          doc.Buffers[buffer].URI,
					SourceBuffer: buffer,
					Offset:       offset,
					Size:         size,
					Slot:         slot,
					VertexBuffer: vb,
				})
			}

			if normalSlot >= 0 {
				tangentAcc := b.bindOrientation(doc, a, prim, normalAcc, &orientationSize)
				a.orientationTargets = append(a.orientationTargets, OrientationTarget{
					VertexBuffer:    vb,
					Slot:            normalSlot,
					NormalAccessor:  normalAcc,
					TangentAccessor: tangentAcc,
					VertexCount:     vertexCount,
				})
			}

			if prim.Indices != nil {
				if err := b.bindIndices(doc, a, prim, label); err != nil {
					return err
				}
			}
		}
	}
	a.orientationArena = make([]byte, orientationSize)

	// The arena is sized after the bindings are planned, so the destination
	// slices are carved out in a second pass over the recorded extents.
	var cursor uint32
	for _, binding := range a.bufferBindings {
		if binding.OrientationBuffer == nil {
			continue
		}
		binding.OrientationBuffer = a.orientationArena[cursor : cursor+binding.Size]
		cursor += binding.Size
	}
	return nil
}

// orientationPlaceholder marks a binding as orientation-destined until the
// arena is allocated.
var orientationPlaceholder = []byte{}

// bindOrientation records CPU-copy bindings for the normal and tangent source
// regions that feed a primitive's packed orientation quaternions. Returns the
// tangent accessor index, or nil when the primitive has normals only.
func (b *assetBuilder) bindOrientation(doc *gltf.Document, a *assetImpl, prim *gltf.Primitive, normalAcc uint32, total *uint32) *uint32 {
	addRegion := func(accIdx uint32) {
		acc := doc.Accessors[accIdx]
		buffer, offset, size, err := accessorRegion(doc, acc)
		if err != nil {
			return
		}
		a.bufferBindings = append(a.bufferBindings, &BufferBinding{
			URI:               doc.Buffers[buffer].URI,
			SourceBuffer:      buffer,
			Offset:            offset,
			Size:              size,
			OrientationBuffer: orientationPlaceholder,
		})
		*total += size
	}

	addRegion(normalAcc)
	if tangent, ok := prim.Attributes["TANGENT"]; ok && int(tangent) < len(doc.Accessors) {
		addRegion(tangent)
		t := tangent
		return &t
	}
	return nil
}

func (b *assetBuilder) bindIndices(doc *gltf.Document, a *assetImpl, prim *gltf.Primitive, label string) error {
	if int(*prim.Indices) >= len(doc.Accessors) {
		return fmt.Errorf("primitive %s references index accessor %d out of range", label, *prim.Indices)
	}
	acc := doc.Accessors[*prim.Indices]
	buffer, offset, size, err := accessorRegion(doc, acc)
	if err != nil {
		return fmt.Errorf("failed to locate index data for %s: %w", label, err)
	}
	ib, err := b.factory.CreateIndexBuffer(label+"/indices", uint64(size), int(acc.Count))
	if err != nil {
		return fmt.Errorf("failed to create index buffer %s: %w", label, err)
	}
	a.bufferBindings = append(a.bufferBindings, &BufferBinding{
		URI:          doc.Buffers[buffer].URI,
		SourceBuffer: buffer,
		Offset:       offset,
		Size:         size,
		IndexBuffer:  ib,
	})
	return nil
}

func (b *assetBuilder) buildTextures(doc *gltf.Document, a *assetImpl) {
	for _, img := range doc.Images {
		binding := &TextureBinding{
			URI:      img.URI,
			MimeType: img.MimeType,
		}
		if img.BufferView != nil {
			bv := *img.BufferView
			binding.BufferView = &bv
		}
		a.textureBindings = append(a.textureBindings, binding)
	}
}

// buildAnimationBindings retains a CPU copy of every source buffer referenced
// by an animation sampler. The whole buffer is copied once no matter how many
// samplers point into it; the animator samples from the copy after the source
// document is released.
func (b *assetBuilder) buildAnimationBindings(doc *gltf.Document, a *assetImpl) {
	referenced := make(map[uint32]bool)
	mark := func(accIdx uint32) {
		if int(accIdx) >= len(doc.Accessors) {
			return
		}
		acc := doc.Accessors[accIdx]
		if acc.BufferView == nil || int(*acc.BufferView) >= len(doc.BufferViews) {
			return
		}
		referenced[doc.BufferViews[*acc.BufferView].Buffer] = true
	}
	for _, anim := range doc.Animations {
		for _, sampler := range anim.Samplers {
			mark(sampler.Input)
			mark(sampler.Output)
		}
	}

	buffers := make([]uint32, 0, len(referenced))
	for idx := range referenced {
		buffers = append(buffers, idx)
	}
	sort.Slice(buffers, func(i, j int) bool { return buffers[i] < buffers[j] })

	for _, idx := range buffers {
		buf := doc.Buffers[idx]
		blob := make([]byte, buf.ByteLength)
		a.animationBlobs[idx] = blob
		a.bufferBindings = append(a.bufferBindings, &BufferBinding{
			URI:             buf.URI,
			SourceBuffer:    idx,
			Offset:          0,
			Size:            buf.ByteLength,
			AnimationBuffer: blob,
		})
	}
}

func meshLabel(mesh *gltf.Mesh, index int) string {
	if mesh.Name != "" {
		return mesh.Name
	}
	return fmt.Sprintf("mesh%d", index)
}
