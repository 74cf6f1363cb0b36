package loader

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Carmen-Shannon/oxy-gltf/common"
	"github.com/Carmen-Shannon/oxy-gltf/engine/asset"
	"github.com/Carmen-Shannon/oxy-gltf/engine/renderable"
	"github.com/Carmen-Shannon/oxy-gltf/engine/renderer"
	"github.com/Carmen-Shannon/oxy-gltf/engine/transform"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32(v uint32) *uint32 {
	return &v
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

type fakeVertexBuffer struct {
	label string
	slots int
}

func (f *fakeVertexBuffer) SlotCount() int { return f.slots }

type fakeIndexBuffer struct {
	label string
	count int
}

func (f *fakeIndexBuffer) IndexCount() int { return f.count }

// fakeBackend records uploads. Callbacks fire synchronously unless deferred,
// in which case Flush replays them.
type fakeBackend struct {
	mu       sync.Mutex
	deferred bool

	vertexData map[renderer.VertexBuffer]map[int][]byte
	indexData  map[renderer.IndexBuffer][]byte
	pending    []func()
	uploads    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		vertexData: make(map[renderer.VertexBuffer]map[int][]byte),
		indexData:  make(map[renderer.IndexBuffer][]byte),
	}
}

func (f *fakeBackend) CreateVertexBuffer(label string, slotSizes []uint64) (renderer.VertexBuffer, error) {
	return &fakeVertexBuffer{label: label, slots: len(slotSizes)}, nil
}

func (f *fakeBackend) CreateIndexBuffer(label string, size uint64, indexCount int) (renderer.IndexBuffer, error) {
	return &fakeIndexBuffer{label: label, count: indexCount}, nil
}

func (f *fakeBackend) SetVertexBufferAt(vb renderer.VertexBuffer, slot int, bd renderer.BufferDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vertexData[vb] == nil {
		f.vertexData[vb] = make(map[int][]byte)
	}
	f.vertexData[vb][slot] = append([]byte(nil), bd.Data...)
	f.uploads++
	return f.finish(bd)
}

func (f *fakeBackend) SetIndexBuffer(ib renderer.IndexBuffer, bd renderer.BufferDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexData[ib] = append([]byte(nil), bd.Data...)
	f.uploads++
	return f.finish(bd)
}

func (f *fakeBackend) finish(bd renderer.BufferDescriptor) error {
	if f.deferred {
		f.pending = append(f.pending, bd.Callback)
		return nil
	}
	if bd.Callback != nil {
		bd.Callback()
	}
	return nil
}

func (f *fakeBackend) Flush() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, cb := range pending {
		cb()
	}
}

// meshDoc builds a single-primitive document with positions, an extra UV
// attribute, and uint16 indices, all decoded in place.
func meshDoc() *gltf.Document {
	positions := common.SliceToBytes([]float32{0, 0, 0, 1, 0, 0, 0, 1, 0})
	uvs := common.SliceToBytes([]float32{0, 0, 1, 0, 0, 1})
	indices := common.SliceToBytes([]uint16{0, 1, 2})
	data := append(append(append([]byte(nil), positions...), uvs...), indices...)

	return &gltf.Document{
		Buffers: []*gltf.Buffer{{ByteLength: uint32(len(data)), Data: data}},
		BufferViews: []*gltf.BufferView{
			{Buffer: 0, ByteOffset: 0, ByteLength: uint32(len(positions))},
			{Buffer: 0, ByteOffset: uint32(len(positions)), ByteLength: uint32(len(uvs))},
			{Buffer: 0, ByteOffset: uint32(len(positions) + len(uvs)), ByteLength: uint32(len(indices))},
		},
		Accessors: []*gltf.Accessor{
			{BufferView: u32(0), Count: 3, ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3},
			{BufferView: u32(1), Count: 3, ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec2},
			{BufferView: u32(2), Count: 3, ComponentType: gltf.ComponentUshort, Type: gltf.AccessorScalar},
		},
		Meshes: []*gltf.Mesh{
			{
				Name: "tri",
				Primitives: []*gltf.Primitive{
					{
						Attributes: map[string]uint32{"POSITION": 0, "TEXCOORD_0": 1},
						Indices:    u32(2),
					},
				},
			},
		},
		Nodes: []*gltf.Node{{Name: "n", Mesh: u32(0)}},
	}
}

func buildAsset(t *testing.T, doc *gltf.Document, factory renderer.BufferFactory) asset.Asset {
	t.Helper()
	opts := []asset.AssetOption{}
	if factory != nil {
		opts = append(opts, asset.WithBufferFactory(factory))
	}
	a, err := asset.NewAsset(doc, transform.NewManager(), renderable.NewManager(), opts...)
	require.NoError(t, err)
	return a
}

func TestBlobCacheReleaseOrderings(t *testing.T) {
	run := func(t *testing.T, order func(c *blobCache)) int32 {
		t.Helper()
		var released atomic.Int32
		c := newBlobCache(func() { released.Add(1) })
		order(c)
		return released.Load()
	}

	t.Run("uploads finish before destroy", func(t *testing.T) {
		n := run(t, func(c *blobCache) {
			c.addPending(2)
			c.onUploadComplete()
			c.onUploadComplete()
			c.onLoaderDestroyed()
		})
		assert.Equal(t, int32(1), n)
	})

	t.Run("destroy before uploads finish", func(t *testing.T) {
		var released atomic.Int32
		c := newBlobCache(func() { released.Add(1) })
		c.addPending(2)
		c.onLoaderDestroyed()
		c.onUploadComplete()
		assert.Equal(t, int32(0), released.Load(), "one upload still in flight")
		c.onUploadComplete()
		assert.Equal(t, int32(1), released.Load())
	})

	t.Run("no uploads at all", func(t *testing.T) {
		n := run(t, func(c *blobCache) {
			c.onLoaderDestroyed()
		})
		assert.Equal(t, int32(1), n)
	})

	t.Run("concurrent completions release once", func(t *testing.T) {
		var released atomic.Int32
		c := newBlobCache(func() { released.Add(1) })
		const uploads = 64
		c.addPending(uploads)
		c.onLoaderDestroyed()

		var wg sync.WaitGroup
		for i := 0; i < uploads; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.onUploadComplete()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), released.Load())
	})
}

func TestLoadResourcesUploadsMeshData(t *testing.T) {
	doc := meshDoc()
	backend := newFakeBackend()
	a := buildAsset(t, doc, backend)

	l := NewResourceLoader(backend)
	require.NoError(t, l.LoadResources(a))

	// POSITION and TEXCOORD_0 each land in their own slot, sorted by name.
	var vb renderer.VertexBuffer
	for _, binding := range a.BufferBindings() {
		if binding.VertexBuffer != nil {
			vb = binding.VertexBuffer
			break
		}
	}
	require.NotNil(t, vb)
	assert.Equal(t, common.SliceToBytes([]float32{0, 0, 0, 1, 0, 0, 0, 1, 0}), backend.vertexData[vb][0])
	assert.Equal(t, common.SliceToBytes([]float32{0, 0, 1, 0, 0, 1}), backend.vertexData[vb][1])

	require.Len(t, backend.indexData, 1)
	for ib, data := range backend.indexData {
		assert.Equal(t, 3, ib.IndexCount())
		assert.Equal(t, common.SliceToBytes([]uint16{0, 1, 2}), data)
	}

	// All uploads completed synchronously, so destroying the loader releases
	// the retained source data.
	assert.NotNil(t, a.Document())
	l.Destroy()
	assert.Nil(t, a.Document())
	assert.Nil(t, a.BufferBindings())
}

func TestLoadResourcesReleasesAtLaterOfCompletionAndDestroy(t *testing.T) {
	t.Run("destroy first", func(t *testing.T) {
		doc := meshDoc()
		backend := newFakeBackend()
		backend.deferred = true
		a := buildAsset(t, doc, backend)

		l := NewResourceLoader(backend)
		require.NoError(t, l.LoadResources(a))

		l.Destroy()
		assert.NotNil(t, a.Document(), "uploads still in flight")

		backend.Flush()
		assert.Nil(t, a.Document())
	})

	t.Run("uploads first", func(t *testing.T) {
		doc := meshDoc()
		backend := newFakeBackend()
		backend.deferred = true
		a := buildAsset(t, doc, backend)

		l := NewResourceLoader(backend)
		require.NoError(t, l.LoadResources(a))

		backend.Flush()
		assert.NotNil(t, a.Document(), "loader still alive")

		l.Destroy()
		assert.Nil(t, a.Document())
	})
}

func TestLoadResourcesRejectsMalformedBinding(t *testing.T) {
	doc := meshDoc()
	backend := newFakeBackend()
	a := buildAsset(t, doc, backend)

	// Give the first binding a second destination.
	bindings := a.BufferBindings()
	require.NotEmpty(t, bindings)
	bindings[0].IndexBuffer = &fakeIndexBuffer{count: 1}
	bindings[0].VertexBuffer = nil
	bindings[0].AnimationBuffer = []byte{0}

	l := NewResourceLoader(backend)
	err := l.LoadResources(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destinations")
	assert.Zero(t, backend.uploads, "nothing may dispatch after a malformed binding")

	// Zero destinations fails the same way.
	bindings[0].IndexBuffer = nil
	bindings[0].AnimationBuffer = nil
	err = l.LoadResources(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destinations")
}

func TestLoadResourcesRejectsBindingPastBufferEnd(t *testing.T) {
	doc := meshDoc()
	backend := newFakeBackend()
	a := buildAsset(t, doc, backend)

	// An offset near the top of the uint32 range would wrap if the bounds
	// check added in 32 bits.
	bindings := a.BufferBindings()
	require.NotEmpty(t, bindings)
	bindings[0].Offset = math.MaxUint32 - 15
	bindings[0].Size = 32

	l := NewResourceLoader(backend)
	err := l.LoadResources(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "past end")
	assert.Zero(t, backend.uploads, "nothing may dispatch after an out-of-range binding")
}

func TestLoadResourcesResolvesDataURI(t *testing.T) {
	times := common.SliceToBytes([]float32{0, 1})
	values := common.SliceToBytes([]float32{0, 0, 0, 1, 1, 1})
	raw := append(append([]byte(nil), times...), values...)

	doc := &gltf.Document{
		Buffers: []*gltf.Buffer{
			{
				ByteLength: uint32(len(raw)),
				URI:        "data:application/octet-stream;base64," + base64Encode(raw),
			},
		},
		BufferViews: []*gltf.BufferView{
			{Buffer: 0, ByteOffset: 0, ByteLength: uint32(len(raw))},
		},
		Accessors: []*gltf.Accessor{
			{BufferView: u32(0), Count: 2, ComponentType: gltf.ComponentFloat, Type: gltf.AccessorScalar},
			{BufferView: u32(0), ByteOffset: 8, Count: 2, ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3},
		},
		Nodes: []*gltf.Node{{Name: "n"}},
		Animations: []*gltf.Animation{
			{
				Samplers: []*gltf.AnimationSampler{
					{Input: 0, Output: 1, Interpolation: gltf.InterpolationLinear},
				},
				Channels: []*gltf.Channel{
					{Sampler: u32(0), Target: gltf.ChannelTarget{Node: u32(0), Path: gltf.TRSTranslation}},
				},
			},
		},
	}
	a := buildAsset(t, doc, nil)

	l := NewResourceLoader(newFakeBackend())
	require.NoError(t, l.LoadResources(a))

	assert.Equal(t, raw, a.AnimationBlob(0), "animation copy must match the decoded data uri")
}

func TestLoadResourcesMissingBufferFails(t *testing.T) {
	doc := &gltf.Document{
		Buffers: []*gltf.Buffer{{ByteLength: 16, URI: "does-not-exist.bin"}},
	}
	a := buildAsset(t, doc, nil)

	l := NewResourceLoader(newFakeBackend(), WithBasePath(t.TempDir()))
	assert.Error(t, l.LoadResources(a))
}

func TestLoadResourcesTextureDecode(t *testing.T) {
	encode := func(t *testing.T) []byte {
		t.Helper()
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
		return buf.Bytes()
	}

	t.Run("valid embedded image", func(t *testing.T) {
		pngData := encode(t)
		doc := &gltf.Document{
			Buffers: []*gltf.Buffer{{ByteLength: uint32(len(pngData)), Data: pngData}},
			BufferViews: []*gltf.BufferView{
				{Buffer: 0, ByteOffset: 0, ByteLength: uint32(len(pngData))},
			},
			Images: []*gltf.Image{{MimeType: "image/png", BufferView: u32(0)}},
			Meshes: []*gltf.Mesh{{Name: "m"}},
		}
		backend := newFakeBackend()
		a := buildAsset(t, doc, backend)

		l := NewResourceLoader(backend)
		assert.NoError(t, l.LoadResources(a))
	})

	t.Run("corrupt image fails the load", func(t *testing.T) {
		junk := []byte("not an image at all")
		doc := &gltf.Document{
			Buffers: []*gltf.Buffer{{ByteLength: uint32(len(junk)), Data: junk}},
			BufferViews: []*gltf.BufferView{
				{Buffer: 0, ByteOffset: 0, ByteLength: uint32(len(junk))},
			},
			Images: []*gltf.Image{{MimeType: "image/png", BufferView: u32(0)}},
		}
		backend := newFakeBackend()
		a := buildAsset(t, doc, backend)

		l := NewResourceLoader(backend)
		err := l.LoadResources(a)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode")
	})
}

func TestLoadResourcesAfterDestroy(t *testing.T) {
	l := NewResourceLoader(newFakeBackend())
	l.Destroy()

	a := buildAsset(t, &gltf.Document{}, nil)
	assert.ErrorIs(t, l.LoadResources(a), errLoaderDestroyed)
}
