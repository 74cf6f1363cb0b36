package loader

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-gltf/common"
	"github.com/Carmen-Shannon/oxy-gltf/engine/asset"
	"github.com/Carmen-Shannon/oxy-gltf/engine/renderer"
	"github.com/qmuntal/gltf"
)

var errLoaderDestroyed = errors.New("resource loader already destroyed")
var errSourceReleased = errors.New("asset source data already released")

// ResourceLoader resolves an asset's source buffers and drives its pending
// bindings to their destinations: GPU uploads for vertex and index data, CPU
// copies for animation and orientation data, and packed tangent-frame
// quaternions computed on the fly.
//
// GPU uploads complete asynchronously. The asset's retained source data is
// released at the later of the last upload completing and Destroy.
type ResourceLoader interface {
	// LoadResources consumes every pending binding on the asset. Buffer data
	// destined for the CPU is copied before this returns; GPU uploads are
	// dispatched and complete in the background.
	//
	// A binding with anything other than exactly one destination fails the
	// whole load before any upload is dispatched.
	//
	// Parameters:
	//   - a: the asset to load
	//
	// Returns:
	//   - error: error if a buffer cannot be resolved, a binding is
	//     malformed, or a texture cannot be decoded
	LoadResources(a asset.Asset) error

	// Destroy marks the loader gone. Assets whose uploads have all completed
	// release their retained source data now; the rest release as their last
	// upload lands.
	Destroy()
}

// ResourceLoaderOption configures a resource loader.
type ResourceLoaderOption func(*resourceLoaderImpl)

// WithBasePath sets the directory external buffer and image URIs resolve
// against. Defaults to the working directory.
func WithBasePath(path string) ResourceLoaderOption {
	return func(l *resourceLoaderImpl) {
		l.basePath = path
	}
}

var _ ResourceLoader = &resourceLoaderImpl{}

type resourceLoaderImpl struct {
	mu        sync.Mutex
	uploader  renderer.Uploader
	basePath  string
	caches    []*blobCache
	destroyed bool
}

// NewResourceLoader builds a loader that feeds uploads to the given uploader.
//
// Parameters:
//   - uploader: destination for asynchronous GPU uploads
//   - options: optional configuration
//
// Returns:
//   - ResourceLoader: the loader
func NewResourceLoader(uploader renderer.Uploader, options ...ResourceLoaderOption) ResourceLoader {
	l := &resourceLoaderImpl{
		uploader: uploader,
		basePath: ".",
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func (l *resourceLoaderImpl) LoadResources(a asset.Asset) error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return errLoaderDestroyed
	}
	l.mu.Unlock()

	doc := a.Document()
	if doc == nil {
		return errSourceReleased
	}

	if err := l.resolveBuffers(doc); err != nil {
		return err
	}
	if err := a.ResolveInverseBindMatrices(); err != nil {
		return err
	}

	bindings := a.BufferBindings()
	if err := validateBindings(doc, bindings); err != nil {
		return err
	}

	// Decode textures before dispatching anything so a bad image fails the
	// load cleanly. The decoded pixels are dropped afterwards; see
	// loadTextures.
	if err := l.loadTextures(doc, a.TextureBindings()); err != nil {
		return err
	}

	cache := newBlobCache(a.ReleaseSourceData)
	l.mu.Lock()
	l.caches = append(l.caches, cache)
	l.mu.Unlock()

	// CPU destinations are copied synchronously, so the animator and the
	// tangent pass can run as soon as this returns.
	asyncCount := len(a.OrientationTargets())
	for _, binding := range bindings {
		src := doc.Buffers[binding.SourceBuffer].Data[binding.Offset : binding.Offset+binding.Size]
		switch {
		case binding.AnimationBuffer != nil:
			copy(binding.AnimationBuffer, src)
		case binding.OrientationBuffer != nil:
			copy(binding.OrientationBuffer, src)
		default:
			asyncCount++
		}
	}

	// Count every upload before the first dispatch so a fast completion
	// cannot drive the pending count to zero early.
	cache.addPending(asyncCount)

	for _, binding := range bindings {
		if binding.AnimationBuffer != nil || binding.OrientationBuffer != nil {
			continue
		}
		src := doc.Buffers[binding.SourceBuffer].Data[binding.Offset : binding.Offset+binding.Size]
		desc := renderer.BufferDescriptor{Data: src, Callback: cache.onUploadComplete}
		var err error
		if binding.VertexBuffer != nil {
			err = l.uploader.SetVertexBufferAt(binding.VertexBuffer, binding.Slot, desc)
		} else {
			err = l.uploader.SetIndexBuffer(binding.IndexBuffer, desc)
		}
		if err != nil {
			common.LogError("failed to dispatch upload", "buffer", binding.SourceBuffer, "error", err)
			cache.onUploadComplete()
		}
	}

	for _, target := range a.OrientationTargets() {
		quats, err := computeOrientationQuats(doc, target)
		if err != nil {
			common.LogError("failed to compute orientation quaternions", "error", err)
			cache.onUploadComplete()
			continue
		}
		desc := renderer.BufferDescriptor{Data: common.SliceToBytes(quats), Callback: cache.onUploadComplete}
		if err := l.uploader.SetVertexBufferAt(target.VertexBuffer, target.Slot, desc); err != nil {
			common.LogError("failed to dispatch orientation upload", "error", err)
			cache.onUploadComplete()
		}
	}
	return nil
}

func (l *resourceLoaderImpl) Destroy() {
	l.mu.Lock()
	caches := l.caches
	l.caches = nil
	l.destroyed = true
	l.mu.Unlock()
	for _, cache := range caches {
		cache.onLoaderDestroyed()
	}
}

// validateBindings rejects the whole set before anything is dispatched, so a
// malformed asset never leaves half its uploads in flight.
func validateBindings(doc *gltf.Document, bindings []*asset.BufferBinding) error {
	for i, binding := range bindings {
		if n := binding.DestinationCount(); n != 1 {
			return fmt.Errorf("binding %d has %d destinations, want exactly 1", i, n)
		}
		buf := doc.Buffers[binding.SourceBuffer]
		if end := int64(binding.Offset) + int64(binding.Size); end > int64(len(buf.Data)) {
			return fmt.Errorf("binding %d reads [%d, %d) past end of buffer %d (%d bytes)",
				i, binding.Offset, end, binding.SourceBuffer, len(buf.Data))
		}
	}
	return nil
}

func (l *resourceLoaderImpl) resolveBuffers(doc *gltf.Document) error {
	for i, buf := range doc.Buffers {
		if len(buf.Data) > 0 {
			if len(buf.Data) < int(buf.ByteLength) {
				return fmt.Errorf("buffer %d holds %d of %d declared bytes", i, len(buf.Data), buf.ByteLength)
			}
			continue
		}
		if buf.URI == "" {
			return fmt.Errorf("buffer %d has no data and no uri", i)
		}
		data, err := l.fetchURI(buf.URI)
		if err != nil {
			return fmt.Errorf("failed to resolve buffer %d: %w", i, err)
		}
		if len(data) < int(buf.ByteLength) {
			return fmt.Errorf("buffer %d resolved to %d of %d declared bytes", i, len(data), buf.ByteLength)
		}
		buf.Data = data[:buf.ByteLength]
	}
	return nil
}

// loadTextures decodes every texture to RGBA8 and then drops the pixels.
// Wiring decoded textures through to GPU texture objects is still pending,
// but a corrupt image must fail the load rather than surface at draw time.
func (l *resourceLoaderImpl) loadTextures(doc *gltf.Document, bindings []*asset.TextureBinding) error {
	for i, binding := range bindings {
		data, err := l.textureBytes(doc, binding)
		if err != nil {
			return fmt.Errorf("failed to resolve texture %d: %w", i, err)
		}
		img, err := decodeTexture(data)
		if err != nil {
			return fmt.Errorf("failed to decode texture %d (%s): %w", i, binding.URI, err)
		}
		common.LogDebug("decoded texture", "index", i, "uri", binding.URI,
			"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	}
	return nil
}

func (l *resourceLoaderImpl) textureBytes(doc *gltf.Document, binding *asset.TextureBinding) ([]byte, error) {
	if binding.BufferView != nil {
		bv := doc.BufferViews[*binding.BufferView]
		buf := doc.Buffers[bv.Buffer]
		if int(bv.ByteOffset)+int(bv.ByteLength) > len(buf.Data) {
			return nil, fmt.Errorf("image bufferView %d out of range", *binding.BufferView)
		}
		return buf.Data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength], nil
	}
	if binding.URI == "" {
		return nil, errors.New("image has neither bufferView nor uri")
	}
	return l.fetchURI(binding.URI)
}

func (l *resourceLoaderImpl) fetchURI(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "data:") {
		idx := strings.Index(uri, ";base64,")
		if idx < 0 {
			return nil, errors.New("unsupported data uri encoding")
		}
		return base64.StdEncoding.DecodeString(uri[idx+len(";base64,"):])
	}
	path, err := url.PathUnescape(uri)
	if err != nil {
		path = uri
	}
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}
