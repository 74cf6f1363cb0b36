package renderer

import (
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"
)

const (
	defaultUploadWorkers   = 2
	defaultUploadQueueSize = 256
)

// wgpuVertexBuffer holds one wgpu buffer per attribute slot.
type wgpuVertexBuffer struct {
	label string
	slots []*wgpu.Buffer
}

func (b *wgpuVertexBuffer) SlotCount() int {
	return len(b.slots)
}

// wgpuIndexBuffer wraps a single wgpu index buffer.
type wgpuIndexBuffer struct {
	label  string
	buffer *wgpu.Buffer
	count  int
}

func (b *wgpuIndexBuffer) IndexCount() int {
	return b.count
}

// wgpuUploadBackendImpl is the wgpu implementation of UploadBackend. Uploads
// are dispatched on a dynamic worker pool; wgpu's queue.WriteBuffer copies
// the source bytes internally before returning, so the descriptor callback
// fires as soon as the write has been queued.
type wgpuUploadBackendImpl struct {
	mu sync.Mutex

	device *wgpu.Device
	queue  *wgpu.Queue

	pool       worker.DynamicWorkerPool
	poolSize   int
	queueSize  int
	nextTaskID int
}

var _ UploadBackend = &wgpuUploadBackendImpl{}

// WGPUUploadBackendOption configures a wgpu upload backend during construction.
type WGPUUploadBackendOption func(*wgpuUploadBackendImpl)

// WithUploadWorkers sets the number of worker goroutines that dispatch
// uploads. Values below 1 are ignored.
//
// Parameters:
//   - workers: the worker count
//
// Returns:
//   - WGPUUploadBackendOption: the option function
func WithUploadWorkers(workers int) WGPUUploadBackendOption {
	return func(b *wgpuUploadBackendImpl) {
		if workers >= 1 {
			b.poolSize = workers
		}
	}
}

// WithUploadQueueSize sets the task queue capacity of the upload worker pool.
//
// Parameters:
//   - size: the queue capacity
//
// Returns:
//   - WGPUUploadBackendOption: the option function
func WithUploadQueueSize(size int) WGPUUploadBackendOption {
	return func(b *wgpuUploadBackendImpl) {
		if size >= 1 {
			b.queueSize = size
		}
	}
}

// NewWGPUUploadBackend creates an UploadBackend that writes through the given
// wgpu device and queue with the provided options applied.
//
// Parameters:
//   - device: the wgpu device used to create buffers
//   - queue: the wgpu queue used for buffer writes
//   - options: a variadic list of WGPUUploadBackendOption functions
//
// Returns:
//   - UploadBackend: the new backend
func NewWGPUUploadBackend(device *wgpu.Device, queue *wgpu.Queue, options ...WGPUUploadBackendOption) UploadBackend {
	b := &wgpuUploadBackendImpl{
		device:    device,
		queue:     queue,
		poolSize:  defaultUploadWorkers,
		queueSize: defaultUploadQueueSize,
	}

	for _, option := range options {
		option(b)
	}

	b.pool = worker.NewDynamicWorkerPool(b.poolSize, b.queueSize, 1*time.Second)
	return b
}

func (b *wgpuUploadBackendImpl) CreateVertexBuffer(label string, slotSizes []uint64) (VertexBuffer, error) {
	vb := &wgpuVertexBuffer{
		label: label,
		slots: make([]*wgpu.Buffer, len(slotSizes)),
	}
	for i, size := range slotSizes {
		buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("%s slot %d", label, i),
			Size:  size,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex buffer %q slot %d: %w", label, i, err)
		}
		vb.slots[i] = buf
	}
	return vb, nil
}

func (b *wgpuUploadBackendImpl) CreateIndexBuffer(label string, size uint64, indexCount int) (IndexBuffer, error) {
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index buffer %q: %w", label, err)
	}
	return &wgpuIndexBuffer{label: label, buffer: buf, count: indexCount}, nil
}

func (b *wgpuUploadBackendImpl) SetVertexBufferAt(vb VertexBuffer, slot int, bd BufferDescriptor) error {
	wvb, ok := vb.(*wgpuVertexBuffer)
	if !ok {
		return fmt.Errorf("vertex buffer was not created by this backend")
	}
	if slot < 0 || slot >= len(wvb.slots) {
		return fmt.Errorf("vertex buffer %q has no slot %d", wvb.label, slot)
	}
	b.submit(wvb.slots[slot], bd)
	return nil
}

func (b *wgpuUploadBackendImpl) SetIndexBuffer(ib IndexBuffer, bd BufferDescriptor) error {
	wib, ok := ib.(*wgpuIndexBuffer)
	if !ok {
		return fmt.Errorf("index buffer was not created by this backend")
	}
	b.submit(wib.buffer, bd)
	return nil
}

// submit queues one buffer write on the worker pool. The queue is guarded by
// the backend mutex so writes from multiple workers never interleave on the
// wgpu side.
func (b *wgpuUploadBackendImpl) submit(buf *wgpu.Buffer, bd BufferDescriptor) {
	b.mu.Lock()
	id := b.nextTaskID
	b.nextTaskID++
	b.mu.Unlock()

	b.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			b.mu.Lock()
			b.queue.WriteBuffer(buf, 0, bd.Data)
			b.mu.Unlock()
			if bd.Callback != nil {
				bd.Callback()
			}
			return nil, nil
		},
	})
}
