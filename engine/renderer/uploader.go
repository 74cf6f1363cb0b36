package renderer

// BufferDescriptor pairs the source bytes of one GPU buffer write with a
// completion callback. The callback fires exactly once, after the upload
// backend no longer needs the source bytes; it may run on a foreign
// goroutine, so anything it touches must be safe for concurrent access.
type BufferDescriptor struct {
	// Data is the source byte blob to upload.
	Data []byte

	// Callback is invoked once the backend has consumed Data. May be nil.
	Callback func()
}

// VertexBuffer is an opaque handle to a GPU vertex buffer created by an
// upload backend. One vertex buffer holds a fixed set of attribute slots.
type VertexBuffer interface {
	// SlotCount returns the number of attribute slots in this buffer.
	//
	// Returns:
	//   - int: the slot count
	SlotCount() int
}

// IndexBuffer is an opaque handle to a GPU index buffer created by an upload
// backend.
type IndexBuffer interface {
	// IndexCount returns the number of indices the buffer was sized for.
	//
	// Returns:
	//   - int: the index count
	IndexCount() int
}

// Uploader dispatches asynchronous GPU buffer writes. Calls return
// immediately; completion is signaled through the descriptor callback from
// the backend's own execution context. There is no cancellation: a
// successfully dispatched upload completes exactly once.
type Uploader interface {
	// SetVertexBufferAt uploads a byte blob into one attribute slot of a
	// vertex buffer.
	//
	// Parameters:
	//   - vb: the destination vertex buffer
	//   - slot: the attribute slot index
	//   - bd: the source bytes and completion callback
	//
	// Returns:
	//   - error: error if the destination or slot is invalid; the callback
	//     does not fire when an error is returned
	SetVertexBufferAt(vb VertexBuffer, slot int, bd BufferDescriptor) error

	// SetIndexBuffer uploads a byte blob into an index buffer.
	//
	// Parameters:
	//   - ib: the destination index buffer
	//   - bd: the source bytes and completion callback
	//
	// Returns:
	//   - error: error if the destination is invalid; the callback does not
	//     fire when an error is returned
	SetIndexBuffer(ib IndexBuffer, bd BufferDescriptor) error
}

// BufferFactory creates the GPU buffer objects that uploads target. Buffer
// object creation mechanics belong to the rendering engine; this module only
// needs handles it can hand back to an Uploader.
type BufferFactory interface {
	// CreateVertexBuffer creates a vertex buffer with one GPU buffer per
	// attribute slot.
	//
	// Parameters:
	//   - label: a debug label for the buffer
	//   - slotSizes: the byte size of each attribute slot
	//
	// Returns:
	//   - VertexBuffer: the new buffer handle
	//   - error: error if creation fails
	CreateVertexBuffer(label string, slotSizes []uint64) (VertexBuffer, error)

	// CreateIndexBuffer creates an index buffer.
	//
	// Parameters:
	//   - label: a debug label for the buffer
	//   - size: the byte size of the buffer
	//   - indexCount: the number of indices the buffer holds
	//
	// Returns:
	//   - IndexBuffer: the new buffer handle
	//   - error: error if creation fails
	CreateIndexBuffer(label string, size uint64, indexCount int) (IndexBuffer, error)
}

// UploadBackend combines buffer creation and asynchronous upload dispatch
// behind one implementation, mirroring how the renderer exposes its GPU
// backend elsewhere in the engine.
type UploadBackend interface {
	Uploader
	BufferFactory
}
