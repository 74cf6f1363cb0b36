package asset

import (
	"errors"
	"fmt"

	"github.com/qmuntal/gltf"
)

var errNoBufferView = errors.New("accessor has no bufferView")
var errSparseAccessor = errors.New("sparse accessors are not supported")

// ComponentSize returns the byte size of a glTF component type, or 0 for an
// unknown type.
func ComponentSize(componentType gltf.ComponentType) int {
	switch componentType {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	case gltf.ComponentUint, gltf.ComponentFloat:
		return 4
	default:
		return 0
	}
}

// ComponentCount returns the number of components per element for a glTF
// accessor type, or 0 for an unknown type.
func ComponentCount(accessorType gltf.AccessorType) int {
	switch accessorType {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4:
		return 4
	case gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	default:
		return 0
	}
}

// accessorRegion computes the source location of an accessor's data without
// touching buffer contents: the buffer index, the byte offset of the first
// element, and the byte size of the region. For strided buffer views the
// region runs to the end of the view so every element is covered.
func accessorRegion(doc *gltf.Document, acc *gltf.Accessor) (buffer, offset, size uint32, err error) {
	if acc.Sparse != nil {
		return 0, 0, 0, errSparseAccessor
	}
	if acc.BufferView == nil {
		return 0, 0, 0, errNoBufferView
	}
	bv := doc.BufferViews[*acc.BufferView]

	elemSize := uint32(ComponentSize(acc.ComponentType) * ComponentCount(acc.Type))
	if elemSize == 0 {
		return 0, 0, 0, fmt.Errorf("unknown accessor layout: type=%v componentType=%v", acc.Type, acc.ComponentType)
	}

	offset = bv.ByteOffset + acc.ByteOffset
	if bv.ByteStride > 0 && bv.ByteStride != elemSize {
		size = bv.ByteLength - acc.ByteOffset
	} else {
		size = acc.Count * elemSize
	}
	return bv.Buffer, offset, size, nil
}

// AccessorBytes reads an accessor's elements as a tightly packed byte slice,
// collapsing any buffer-view stride. The referenced buffer must already hold
// its data.
//
// Parameters:
//   - doc: the parsed document
//   - acc: the accessor to read
//
// Returns:
//   - []byte: count*elementSize bytes, tightly packed
//   - error: error if the accessor is sparse, has no buffer view, or its
//     buffer data has not been loaded
func AccessorBytes(doc *gltf.Document, acc *gltf.Accessor) ([]byte, error) {
	if acc.BufferView == nil {
		return nil, errNoBufferView
	}
	return AccessorBytesFrom(doc, acc, doc.Buffers[doc.BufferViews[*acc.BufferView].Buffer].Data)
}

// AccessorBytesFrom is AccessorBytes reading from caller-supplied bytes
// instead of the document's buffer data. Used to sample from retained copies
// after the source buffers are released.
func AccessorBytesFrom(doc *gltf.Document, acc *gltf.Accessor, data []byte) ([]byte, error) {
	if acc.Sparse != nil {
		return nil, errSparseAccessor
	}
	if acc.BufferView == nil {
		return nil, errNoBufferView
	}
	bv := doc.BufferViews[*acc.BufferView]

	elemSize := ComponentSize(acc.ComponentType) * ComponentCount(acc.Type)
	if elemSize == 0 {
		return nil, fmt.Errorf("unknown accessor layout: type=%v componentType=%v", acc.Type, acc.ComponentType)
	}

	stride := elemSize
	if bv.ByteStride > 0 {
		stride = int(bv.ByteStride)
	}

	start := int(bv.ByteOffset + acc.ByteOffset)
	end := start + (int(acc.Count)-1)*stride + elemSize
	if acc.Count == 0 {
		end = start
	}
	if end > len(data) {
		return nil, fmt.Errorf("accessor reads past end of buffer %d (%d > %d)", bv.Buffer, end, len(data))
	}

	if stride == elemSize {
		return data[start:end], nil
	}

	out := make([]byte, int(acc.Count)*elemSize)
	for i := 0; i < int(acc.Count); i++ {
		src := start + i*stride
		copy(out[i*elemSize:(i+1)*elemSize], data[src:src+elemSize])
	}
	return out, nil
}
