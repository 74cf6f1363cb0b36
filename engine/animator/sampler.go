package animator

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/Carmen-Shannon/oxy-gltf/common"
	"github.com/Carmen-Shannon/oxy-gltf/engine/transform"
	"github.com/qmuntal/gltf"
)

type channelKind int

const (
	// channelNone marks paths the evaluator does not drive, such as morph
	// target weights.
	channelNone channelKind = iota
	channelTranslation
	channelRotation
	channelScale
)

// sampler holds one animation sampler resampled into runtime form: a sorted
// timeline of distinct keyframe times, the source keyframe index per time,
// and the output values flattened to float32.
type sampler struct {
	times         []float32
	keys          []int
	values        []float32
	interpolation gltf.Interpolation
}

type channel struct {
	sampler int
	target  transform.Instance
	kind    channelKind
}

type animation struct {
	name     string
	duration float32
	samplers []sampler
	channels []channel
}

// buildSampler resamples one glTF animation sampler from the retained source
// bytes. Duplicate keyframe times collapse to the last occurrence. An output
// accessor with an unrecognized component type yields an empty value table,
// which inerts every channel using the sampler.
func buildSampler(doc *gltf.Document, src *gltf.AnimationSampler, blobs blobSource) (sampler, error) {
	var s sampler
	s.interpolation = src.Interpolation

	input := doc.Accessors[src.Input]
	raw, err := blobs.accessorBytes(doc, input)
	if err != nil {
		return s, fmt.Errorf("failed to read keyframe times: %w", err)
	}
	times := floatsFrom(raw, int(input.Count))

	// Last occurrence wins for duplicate times, matching map insertion order.
	index := make(map[float32]int, len(times))
	for i, t := range times {
		index[t] = i
	}
	s.times = make([]float32, 0, len(index))
	for t := range index {
		s.times = append(s.times, t)
	}
	sort.Slice(s.times, func(i, j int) bool { return s.times[i] < s.times[j] })
	s.keys = make([]int, len(s.times))
	for i, t := range s.times {
		s.keys[i] = index[t]
	}

	output := doc.Accessors[src.Output]
	rawValues, err := blobs.accessorBytes(doc, output)
	if err != nil {
		return s, fmt.Errorf("failed to read keyframe values: %w", err)
	}
	s.values = convertOutputValues(output, rawValues)
	return s, nil
}

// convertOutputValues widens accessor elements to float32, reversing the
// normalized integer encodings glTF allows for rotation outputs.
func convertOutputValues(acc *gltf.Accessor, raw []byte) []float32 {
	count := int(acc.Count) * componentCount(acc.Type)
	out := make([]float32, count)
	switch acc.ComponentType {
	case gltf.ComponentFloat:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case gltf.ComponentByte:
		for i := range out {
			out[i] = common.UnpackSnorm8(int8(raw[i]))
		}
	case gltf.ComponentUbyte:
		for i := range out {
			out[i] = common.UnpackUnorm8(raw[i])
		}
	case gltf.ComponentShort:
		for i := range out {
			out[i] = common.UnpackSnorm16(int16(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	case gltf.ComponentUshort:
		for i := range out {
			out[i] = common.UnpackUnorm16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	default:
		common.LogError("unknown animation value type", "componentType", acc.ComponentType)
		return nil
	}
	return out
}

func floatsFrom(raw []byte, count int) []float32 {
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func componentCount(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4:
		return 4
	default:
		return 0
	}
}

// lowerBound returns the index of the first time not less than t, or
// len(times) when every keyframe precedes t.
func lowerBound(times []float32, t float32) int {
	return sort.Search(len(times), func(i int) bool { return times[i] >= t })
}

// blobSource reads accessor bytes from retained animation buffer copies.
type blobSource interface {
	accessorBytes(doc *gltf.Document, acc *gltf.Accessor) ([]byte, error)
}
