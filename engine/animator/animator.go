package animator

import (
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-gltf/common"
	"github.com/Carmen-Shannon/oxy-gltf/engine/asset"
	"github.com/Carmen-Shannon/oxy-gltf/engine/renderable"
	"github.com/Carmen-Shannon/oxy-gltf/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

var errSourceReleased = errors.New("source document already released")

// Animator samples an asset's animation clips and writes the results into the
// transform hierarchy, and bakes skinning palettes into the asset's
// renderables.
//
// All clip data is resampled into animator-owned storage at construction, so
// the animator stays usable after the asset releases its source document.
type Animator interface {
	// AnimationCount returns the number of animation clips.
	//
	// Returns:
	//   - int: the clip count
	AnimationCount() int

	// ApplyAnimation samples one clip at a point in time and overwrites the
	// local transform of every node the clip targets. Time wraps around the
	// clip duration, so any non-negative time is valid.
	//
	// Parameters:
	//   - index: clip index
	//   - time: sample time in seconds
	//
	// Returns:
	//   - error: error if the clip index is out of range
	ApplyAnimation(index int, time float32) error

	// UpdateBoneMatrices recomputes every skin's bone palette from the
	// current world transforms and hands the palettes to the skins' target
	// renderables. Call after ApplyAnimation, or after any external transform
	// change.
	UpdateBoneMatrices()

	// AnimationDuration returns a clip's duration in seconds, or 0 for an
	// out-of-range index.
	//
	// Parameters:
	//   - index: clip index
	//
	// Returns:
	//   - float32: the duration in seconds
	AnimationDuration(index int) float32

	// AnimationName returns a clip's name, or the empty string for an
	// out-of-range index or an unnamed clip.
	//
	// Parameters:
	//   - index: clip index
	//
	// Returns:
	//   - string: the clip name
	AnimationName(index int) string
}

var _ Animator = &animatorImpl{}

type animatorImpl struct {
	asset      asset.Asset
	transforms transform.Manager
	renders    renderable.Manager
	animations []animation

	// boneScratch is reused across UpdateBoneMatrices calls.
	boneScratch []mgl32.Mat4
}

// NewAnimator resamples every animation clip in the asset into runtime form.
// The asset's animation buffers must already hold their data, either from the
// resource loader's retained copies or from document buffers that were
// decoded in place.
//
// Parameters:
//   - a: the asset whose clips and skins to drive
//   - tm: the transform manager holding the asset's node hierarchy
//   - rm: the renderable manager holding the asset's skinning targets
//
// Returns:
//   - Animator: the animator
//   - error: error if the source document was already released or clip data
//     cannot be read
func NewAnimator(a asset.Asset, tm transform.Manager, rm renderable.Manager) (Animator, error) {
	doc := a.Document()
	if doc == nil {
		return nil, errSourceReleased
	}

	impl := &animatorImpl{
		asset:      a,
		transforms: tm,
		renders:    rm,
		animations: make([]animation, len(doc.Animations)),
	}
	blobs := assetBlobs{a: a}

	for i, src := range doc.Animations {
		dst := &impl.animations[i]
		dst.name = src.Name
		dst.samplers = make([]sampler, len(src.Samplers))
		for j, srcSampler := range src.Samplers {
			s, err := buildSampler(doc, srcSampler, blobs)
			if err != nil {
				return nil, fmt.Errorf("failed to build sampler %d of animation %q: %w", j, src.Name, err)
			}
			dst.samplers[j] = s
			// A single keyframe is a static pose and has no duration.
			if n := len(s.times); n > 1 && s.times[n-1] > dst.duration {
				dst.duration = s.times[n-1]
			}
		}

		dst.channels = make([]channel, 0, len(src.Channels))
		for _, srcChannel := range src.Channels {
			if srcChannel.Target.Node == nil {
				continue
			}
			target := a.Instance(*srcChannel.Target.Node)
			if target == transform.InvalidInstance {
				common.LogWarn("animation channel targets unknown node",
					"animation", src.Name, "node", *srcChannel.Target.Node)
				continue
			}
			kind := kindForPath(srcChannel.Target.Path)
			if kind == channelNone {
				common.LogWarn("unsupported channel path",
					"animation", src.Name, "path", srcChannel.Target.Path)
			}
			if srcChannel.Sampler == nil || int(*srcChannel.Sampler) >= len(dst.samplers) {
				common.LogWarn("animation channel references invalid sampler",
					"animation", src.Name)
				continue
			}
			dst.channels = append(dst.channels, channel{
				sampler: int(*srcChannel.Sampler),
				target:  target,
				kind:    kind,
			})
		}
	}
	return impl, nil
}

func kindForPath(path gltf.TRSProperty) channelKind {
	switch path {
	case gltf.TRSTranslation:
		return channelTranslation
	case gltf.TRSRotation:
		return channelRotation
	case gltf.TRSScale:
		return channelScale
	default:
		return channelNone
	}
}

func (an *animatorImpl) AnimationCount() int {
	return len(an.animations)
}

func (an *animatorImpl) AnimationDuration(index int) float32 {
	if index < 0 || index >= len(an.animations) {
		return 0
	}
	return an.animations[index].duration
}

func (an *animatorImpl) AnimationName(index int) string {
	if index < 0 || index >= len(an.animations) {
		return ""
	}
	return an.animations[index].name
}

func (an *animatorImpl) ApplyAnimation(index int, time float32) error {
	if index < 0 || index >= len(an.animations) {
		return fmt.Errorf("animation index %d out of range [0, %d)", index, len(an.animations))
	}
	anim := &an.animations[index]
	if anim.duration > 0 {
		time = float32(math.Mod(float64(time), float64(anim.duration)))
	}

	for _, ch := range anim.channels {
		s := &anim.samplers[ch.sampler]
		if len(s.times) < 2 || len(s.values) == 0 || ch.kind == channelNone {
			continue
		}

		// Pick the keyframe pair straddling the sample time. Past the last
		// keyframe the pair wraps around to the first.
		i := lowerBound(s.times, time)
		var prev, next int
		switch {
		case i == len(s.times):
			prev, next = len(s.times)-1, 0
		case i == 0:
			prev, next = 0, 0
		default:
			prev, next = i-1, i
		}

		interval := s.times[next] - s.times[prev]
		if interval < 0 {
			interval += anim.duration
		}
		var t float32
		if interval != 0 {
			t = (time - s.times[prev]) / interval
		}

		prevKey, nextKey := s.keys[prev], s.keys[next]
		var xform mgl32.Mat4
		switch ch.kind {
		case channelTranslation:
			v := lerpVec3(s.values, prevKey, nextKey, t)
			xform = mgl32.Translate3D(v.X(), v.Y(), v.Z())
		case channelScale:
			v := lerpVec3(s.values, prevKey, nextKey, t)
			xform = mgl32.Scale3D(v.X(), v.Y(), v.Z())
		case channelRotation:
			q := slerpShortest(quatAt(s.values, prevKey), quatAt(s.values, nextKey), t)
			xform = q.Normalize().Mat4()
		}
		an.transforms.SetTransform(ch.target, xform)
	}
	return nil
}

func (an *animatorImpl) UpdateBoneMatrices() {
	for _, skin := range an.asset.Skins() {
		if cap(an.boneScratch) < len(skin.Joints) {
			an.boneScratch = make([]mgl32.Mat4, len(skin.Joints))
		}
		bones := an.boneScratch[:len(skin.Joints)]
		for i, joint := range skin.Joints {
			bones[i] = an.transforms.WorldTransform(joint).Mul4(skin.InverseBindMatrices[i])
		}
		for _, target := range skin.Targets {
			an.renders.SetBones(target, bones)
		}
	}
}

func lerpVec3(values []float32, prevKey, nextKey int, t float32) mgl32.Vec3 {
	a := mgl32.Vec3{values[prevKey*3], values[prevKey*3+1], values[prevKey*3+2]}
	b := mgl32.Vec3{values[nextKey*3], values[nextKey*3+1], values[nextKey*3+2]}
	return a.Mul(1 - t).Add(b.Mul(t))
}

func quatAt(values []float32, key int) mgl32.Quat {
	// glTF stores rotations as (x, y, z, w).
	return mgl32.Quat{
		W: values[key*4+3],
		V: mgl32.Vec3{values[key*4], values[key*4+1], values[key*4+2]},
	}
}

// slerpShortest interpolates along the shorter arc, negating the second
// quaternion when the pair sits in opposite hemispheres.
func slerpShortest(a, b mgl32.Quat, t float32) mgl32.Quat {
	if a.Dot(b) < 0 {
		b = mgl32.Quat{W: -b.W, V: mgl32.Vec3{-b.V[0], -b.V[1], -b.V[2]}}
	}
	return mgl32.QuatSlerp(a, b, t)
}

// assetBlobs reads accessor bytes from the asset's retained animation
// buffers, falling back to document buffer data decoded in place.
type assetBlobs struct {
	a asset.Asset
}

func (b assetBlobs) accessorBytes(doc *gltf.Document, acc *gltf.Accessor) ([]byte, error) {
	if acc.BufferView == nil {
		return nil, errors.New("accessor has no bufferView")
	}
	buffer := doc.BufferViews[*acc.BufferView].Buffer
	data := b.a.AnimationBlob(buffer)
	if data == nil {
		data = doc.Buffers[buffer].Data
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no data retained for buffer %d", buffer)
	}
	return asset.AccessorBytesFrom(doc, acc, data)
}
