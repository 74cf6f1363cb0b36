package loader

import "sync/atomic"

// blobCache tracks the lifetime of one asset's retained source data while
// uploads are in flight. The data is released exactly once, at the later of
// the last upload completing and the loader being destroyed. Upload callbacks
// arrive on worker goroutines, so every transition is atomic.
type blobCache struct {
	pending         atomic.Int32
	loaderDestroyed atomic.Bool
	released        atomic.Bool

	onRelease func()
}

func newBlobCache(onRelease func()) *blobCache {
	return &blobCache{onRelease: onRelease}
}

func (c *blobCache) addPending(n int) {
	c.pending.Add(int32(n))
}

// onUploadComplete records one finished upload. The last completion releases
// the source data if the loader is already gone.
func (c *blobCache) onUploadComplete() {
	if c.pending.Add(-1) == 0 && c.loaderDestroyed.Load() {
		c.release()
	}
}

// onLoaderDestroyed marks the loader gone. Releases immediately when nothing
// is in flight, otherwise the last onUploadComplete releases.
func (c *blobCache) onLoaderDestroyed() {
	c.loaderDestroyed.Store(true)
	if c.pending.Load() == 0 {
		c.release()
	}
}

func (c *blobCache) release() {
	if c.released.CompareAndSwap(false, true) {
		c.onRelease()
	}
}
