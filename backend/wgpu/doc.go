// Package wgpu adapts github.com/gogpu/wgpu/hal into a gfxqueue.Device.
//
// It maps gfxqueue's opaque FenceHandle onto hal.Fence, a timeline
// semaphore signaled by a monotonically increasing value rather than a
// boolean. Device tracks, per fence handle, the target value its most
// recent Submit is waiting to reach, so a single FenceHandle recycled
// across many submissions (as FenceRecycler does) still reports the
// completion of the specific submission a caller is waiting on rather
// than "has this fence ever signaled."
//
// Command buffer recording happens outside this package; a caller hands
// a recorded hal.CommandBuffer to RegisterCommandBuffer and receives the
// opaque CommandBufferHandle that CommandPoolAccess and CommandQueue
// operate on.
package wgpu
