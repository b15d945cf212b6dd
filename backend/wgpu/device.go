//go:build !nogpu

// Package wgpu adapts github.com/gogpu/wgpu's hardware abstraction layer to
// gfxqueue.Device, so CommandQueue can submit against a real GPU.
package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gfxqueue"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/core"
	"github.com/gogpu/wgpu/hal"
)

// Device adapts a hal.Device/hal.Queue pair to gfxqueue.Device. Command
// buffer recording, pipeline compilation, and swapchain acquisition happen
// upstream of this package; Device only ever receives already-recorded
// hal.CommandBuffer handles, registered via RegisterCommandBuffer.
type Device struct {
	mu sync.Mutex

	instance *core.Instance
	adapter  core.AdapterID
	halDev   hal.Device
	queues   [3]hal.Queue // indexed by gfxqueue.Priority

	nextHandle uint64
	// buffers maps the opaque handles gfxqueue passes around back to the
	// real recorded command buffers a caller registered.
	buffers map[gfxqueue.CommandBufferHandle]hal.CommandBuffer
	// fenceValues is the target value each outstanding fgxqueue.FenceHandle
	// was submitted with, since hal.Fence is a timeline semaphore signaled
	// by value rather than a boolean.
	fenceValues map[gfxqueue.FenceHandle]uint64
	fences      map[gfxqueue.FenceHandle]hal.Fence

	swapchain hal.Swapchain
}

// Open creates an instance, requests a high-performance adapter, and opens
// a logical device with one queue per gfxqueue.Priority, following the
// instance -> adapter -> device -> queue sequence used elsewhere in this
// module's GPU backend selection.
func Open(label string) (*Device, error) {
	desc := &gputypes.InstanceDescriptor{
		Backends: gputypes.BackendsPrimary,
	}
	instance := core.NewInstance(desc)

	adapterID, err := instance.RequestAdapter(&gputypes.RequestAdapterOptions{
		PowerPreference: gputypes.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: request adapter: %w", err)
	}

	deviceDesc := &gputypes.DeviceDescriptor{
		Label:          label,
		RequiredLimits: gputypes.DefaultLimits(),
	}
	deviceID, err := core.RequestDevice(adapterID, deviceDesc)
	if err != nil {
		return nil, fmt.Errorf("wgpu: request device: %w", err)
	}

	halDev, err := core.HALDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("wgpu: resolve hal device: %w", err)
	}

	d := &Device{
		instance:    instance,
		adapter:     adapterID,
		halDev:      halDev,
		buffers:     make(map[gfxqueue.CommandBufferHandle]hal.CommandBuffer),
		fenceValues: make(map[gfxqueue.FenceHandle]uint64),
		fences:      make(map[gfxqueue.FenceHandle]hal.Fence),
	}

	for p := gfxqueue.PriorityLow; p <= gfxqueue.PriorityHigh; p++ {
		queueID, err := core.GetDeviceQueue(deviceID)
		if err != nil {
			return nil, fmt.Errorf("wgpu: get device queue for priority %s: %w", p, err)
		}
		halQueue, err := core.HALQueue(queueID)
		if err != nil {
			return nil, fmt.Errorf("wgpu: resolve hal queue for priority %s: %w", p, err)
		}
		d.queues[p] = halQueue
	}

	return d, nil
}

// RegisterCommandBuffer hands ownership of a recorded hal.CommandBuffer to
// this Device, returning the opaque handle CommandPoolAccess/CommandQueue
// operate on from then on. The caller must not submit buf directly.
func (d *Device) RegisterCommandBuffer(buf hal.CommandBuffer) gfxqueue.CommandBufferHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	h := gfxqueue.CommandBufferHandle(d.nextHandle)
	d.buffers[h] = buf
	return h
}

// SetSwapchain attaches the swapchain Present submits against.
func (d *Device) SetSwapchain(sc hal.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.swapchain = sc
}

// Queue implements gfxqueue.Device.
func (d *Device) Queue(priority gfxqueue.Priority) gfxqueue.QueueHandle {
	return gfxqueue.QueueHandle(priority + 1)
}

func (d *Device) halQueue(h gfxqueue.QueueHandle) hal.Queue {
	idx := gfxqueue.Priority(h - 1)
	if idx < gfxqueue.PriorityLow || idx > gfxqueue.PriorityHigh {
		return nil
	}
	return d.queues[idx]
}

// Submit implements gfxqueue.Device. hal.Fence is a timeline semaphore
// signaled by monotonically increasing value; each Submit here bumps the
// target value for fence by one from whatever it last carried.
func (d *Device) Submit(queue gfxqueue.QueueHandle, info gfxqueue.SubmitInfo, fenceHandle gfxqueue.FenceHandle) error {
	d.mu.Lock()
	q := d.halQueue(queue)
	if q == nil {
		d.mu.Unlock()
		return fmt.Errorf("wgpu: unknown queue handle %d", queue)
	}

	var cmdBufs []hal.CommandBuffer
	for _, h := range info.CommandBuffers {
		buf, ok := d.buffers[h]
		if !ok {
			d.mu.Unlock()
			return fmt.Errorf("wgpu: unregistered command buffer handle %d", h)
		}
		cmdBufs = append(cmdBufs, buf)
		delete(d.buffers, h)
	}

	var fence hal.Fence
	var value uint64
	if fenceHandle.Valid() {
		fence = d.fences[fenceHandle]
		value = d.fenceValues[fenceHandle] + 1
		d.fenceValues[fenceHandle] = value
	}
	d.mu.Unlock()

	if fence == nil && fenceHandle.Valid() {
		return fmt.Errorf("wgpu: fence handle %d has no backing hal.Fence", fenceHandle)
	}
	if err := q.Submit(cmdBufs, fence, value); err != nil {
		return err
	}
	return nil
}

// Present implements gfxqueue.Device.
func (d *Device) Present(queue gfxqueue.QueueHandle, info gfxqueue.PresentInfo) (gfxqueue.Result, error) {
	d.mu.Lock()
	q := d.halQueue(queue)
	sc := d.swapchain
	d.mu.Unlock()

	if q == nil {
		return gfxqueue.ResultError, fmt.Errorf("wgpu: unknown queue handle %d", queue)
	}
	if sc == nil {
		return gfxqueue.ResultError, fmt.Errorf("wgpu: no swapchain attached")
	}

	status, err := q.Present(sc, info.ImageIndex)
	switch {
	case err != nil:
		return gfxqueue.ResultError, err
	case status == hal.PresentOutOfDate:
		return gfxqueue.ResultOutOfDate, nil
	case status == hal.PresentSuboptimal:
		return gfxqueue.ResultSuboptimal, nil
	default:
		return gfxqueue.ResultSuccess, nil
	}
}

// CreateFence implements gfxqueue.Device by creating a hal timeline
// semaphore starting at value 0.
func (d *Device) CreateFence() (gfxqueue.FenceHandle, error) {
	fence, err := d.halDev.CreateFence()
	if err != nil {
		return 0, fmt.Errorf("wgpu: create fence: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	h := gfxqueue.FenceHandle(d.nextHandle)
	d.fences[h] = fence
	d.fenceValues[h] = 0
	return h, nil
}

// DestroyFence implements gfxqueue.Device.
func (d *Device) DestroyFence(h gfxqueue.FenceHandle) error {
	d.mu.Lock()
	fence, ok := d.fences[h]
	delete(d.fences, h)
	delete(d.fenceValues, h)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	d.halDev.DestroyFence(fence)
	return nil
}

// ResetFence is a no-op: hal timeline semaphores never need resetting,
// only a higher submitted value.
func (d *Device) ResetFence(gfxqueue.FenceHandle) error { return nil }

// GetFenceStatus implements gfxqueue.Device.
func (d *Device) GetFenceStatus(h gfxqueue.FenceHandle) (bool, error) {
	d.mu.Lock()
	fence, ok := d.fences[h]
	value := d.fenceValues[h]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("wgpu: unknown fence handle %d", h)
	}
	return d.halDev.GetFenceValue(fence) >= value, nil
}

// WaitFence implements gfxqueue.Device.
func (d *Device) WaitFence(h gfxqueue.FenceHandle, timeout time.Duration) (gfxqueue.Result, error) {
	d.mu.Lock()
	fence, ok := d.fences[h]
	value := d.fenceValues[h]
	d.mu.Unlock()
	if !ok {
		return gfxqueue.ResultError, fmt.Errorf("wgpu: unknown fence handle %d", h)
	}

	ok2, err := d.halDev.Wait(fence, value, timeout)
	if err != nil {
		return gfxqueue.ResultError, err
	}
	if !ok2 {
		return gfxqueue.ResultTimeout, nil
	}
	return gfxqueue.ResultSuccess, nil
}

// ExportFenceFd implements gfxqueue.Device. Only meaningful on platforms
// where hal.Device supports exporting a sync-fd from a timeline semaphore.
func (d *Device) ExportFenceFd(h gfxqueue.FenceHandle) (int, error) {
	d.mu.Lock()
	fence, ok := d.fences[h]
	d.mu.Unlock()
	if !ok {
		return -1, fmt.Errorf("wgpu: unknown fence handle %d", h)
	}
	return d.halDev.ExportFenceFd(fence)
}

// QueueWaitIdle implements gfxqueue.Device.
func (d *Device) QueueWaitIdle(qh gfxqueue.QueueHandle) error {
	d.mu.Lock()
	q := d.halQueue(qh)
	d.mu.Unlock()
	if q == nil {
		return fmt.Errorf("wgpu: unknown queue handle %d", qh)
	}
	return q.WaitIdle()
}

// Close destroys every fence this Device created and drops the adapter.
// The hal device and the instance are not released.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, fence := range d.fences {
		d.halDev.DestroyFence(fence)
		delete(d.fences, h)
	}
	if !d.adapter.IsZero() {
		_ = core.AdapterDrop(d.adapter)
	}
	return nil
}
