// Package gfxqueue implements the GPU command submission core of a graphics
// translation layer: the subsystem that accepts recorded command buffers
// from multiple rendering contexts, orders them into a serialized stream,
// submits them to a GPU queue, tracks their completion via fences, and
// reclaims their resources.
//
// # Architecture Overview
//
// The package is organized around nine cooperating pieces:
//
//   - FenceRecycler / SharedFence: a free-list of fence handles with
//     shared-ownership release semantics.
//   - CommandBatch: the bookkeeping for one submission.
//   - CommandPoolAccess: a broker owning per-(priority, protection) primary
//     command buffer state and the pools that back it.
//   - SerialTracker: atomic last-submitted/last-completed bookkeeping.
//   - CommandQueue: the synchronous submission engine.
//   - CommandProcessorTask / CommandProcessor: an optional worker-thread
//     front-end preserving submission order while offloading it.
//   - the error bus: deferred error records surfaced to callers.
//
// Recorded command buffers flow from a rendering context into
// CommandPoolAccess, which accumulates them onto a primary buffer; at submit
// time CommandQueue (directly, or indirectly through CommandProcessor)
// extracts that primary buffer into a CommandBatch, acquires a fence, calls
// the device's Submit, and tracks the batch until its fence signals.
//
// # Concurrency
//
// CommandQueue serializes submission, completion polling, and reclamation
// behind three locks acquired in a fixed order: submit, then complete, then
// release. CommandProcessor adds two more (enqueue, dequeue) ahead of those.
// See the package-level documentation on CommandQueue and CommandProcessor
// for the exact discipline.
//
// # Device abstraction
//
// Command-buffer recording, shader/pipeline compilation, and swapchain
// presentation glue are not implemented here; the device is represented by
// the Device interface, an abstraction over Submit, Present, WaitFence,
// QueryFence, and WaitIdle. backend/wgpu provides a real implementation over
// github.com/gogpu/wgpu; internal/mockdevice provides a deterministic fake
// used in this package's own tests.
//
// # Error handling
//
// Errors are represented as sentinel values (ErrDeviceLost, ErrTimeout, and
// so on) wrapped with additional context via fmt.Errorf and %w. In
// asynchronous mode, errors raised on the worker goroutine are deferred onto
// an error bus and surfaced the next time the caller crosses a
// CommandProcessor entry point.
//
// # Logging
//
// The package logs through log/slog using a package-level logger that
// defaults to discarding all records; call SetLogger to attach one.
package gfxqueue
