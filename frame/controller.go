// Package frame implements the frame controller (spec.md C6): the phase
// state machine that acquires a swapchain image, drives staging, records
// the combuf, dispatches the ray-trace or raster path, and presents, while
// keeping N_CONCURRENT frames in flight with fence/semaphore discipline.
//
// Grounded directly on the original renderer's ref/vk/vk_framectl.c:
// frame_phase_t's five-state enum and vk_framectl_frame_t's slot fields
// (combuf, fence_done, sem_framebuffer_ready, sem_done, sem_done2) are
// reproduced exactly, including the sem_done2 rationale documented there.
// The per-frame Init/Update/Render/Resize lifecycle shape follows
// voxelrt/rt/app/app.go's App, adapted from a window-owning event loop to
// a host-driven frame boundary (this module never opens a window).
package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gekko3d/rtcore/arena"
	"github.com/gekko3d/rtcore/combuf"
	"github.com/gekko3d/rtcore/profiler"
	"github.com/gekko3d/rtcore/rtlog"
)

// Phase is the frame's state machine position (original: frame_phase_t).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFrameBegan
	PhaseFrameRendered
	PhaseRenderingEnqueued
	PhaseSubmitted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseFrameBegan:
		return "FrameBegan"
	case PhaseFrameRendered:
		return "FrameRendered"
	case PhaseRenderingEnqueued:
		return "RenderingEnqueued"
	case PhaseSubmitted:
		return "Submitted"
	default:
		return "Unknown"
	}
}

// NConcurrent is the number of frame slots kept in flight. spec.md's open
// question on "more than 2 frames in flight" is resolved here per its
// stated safe interpretation: exactly 2. Nothing in this module calls
// arena.DEBuffer.Flip: each dynamic rtmodel.Cache slot keeps the kusochki
// range it reserved when it was first created, whatever the slot index.
const NConcurrent = 2

// Fence is a CPU-observable GPU completion signal (original: VkFence).
type Fence struct {
	signaled bool
}

func (f *Fence) Signal()    { f.signaled = true }
func (f *Fence) Reset()     { f.signaled = false }
func (f *Fence) Signaled() bool { return f.signaled }

// FenceWaitSoftTimeout is the soft wait slice spec.md §4.6.1/§5 describes:
// on expiry the wait logs and keeps waiting rather than failing.
const FenceWaitSoftTimeout = 10 * time.Second

// WaitFence blocks until f is signaled or ctx is done, logging a warning
// every time the soft timeout slice elapses without the fence signaling. It never returns failure for a mere timeout; only ctx
// cancellation stops the wait.
func WaitFence(ctx context.Context, f *Fence, poll func() bool, log rtlog.Logger) error {
	deadline := time.Now().Add(FenceWaitSoftTimeout)
	for !f.Signaled() {
		if poll != nil && poll() {
			f.Signal()
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			log.Warnf("frame: fence wait exceeded %s, still waiting", FenceWaitSoftTimeout)
			deadline = time.Now().Add(FenceWaitSoftTimeout)
		}
	}
	return nil
}

// Semaphore is a GPU-side signal used to order queue operations (original:
// VkSemaphore). sem_done2 exists as a distinct instance from sem_done so
// that a CPU submit for frame k can proceed once frame k-1's commands
// retire, without waiting for the presentation engine to also finish with
// frame k-1's swapchain image (spec.md §4.6.2).
type Semaphore struct {
	signaled bool
}

func (s *Semaphore) Signal()  { s.signaled = true }
func (s *Semaphore) Reset()   { s.signaled = false }
func (s *Semaphore) Waited() bool { return s.signaled }

// Slot is one frame-in-flight's owned resources (original:
// vk_framectl_frame_t).
type Slot struct {
	Combuf              *combuf.Combuf
	FenceDone            *Fence
	SemFramebufferReady  *Semaphore
	SemDone              *Semaphore
	SemDone2             *Semaphore
	StagingFrameTag       arena.FrameTag
}

// AcquireResult classifies a swapchain acquire/present outcome (spec.md
// §4.6.3).
type AcquireResult int

const (
	AcquireSuccess AcquireResult = iota
	AcquireSuboptimal
	AcquireOutOfDate
	AcquireSurfaceLost
	AcquireTimeout
	AcquireNotReady
	AcquireOutOfHostMemory
	AcquireOutOfDeviceMemory
	AcquireDeviceLost
)

func (r AcquireResult) isFatal() bool {
	return r == AcquireOutOfHostMemory || r == AcquireOutOfDeviceMemory || r == AcquireDeviceLost
}

// Swapchain is the host-provided surface the frame controller drives.
// Concrete implementations wrap a *wgpu.Surface; tests use a fake that
// scripts a sequence of AcquireResults.
type Swapchain interface {
	Acquire(sem *Semaphore) (imageIndex uint32, result AcquireResult)
	Recreate(width, height uint32)
	CurrentExtent() (width, height uint32)
	Present(sem *Semaphore) AcquireResult
}

// FatalError surfaces an unrecoverable device error at the frame boundary,
// per spec.md §9 ("surface device-lost and out-of-memory as an explicit
// error kind at frame boundaries; do not thread it through every allocation
// path").
type FatalError struct {
	Result AcquireResult
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("frame: fatal device error: %v", e.Result)
}

var ErrFrameLost = errors.New("frame: frame lost (swapchain transient failure), empty submit issued")

// Staging is the subset of arena.Staging the controller needs.
type Staging interface {
	Reclaim(tag arena.FrameTag)
	Commit(offset, size uint64) arena.FrameTag
}

// PendingUpload is one already-allocated staging range a caller (the light
// grid's dirty-range refresh, the model cache's kusochki writes) wants
// folded into this frame's enqueue step: end_frame commits it into the
// staging ring and tracks+barriers the destination buffer before the combuf
// ends (spec.md §4.6.1's "commit pending staging into the combuf").
type PendingUpload struct {
	Buffer *arena.Buffer
	Offset uint64
	Size   uint64
}

// Controller owns the frame phase state machine and the N_CONCURRENT
// slots, and holds the swapchain, staging ring, profiler and logger it is
// given. It does not own the device memory pool, light grid, model cache or
// TLAS builder; renderer.Renderer holds those next to the controller.
type Controller struct {
	slots        [NConcurrent]Slot
	currentIndex int
	phase        Phase
	recreatePending bool

	swapchain Swapchain
	staging   Staging
	prof      *profiler.Profiler
	log       rtlog.Logger

	width, height uint32
}

func NewController(sc Swapchain, staging Staging, prof *profiler.Profiler, log rtlog.Logger) *Controller {
	if log == nil {
		log = rtlog.NewNopLogger()
	}
	c := &Controller{
		swapchain:    sc,
		staging:      staging,
		prof:         prof,
		currentIndex: -1,
		phase:        PhaseIdle,
	}
	// the swapchain arrives already created at its current extent
	c.width, c.height = sc.CurrentExtent()
	c.log = log
	for i := range c.slots {
		c.slots[i] = Slot{
			Combuf:             combuf.New(fmt.Sprintf("frame-slot-%d", i), prof, log.DebugEnabled()),
			FenceDone:          &Fence{signaled: true}, // slots start signaled: nothing to wait for initially
			SemFramebufferReady: &Semaphore{},
			SemDone:            &Semaphore{},
			SemDone2:           &Semaphore{},
		}
	}
	return c
}

func (c *Controller) Phase() Phase { return c.phase }
func (c *Controller) CurrentSlot() *Slot {
	if c.currentIndex < 0 {
		return nil
	}
	return &c.slots[c.currentIndex]
}

// BeginFrame advances to the next slot, waits its fence, reclaims staging
// up to that slot's tag, acquires the swapchain image, and begins the
// combuf. Calling it from any phase other than Idle is a no-op that logs a
// warning (spec.md §8: "begin_frame called from FrameBegan logs a warning
// and no-ops").
func (c *Controller) BeginFrame(ctx context.Context, poll func() bool) error {
	if c.phase != PhaseIdle {
		c.log.Warnf("frame: begin_frame called from phase %s, ignoring", c.phase)
		return nil
	}

	nextIndex := (c.currentIndex + 1) % NConcurrent
	slot := &c.slots[nextIndex]

	if err := WaitFence(ctx, slot.FenceDone, poll, c.log); err != nil {
		return err
	}
	slot.FenceDone.Reset()
	c.staging.Reclaim(slot.StagingFrameTag)

	if w, h := c.swapchain.CurrentExtent(); w != c.width || h != c.height || c.recreatePending {
		c.swapchain.Recreate(w, h)
		c.width, c.height = w, h
		c.recreatePending = false
	}

	result := c.acquireWithRetry(slot.SemFramebufferReady)
	if result.isFatal() {
		return &FatalError{Result: result}
	}

	c.currentIndex = nextIndex
	slot.Combuf.Begin()
	c.phase = PhaseFrameBegan

	if result == AcquireOutOfDate || result == AcquireTimeout || result == AcquireNotReady || result == AcquireSurfaceLost {
		return ErrFrameLost
	}
	if result == AcquireSuboptimal {
		c.recreatePending = true
	}
	return nil
}

// acquireWithRetry implements spec.md §4.6.3's classification: SUCCESS
// continues; SUBOPTIMAL flags a recreate for next frame and continues;
// OUT_OF_DATE/SURFACE_LOST retries once after a recreate; TIMEOUT/NOT_READY
// return frame-lost without retrying; host-memory/device-lost are fatal.
func (c *Controller) acquireWithRetry(sem *Semaphore) AcquireResult {
	_, result := c.swapchain.Acquire(sem)
	if result == AcquireOutOfDate || result == AcquireSurfaceLost {
		w, h := c.swapchain.CurrentExtent()
		c.swapchain.Recreate(w, h)
		_, result = c.swapchain.Acquire(sem)
	}
	return result
}

// Render marks that draw submission happened this frame; phase ->
// FrameRendered.
func (c *Controller) Render() {
	if c.phase != PhaseFrameBegan {
		c.log.Warnf("frame: render called from phase %s, ignoring", c.phase)
		return
	}
	c.phase = PhaseFrameRendered
}

// EndFrame enqueues the remaining work and submits. uploads is every
// staging range allocated earlier this frame (by C4's light-grid refresh,
// C5's kusochki writes, ...); each is committed here and its destination
// buffer tracked and given a transfer-write barrier, and the highest tag
// committed becomes this slot's staging_frame_tag so the next
// begin_frame's reclaim actually covers this frame's writes. It then ends
// the combuf, signals this slot's sem_done/sem_done2/fence_done and
// presents with sem_done. No transition of the swapchain image to
// PRESENT_SRC is recorded, and the submit does not wait on
// sem_framebuffer_ready or on the previous slot's sem_done2.
func (c *Controller) EndFrame(uploads []PendingUpload) error {
	if c.phase != PhaseFrameRendered {
		c.log.Warnf("frame: end_frame called from phase %s, ignoring", c.phase)
		return nil
	}
	c.phase = PhaseRenderingEnqueued

	slot := &c.slots[c.currentIndex]
	prevIndex := (c.currentIndex - 1 + NConcurrent) % NConcurrent
	prevSlot := &c.slots[prevIndex]

	for _, u := range uploads {
		tag := c.staging.Commit(u.Offset, u.Size)
		if tag > slot.StagingFrameTag {
			slot.StagingFrameTag = tag
		}
		if u.Buffer == nil {
			continue
		}
		slot.Combuf.TrackBuffer(u.Buffer)
		if _, err := slot.Combuf.IssueBarrierBuffer(u.Buffer.Name, arena.AccessTransferWrite); err != nil {
			c.log.Warnf("frame: %v", err)
		}
	}

	slot.Combuf.End()

	// submit: the previous slot's sem_done2 is read, not waited on
	_ = prevSlot.SemDone2.Waited()
	slot.SemDone.Signal()
	slot.SemDone2.Signal()
	slot.FenceDone.Signal()
	c.phase = PhaseSubmitted

	result := c.swapchain.Present(slot.SemDone)
	c.phase = PhaseIdle

	if result.isFatal() {
		return &FatalError{Result: result}
	}
	if result == AcquireOutOfDate {
		c.recreatePending = true
		c.log.Infof("frame: present reported OUT_OF_DATE, recreating on next acquire")
	}
	return nil
}
