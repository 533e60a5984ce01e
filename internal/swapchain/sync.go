package swapchain

import (
	"fmt"

	"github.com/vulkan-go/vulkan"
)

// noGuard marks an image that no in-flight frame is rendering to.
const noGuard = -1

func (c *Chain) createSyncObjects() error {
	c.frames = make([]frameSync, MaxFramesInFlight)
	c.imageGuards = make([]int, len(c.slots))
	for i := range c.imageGuards {
		c.imageGuards[i] = noGuard
	}

	for i := range c.frames {
		var err error
		if c.frames[i].imageAvailable, err = c.dev.CreateSemaphore(); err != nil {
			return fmt.Errorf("create imageAvailable semaphore %d: %w", i, err)
		}
		if c.frames[i].renderFinished, err = c.dev.CreateSemaphore(); err != nil {
			return fmt.Errorf("create renderFinished semaphore %d: %w", i, err)
		}
		// Signaled so the first wait on each frame returns at once.
		if c.frames[i].inFlight, err = c.dev.CreateFence(true); err != nil {
			return fmt.Errorf("create fence %d: %w", i, err)
		}
	}
	return nil
}

func (c *Chain) destroySyncObjects() {
	for _, f := range c.frames {
		if f.renderFinished != vulkan.Semaphore(vulkan.NullHandle) {
			c.dev.DestroySemaphore(f.renderFinished)
		}
		if f.imageAvailable != vulkan.Semaphore(vulkan.NullHandle) {
			c.dev.DestroySemaphore(f.imageAvailable)
		}
		if f.inFlight != vulkan.Fence(vulkan.NullHandle) {
			c.dev.DestroyFence(f.inFlight)
		}
	}
	c.frames = nil
	c.imageGuards = nil
}

// CurrentFrame is the index of the frame-in-flight slot the next acquire
// will use.
func (c *Chain) CurrentFrame() int { return c.currentFrame }

func (c *Chain) waitFence(f vulkan.Fence) error {
	switch res := c.dev.WaitForFence(f, c.timeout); res {
	case vulkan.Success:
		return nil
	case vulkan.Timeout:
		return ErrTimeout
	default:
		return vulkan.Error(res)
	}
}

// AcquireNextImage waits until the current frame's previous submission has
// finished, then asks the presentation engine for the next image. The
// frame's image-available semaphore is signaled once the image is usable.
//
// On StatusOutOfDate the returned index is meaningless and the chain must
// be rebuilt before it is used again.
func (c *Chain) AcquireNextImage() (uint32, Status, error) {
	frame := c.frames[c.currentFrame]
	if err := c.waitFence(frame.inFlight); err != nil {
		return 0, StatusSuccess, fmt.Errorf("wait for frame %d: %w", c.currentFrame, err)
	}

	index, res := c.dev.AcquireNextImage(c.handle, c.timeout, frame.imageAvailable)
	status, err := statusOf("acquire next image", res)
	if err != nil || status == StatusOutOfDate {
		return 0, status, err
	}
	if int(index) >= len(c.slots) {
		return 0, status, fmt.Errorf("acquire next image: index %d out of range (%d images)", index, len(c.slots))
	}
	return index, status, nil
}

// WaitForImage blocks until no other frame in flight is still rendering to
// the image at index. The command buffer tied to that image may be
// re-recorded once it returns.
func (c *Chain) WaitForImage(index uint32) error {
	guard := c.imageGuards[index]
	if guard == noGuard || guard == c.currentFrame {
		return nil
	}
	if err := c.waitFence(c.frames[guard].inFlight); err != nil {
		return fmt.Errorf("wait for image %d (frame %d): %w", index, guard, err)
	}
	c.imageGuards[index] = noGuard
	return nil
}

// SubmitCommandBuffers submits cb for the image at index and queues that
// image for presentation. The current frame then advances.
func (c *Chain) SubmitCommandBuffers(cb vulkan.CommandBuffer, index uint32) (Status, error) {
	if int(index) >= len(c.slots) {
		return StatusSuccess, fmt.Errorf("submit: index %d out of range (%d images)", index, len(c.slots))
	}
	if err := c.WaitForImage(index); err != nil {
		return StatusSuccess, err
	}
	c.imageGuards[index] = c.currentFrame

	frame := c.frames[c.currentFrame]
	if err := c.dev.ResetFence(frame.inFlight); err != nil {
		return StatusSuccess, fmt.Errorf("reset fence %d: %w", c.currentFrame, err)
	}

	submitInfo := vulkan.SubmitInfo{
		SType:                vulkan.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vulkan.Semaphore{frame.imageAvailable},
		PWaitDstStageMask:    []vulkan.PipelineStageFlags{vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vulkan.CommandBuffer{cb},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vulkan.Semaphore{frame.renderFinished},
	}
	if err := c.dev.QueueSubmit(submitInfo, frame.inFlight); err != nil {
		return StatusSuccess, fmt.Errorf("queue submit: %w", err)
	}

	presentInfo := vulkan.PresentInfo{
		SType:              vulkan.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{frame.renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vulkan.Swapchain{c.handle},
		PImageIndices:      []uint32{index},
	}
	res := c.dev.QueuePresent(&presentInfo)

	c.currentFrame = (c.currentFrame + 1) % MaxFramesInFlight
	return statusOf("queue present", res)
}
