package swapchain

import (
	"github.com/vulkan-go/vulkan"
)

// Support describes what the window surface supports on the selected
// physical device.
type Support struct {
	Capabilities vulkan.SurfaceCapabilities
	Formats      []vulkan.SurfaceFormat
	PresentModes []vulkan.PresentMode
}

// QueueFamilies holds the queue family indices used for rendering and
// presentation. They may be equal.
type QueueFamilies struct {
	Graphics uint32
	Present  uint32
}

// Device is the part of the device context a Chain drives.
type Device interface {
	Surface() vulkan.Surface
	SwapchainSupport() (Support, error)
	QueueFamilies() QueueFamilies
	FindDepthFormat() (vulkan.Format, error)

	CreateSwapchain(info *vulkan.SwapchainCreateInfo) (vulkan.Swapchain, error)
	SwapchainImages(sc vulkan.Swapchain) ([]vulkan.Image, error)
	DestroySwapchain(sc vulkan.Swapchain)

	CreateImage(info *vulkan.ImageCreateInfo, properties vulkan.MemoryPropertyFlagBits) (vulkan.Image, vulkan.DeviceMemory, error)
	DestroyImage(image vulkan.Image, memory vulkan.DeviceMemory)
	CreateImageView(info *vulkan.ImageViewCreateInfo) (vulkan.ImageView, error)
	DestroyImageView(view vulkan.ImageView)

	CreateRenderPass(info *vulkan.RenderPassCreateInfo) (vulkan.RenderPass, error)
	DestroyRenderPass(rp vulkan.RenderPass)
	CreateFramebuffer(info *vulkan.FramebufferCreateInfo) (vulkan.Framebuffer, error)
	DestroyFramebuffer(fb vulkan.Framebuffer)

	CreateSemaphore() (vulkan.Semaphore, error)
	DestroySemaphore(s vulkan.Semaphore)
	CreateFence(signaled bool) (vulkan.Fence, error)
	DestroyFence(f vulkan.Fence)
	WaitForFence(f vulkan.Fence, timeout uint64) vulkan.Result
	ResetFence(f vulkan.Fence) error

	AcquireNextImage(sc vulkan.Swapchain, timeout uint64, signal vulkan.Semaphore) (uint32, vulkan.Result)
	QueueSubmit(info vulkan.SubmitInfo, fence vulkan.Fence) error
	QueuePresent(info *vulkan.PresentInfo) vulkan.Result
}
