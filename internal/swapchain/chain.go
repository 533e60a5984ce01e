// Package swapchain owns the chain of presentable images together with the
// depth buffers, render pass, framebuffers and per-frame synchronization
// needed to render into them.
package swapchain

import (
	"fmt"
	"time"

	"github.com/vulkan-go/vulkan"
)

// MaxFramesInFlight is the number of frames the CPU may record ahead of
// the GPU. It is independent of the number of images in the chain.
const MaxFramesInFlight = 2

// Config tunes chain construction.
type Config struct {
	// PresentModes lists the preferred present modes in order. FIFO is
	// used when none of them is available.
	PresentModes []vulkan.PresentMode
	// FenceTimeout bounds every fence wait and image acquisition. Zero
	// waits forever.
	FenceTimeout time.Duration
}

// DefaultConfig prefers mailbox presentation and waits without a timeout.
func DefaultConfig() Config {
	return Config{
		PresentModes: []vulkan.PresentMode{vulkan.PresentModeMailbox},
	}
}

// Formats identifies the attachments a render pass was built for. Two
// chains with equal Formats produce compatible render passes.
type Formats struct {
	Color vulkan.Format
	Depth vulkan.Format
}

type slot struct {
	image       vulkan.Image
	view        vulkan.ImageView
	depthImage  vulkan.Image
	depthMemory vulkan.DeviceMemory
	depthView   vulkan.ImageView
	framebuffer vulkan.Framebuffer
}

type frameSync struct {
	imageAvailable vulkan.Semaphore
	renderFinished vulkan.Semaphore
	inFlight       vulkan.Fence
}

// Chain is an owning aggregate of every per-chain GPU resource. It must be
// released with Destroy.
type Chain struct {
	dev     Device
	cfg     Config
	timeout uint64

	handle      vulkan.Swapchain
	colorFormat vulkan.Format
	depthFormat vulkan.Format
	presentMode vulkan.PresentMode
	extent      vulkan.Extent2D
	slots       []slot
	renderPass  vulkan.RenderPass

	frames       []frameSync
	imageGuards  []int
	currentFrame int

	destroyed bool
}

// New builds a chain for the requested window extent.
//
// previous, when non-nil, is the chain being replaced. Its swapchain is
// handed to the driver as the retired swapchain and the whole chain is
// destroyed before New returns, whether or not construction succeeded.
// The caller must not use previous afterwards.
func New(dev Device, extent vulkan.Extent2D, previous *Chain, cfg Config) (*Chain, error) {
	if previous != nil {
		defer previous.Destroy()
	}
	if extent.Width == 0 || extent.Height == 0 {
		return nil, fmt.Errorf("new chain %dx%d: %w", extent.Width, extent.Height, ErrDegenerateExtent)
	}

	c := &Chain{
		dev:     dev,
		cfg:     cfg,
		timeout: timeoutOf(cfg.FenceTimeout),
	}
	old := vulkan.Swapchain(vulkan.NullHandle)
	if previous != nil {
		old = previous.handle
	}
	if err := c.init(extent, old); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

func timeoutOf(d time.Duration) uint64 {
	if d <= 0 {
		return vulkan.MaxUint64
	}
	return uint64(d.Nanoseconds())
}

func (c *Chain) init(extent vulkan.Extent2D, old vulkan.Swapchain) error {
	if err := c.createSwapchain(extent, old); err != nil {
		return err
	}
	if err := c.createImageViews(); err != nil {
		return err
	}
	if err := c.createDepthResources(); err != nil {
		return err
	}
	if err := c.createRenderPass(); err != nil {
		return err
	}
	if err := c.createFramebuffers(); err != nil {
		return err
	}
	return c.createSyncObjects()
}

func (c *Chain) createSwapchain(requested vulkan.Extent2D, old vulkan.Swapchain) error {
	support, err := c.dev.SwapchainSupport()
	if err != nil {
		return fmt.Errorf("query swapchain support: %w", err)
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return ErrNoFormats
	}

	surfaceFormat := chooseSurfaceFormat(support.Formats)
	presentMode := choosePresentMode(support.PresentModes, c.cfg.PresentModes)
	extent := chooseExtent(support.Capabilities, requested)
	if extent.Width == 0 || extent.Height == 0 {
		return fmt.Errorf("create swapchain %dx%d: %w", extent.Width, extent.Height, ErrDegenerateExtent)
	}
	imageCount := chooseImageCount(support.Capabilities)

	createInfo := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          c.dev.Surface(),
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vulkan.True,
		OldSwapchain:     old,
	}

	families := c.dev.QueueFamilies()
	if families.Graphics != families.Present {
		indices := []uint32{families.Graphics, families.Present}
		createInfo.ImageSharingMode = vulkan.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = uint32(len(indices))
		createInfo.PQueueFamilyIndices = indices
	} else {
		createInfo.ImageSharingMode = vulkan.SharingModeExclusive
	}

	handle, err := c.dev.CreateSwapchain(&createInfo)
	if err != nil {
		return fmt.Errorf("create swapchain: %w", err)
	}
	c.handle = handle

	images, err := c.dev.SwapchainImages(handle)
	if err != nil {
		return fmt.Errorf("get swapchain images: %w", err)
	}
	c.slots = make([]slot, len(images))
	for i, img := range images {
		c.slots[i].image = img
	}
	c.colorFormat = surfaceFormat.Format
	c.presentMode = presentMode
	c.extent = extent
	return nil
}

func (c *Chain) createImageViews() error {
	for i := range c.slots {
		view, err := c.dev.CreateImageView(imageViewInfo(c.slots[i].image, c.colorFormat, vulkan.ImageAspectColorBit))
		if err != nil {
			return fmt.Errorf("create image view %d: %w", i, err)
		}
		c.slots[i].view = view
	}
	return nil
}

func (c *Chain) createDepthResources() error {
	depthFormat, err := c.dev.FindDepthFormat()
	if err != nil {
		return fmt.Errorf("find depth format: %w", err)
	}
	c.depthFormat = depthFormat

	for i := range c.slots {
		imageInfo := vulkan.ImageCreateInfo{
			SType:     vulkan.StructureTypeImageCreateInfo,
			ImageType: vulkan.ImageType2d,
			Extent: vulkan.Extent3D{
				Width:  c.extent.Width,
				Height: c.extent.Height,
				Depth:  1,
			},
			MipLevels:     1,
			ArrayLayers:   1,
			Format:        depthFormat,
			Tiling:        vulkan.ImageTilingOptimal,
			InitialLayout: vulkan.ImageLayoutUndefined,
			Usage:         vulkan.ImageUsageFlags(vulkan.ImageUsageDepthStencilAttachmentBit),
			Samples:       vulkan.SampleCount1Bit,
			SharingMode:   vulkan.SharingModeExclusive,
		}
		image, memory, err := c.dev.CreateImage(&imageInfo, vulkan.MemoryPropertyDeviceLocalBit)
		if err != nil {
			return fmt.Errorf("create depth image %d: %w", i, err)
		}
		c.slots[i].depthImage = image
		c.slots[i].depthMemory = memory

		view, err := c.dev.CreateImageView(imageViewInfo(image, depthFormat, vulkan.ImageAspectDepthBit))
		if err != nil {
			return fmt.Errorf("create depth image view %d: %w", i, err)
		}
		c.slots[i].depthView = view
	}
	return nil
}

func imageViewInfo(image vulkan.Image, format vulkan.Format, aspect vulkan.ImageAspectFlagBits) *vulkan.ImageViewCreateInfo {
	return &vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vulkan.ImageViewType2d,
		Format:   format,
		Components: vulkan.ComponentMapping{
			R: vulkan.ComponentSwizzleIdentity,
			G: vulkan.ComponentSwizzleIdentity,
			B: vulkan.ComponentSwizzleIdentity,
			A: vulkan.ComponentSwizzleIdentity,
		},
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask:     vulkan.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
}

func (c *Chain) createRenderPass() error {
	colorAttachment := vulkan.AttachmentDescription{
		Format:         c.colorFormat,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpStore,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutPresentSrc,
	}
	depthAttachment := vulkan.AttachmentDescription{
		Format:         c.depthFormat,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpDontCare,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutDepthStencilAttachmentOptimal,
	}

	colorRef := vulkan.AttachmentReference{
		Attachment: 0,
		Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
	}
	depthRef := vulkan.AttachmentReference{
		Attachment: 1,
		Layout:     vulkan.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:       vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vulkan.AttachmentReference{colorRef},
		PDepthStencilAttachment: &depthRef,
	}

	stages := vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit | vulkan.PipelineStageEarlyFragmentTestsBit)
	dependency := vulkan.SubpassDependency{
		SrcSubpass:    vulkan.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		SrcAccessMask: 0,
		DstStageMask:  stages,
		DstAccessMask: vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit | vulkan.AccessDepthStencilAttachmentWriteBit),
	}

	attachments := []vulkan.AttachmentDescription{colorAttachment, depthAttachment}
	createInfo := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vulkan.SubpassDependency{dependency},
	}

	rp, err := c.dev.CreateRenderPass(&createInfo)
	if err != nil {
		return fmt.Errorf("create render pass: %w", err)
	}
	c.renderPass = rp
	return nil
}

func (c *Chain) createFramebuffers() error {
	for i := range c.slots {
		attachments := []vulkan.ImageView{c.slots[i].view, c.slots[i].depthView}
		createInfo := vulkan.FramebufferCreateInfo{
			SType:           vulkan.StructureTypeFramebufferCreateInfo,
			RenderPass:      c.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           c.extent.Width,
			Height:          c.extent.Height,
			Layers:          1,
		}
		fb, err := c.dev.CreateFramebuffer(&createInfo)
		if err != nil {
			return fmt.Errorf("create framebuffer %d: %w", i, err)
		}
		c.slots[i].framebuffer = fb
	}
	return nil
}

// Destroy releases every resource owned by the chain in reverse dependency
// order. It tolerates a partially built chain and may be called more than
// once.
func (c *Chain) Destroy() {
	if c == nil || c.destroyed {
		return
	}
	c.destroyed = true

	for _, s := range c.slots {
		if s.framebuffer != vulkan.Framebuffer(vulkan.NullHandle) {
			c.dev.DestroyFramebuffer(s.framebuffer)
		}
	}
	for _, s := range c.slots {
		if s.view != vulkan.ImageView(vulkan.NullHandle) {
			c.dev.DestroyImageView(s.view)
		}
	}
	for _, s := range c.slots {
		if s.depthView != vulkan.ImageView(vulkan.NullHandle) {
			c.dev.DestroyImageView(s.depthView)
		}
		if s.depthImage != vulkan.Image(vulkan.NullHandle) {
			c.dev.DestroyImage(s.depthImage, s.depthMemory)
		}
	}
	c.slots = nil

	if c.handle != vulkan.Swapchain(vulkan.NullHandle) {
		c.dev.DestroySwapchain(c.handle)
		c.handle = vulkan.Swapchain(vulkan.NullHandle)
	}
	if c.renderPass != vulkan.RenderPass(vulkan.NullHandle) {
		c.dev.DestroyRenderPass(c.renderPass)
		c.renderPass = vulkan.RenderPass(vulkan.NullHandle)
	}
	c.destroySyncObjects()
}

// ImageCount is the number of presentable images the driver created.
func (c *Chain) ImageCount() int { return len(c.slots) }

// Extent is the size of every image in the chain.
func (c *Chain) Extent() vulkan.Extent2D { return c.extent }

// Width and Height are the components of Extent.
func (c *Chain) Width() uint32  { return c.extent.Width }
func (c *Chain) Height() uint32 { return c.extent.Height }

// AspectRatio is width over height of the chain extent.
func (c *Chain) AspectRatio() float32 {
	return float32(c.extent.Width) / float32(c.extent.Height)
}

// RenderPass is the single render pass every framebuffer of the chain
// targets.
func (c *Chain) RenderPass() vulkan.RenderPass { return c.renderPass }

// Framebuffer returns the framebuffer of image index. It panics if index is
// not below ImageCount.
func (c *Chain) Framebuffer(index int) vulkan.Framebuffer { return c.slots[index].framebuffer }

// ImageView returns the color view of image index.
func (c *Chain) ImageView(index int) vulkan.ImageView { return c.slots[index].view }

// ImageFormat is the color format chosen for the surface.
func (c *Chain) ImageFormat() vulkan.Format { return c.colorFormat }

// DepthFormat is the format of the per-image depth attachments.
func (c *Chain) DepthFormat() vulkan.Format { return c.depthFormat }

// PresentMode is the mode the swapchain was created with. It may differ
// from the configured preference when the surface does not offer it.
func (c *Chain) PresentMode() vulkan.PresentMode { return c.presentMode }

// Formats returns the render pass compatibility key of the chain.
func (c *Chain) Formats() Formats {
	return Formats{Color: c.colorFormat, Depth: c.depthFormat}
}
