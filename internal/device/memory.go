package device

import (
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"
)

// CreateBuffer creates a buffer and binds freshly allocated memory with the
// requested properties to it.
func (c *Context) CreateBuffer(size vulkan.DeviceSize, usage vulkan.BufferUsageFlags, properties vulkan.MemoryPropertyFlagBits) (vulkan.Buffer, vulkan.DeviceMemory, error) {
	bufferInfo := vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vulkan.SharingModeExclusive,
	}
	var buffer vulkan.Buffer
	if res := vulkan.CreateBuffer(c.device, &bufferInfo, nil, &buffer); res != vulkan.Success {
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("create buffer: %w", vulkan.Error(res))
	}

	var memReq vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(c.device, buffer, &memReq)
	memReq.Deref()
	memoryType, err := c.FindMemoryType(memReq.MemoryTypeBits, properties)
	if err != nil {
		vulkan.DestroyBuffer(c.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), err
	}
	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vulkan.DeviceMemory
	if res := vulkan.AllocateMemory(c.device, &allocInfo, nil, &memory); res != vulkan.Success {
		vulkan.DestroyBuffer(c.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("allocate buffer memory: %w", vulkan.Error(res))
	}
	if res := vulkan.BindBufferMemory(c.device, buffer, memory, 0); res != vulkan.Success {
		vulkan.DestroyBuffer(c.device, buffer, nil)
		vulkan.FreeMemory(c.device, memory, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("bind buffer memory: %w", vulkan.Error(res))
	}
	return buffer, memory, nil
}

func (c *Context) DestroyBuffer(buffer vulkan.Buffer, memory vulkan.DeviceMemory) {
	vulkan.DestroyBuffer(c.device, buffer, nil)
	vulkan.FreeMemory(c.device, memory, nil)
}

// Upload copies data into host-visible memory.
func (c *Context) Upload(memory vulkan.DeviceMemory, data []byte) error {
	size := vulkan.DeviceSize(len(data))
	var mapped unsafe.Pointer
	if res := vulkan.MapMemory(c.device, memory, 0, size, 0, &mapped); res != vulkan.Success {
		return fmt.Errorf("map memory: %w", vulkan.Error(res))
	}
	copy(unsafe.Slice((*byte)(mapped), len(data)), data)
	vulkan.UnmapMemory(c.device, memory)
	return nil
}

// CopyBuffer copies size bytes from src to dst and waits for the copy.
func (c *Context) CopyBuffer(src, dst vulkan.Buffer, size vulkan.DeviceSize) error {
	cb, err := c.BeginSingleTimeCommands()
	if err != nil {
		return err
	}
	vulkan.CmdCopyBuffer(cb, src, dst, 1, []vulkan.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: size}})
	return c.EndSingleTimeCommands(cb)
}

// CreateImage creates an image and binds memory with the requested
// properties to it.
func (c *Context) CreateImage(info *vulkan.ImageCreateInfo, properties vulkan.MemoryPropertyFlagBits) (vulkan.Image, vulkan.DeviceMemory, error) {
	var image vulkan.Image
	if res := vulkan.CreateImage(c.device, info, nil, &image); res != vulkan.Success {
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("create image: %w", vulkan.Error(res))
	}

	var memReq vulkan.MemoryRequirements
	vulkan.GetImageMemoryRequirements(c.device, image, &memReq)
	memReq.Deref()
	memoryType, err := c.FindMemoryType(memReq.MemoryTypeBits, properties)
	if err != nil {
		vulkan.DestroyImage(c.device, image, nil)
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), err
	}
	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vulkan.DeviceMemory
	if res := vulkan.AllocateMemory(c.device, &allocInfo, nil, &memory); res != vulkan.Success {
		vulkan.DestroyImage(c.device, image, nil)
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("allocate image memory: %w", vulkan.Error(res))
	}
	if res := vulkan.BindImageMemory(c.device, image, memory, 0); res != vulkan.Success {
		vulkan.DestroyImage(c.device, image, nil)
		vulkan.FreeMemory(c.device, memory, nil)
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("bind image memory: %w", vulkan.Error(res))
	}
	return image, memory, nil
}

func (c *Context) DestroyImage(image vulkan.Image, memory vulkan.DeviceMemory) {
	vulkan.DestroyImage(c.device, image, nil)
	vulkan.FreeMemory(c.device, memory, nil)
}

func (c *Context) FindMemoryType(typeFilter uint32, properties vulkan.MemoryPropertyFlagBits) (uint32, error) {
	var memProps vulkan.PhysicalDeviceMemoryProperties
	vulkan.GetPhysicalDeviceMemoryProperties(c.physicalDevice, &memProps)
	memProps.Deref()

	flags := make([]vulkan.MemoryPropertyFlags, memProps.MemoryTypeCount)
	for i := range flags {
		memoryType := memProps.MemoryTypes[i]
		memoryType.Deref()
		flags[i] = memoryType.PropertyFlags
	}
	index, ok := selectMemoryType(flags, typeFilter, vulkan.MemoryPropertyFlags(properties))
	if !ok {
		return 0, fmt.Errorf("filter 0x%x properties 0x%x: %w", typeFilter, properties, ErrNoMemoryType)
	}
	return index, nil
}

func selectMemoryType(types []vulkan.MemoryPropertyFlags, typeFilter uint32, want vulkan.MemoryPropertyFlags) (uint32, bool) {
	for i, flags := range types {
		if typeFilter&(1<<uint(i)) != 0 && flags&want == want {
			return uint32(i), true
		}
	}
	return 0, false
}

func (c *Context) FindSupportedFormat(candidates []vulkan.Format, tiling vulkan.ImageTiling, features vulkan.FormatFeatureFlags) (vulkan.Format, error) {
	for _, format := range candidates {
		var props vulkan.FormatProperties
		vulkan.GetPhysicalDeviceFormatProperties(c.physicalDevice, format, &props)
		props.Deref()
		if tiling == vulkan.ImageTilingLinear && props.LinearTilingFeatures&features == features {
			return format, nil
		}
		if tiling == vulkan.ImageTilingOptimal && props.OptimalTilingFeatures&features == features {
			return format, nil
		}
	}
	return vulkan.FormatUndefined, ErrNoSupportedFormat
}

// FindDepthFormat returns the first of D32, D32S8 and D24S8 usable as an
// optimally tiled depth attachment.
func (c *Context) FindDepthFormat() (vulkan.Format, error) {
	candidates := []vulkan.Format{
		vulkan.FormatD32Sfloat,
		vulkan.FormatD32SfloatS8Uint,
		vulkan.FormatD24UnormS8Uint,
	}
	return c.FindSupportedFormat(candidates, vulkan.ImageTilingOptimal, vulkan.FormatFeatureFlags(vulkan.FormatFeatureDepthStencilAttachmentBit))
}

// BeginSingleTimeCommands allocates and begins a one-shot command buffer.
func (c *Context) BeginSingleTimeCommands() (vulkan.CommandBuffer, error) {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandPool:        c.commandPool,
		CommandBufferCount: 1,
	}
	cbs := make([]vulkan.CommandBuffer, 1)
	if res := vulkan.AllocateCommandBuffers(c.device, &allocInfo, cbs); res != vulkan.Success {
		return nil, fmt.Errorf("allocate single-use command buffer: %w", vulkan.Error(res))
	}
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vulkan.BeginCommandBuffer(cbs[0], &beginInfo); res != vulkan.Success {
		vulkan.FreeCommandBuffers(c.device, c.commandPool, 1, cbs)
		return nil, fmt.Errorf("begin single-use command buffer: %w", vulkan.Error(res))
	}
	return cbs[0], nil
}

// EndSingleTimeCommands submits cb to the graphics queue, waits for it and
// frees it.
func (c *Context) EndSingleTimeCommands(cb vulkan.CommandBuffer) error {
	cbs := []vulkan.CommandBuffer{cb}
	defer vulkan.FreeCommandBuffers(c.device, c.commandPool, 1, cbs)

	if res := vulkan.EndCommandBuffer(cb); res != vulkan.Success {
		return fmt.Errorf("end single-use command buffer: %w", vulkan.Error(res))
	}
	submitInfo := vulkan.SubmitInfo{
		SType:              vulkan.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cbs,
	}
	if res := vulkan.QueueSubmit(c.graphicsQueue, 1, []vulkan.SubmitInfo{submitInfo}, vulkan.Fence(vulkan.NullHandle)); res != vulkan.Success {
		return fmt.Errorf("submit single-use command buffer: %w", vulkan.Error(res))
	}
	if res := vulkan.QueueWaitIdle(c.graphicsQueue); res != vulkan.Success {
		return fmt.Errorf("wait for single-use command buffer: %w", vulkan.Error(res))
	}
	return nil
}
