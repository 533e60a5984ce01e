package device

import (
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"
)

func (c *Context) WaitIdle() error {
	if res := vulkan.DeviceWaitIdle(c.device); res != vulkan.Success {
		return fmt.Errorf("device wait idle: %w", vulkan.Error(res))
	}
	return nil
}

func (c *Context) CreateSwapchain(info *vulkan.SwapchainCreateInfo) (vulkan.Swapchain, error) {
	var sc vulkan.Swapchain
	if res := vulkan.CreateSwapchain(c.device, info, nil, &sc); res != vulkan.Success {
		return vulkan.Swapchain(vulkan.NullHandle), vulkan.Error(res)
	}
	return sc, nil
}

func (c *Context) SwapchainImages(sc vulkan.Swapchain) ([]vulkan.Image, error) {
	var count uint32
	if res := vulkan.GetSwapchainImages(c.device, sc, &count, nil); res != vulkan.Success {
		return nil, vulkan.Error(res)
	}
	images := make([]vulkan.Image, count)
	if res := vulkan.GetSwapchainImages(c.device, sc, &count, images); res != vulkan.Success {
		return nil, vulkan.Error(res)
	}
	return images[:count], nil
}

func (c *Context) DestroySwapchain(sc vulkan.Swapchain) {
	vulkan.DestroySwapchain(c.device, sc, nil)
}

func (c *Context) CreateImageView(info *vulkan.ImageViewCreateInfo) (vulkan.ImageView, error) {
	var view vulkan.ImageView
	if res := vulkan.CreateImageView(c.device, info, nil, &view); res != vulkan.Success {
		return vulkan.ImageView(vulkan.NullHandle), vulkan.Error(res)
	}
	return view, nil
}

func (c *Context) DestroyImageView(view vulkan.ImageView) {
	vulkan.DestroyImageView(c.device, view, nil)
}

func (c *Context) CreateRenderPass(info *vulkan.RenderPassCreateInfo) (vulkan.RenderPass, error) {
	var rp vulkan.RenderPass
	if res := vulkan.CreateRenderPass(c.device, info, nil, &rp); res != vulkan.Success {
		return vulkan.RenderPass(vulkan.NullHandle), vulkan.Error(res)
	}
	return rp, nil
}

func (c *Context) DestroyRenderPass(rp vulkan.RenderPass) {
	vulkan.DestroyRenderPass(c.device, rp, nil)
}

func (c *Context) CreateFramebuffer(info *vulkan.FramebufferCreateInfo) (vulkan.Framebuffer, error) {
	var fb vulkan.Framebuffer
	if res := vulkan.CreateFramebuffer(c.device, info, nil, &fb); res != vulkan.Success {
		return vulkan.Framebuffer(vulkan.NullHandle), vulkan.Error(res)
	}
	return fb, nil
}

func (c *Context) DestroyFramebuffer(fb vulkan.Framebuffer) {
	vulkan.DestroyFramebuffer(c.device, fb, nil)
}

func (c *Context) CreateSemaphore() (vulkan.Semaphore, error) {
	info := vulkan.SemaphoreCreateInfo{SType: vulkan.StructureTypeSemaphoreCreateInfo}
	var s vulkan.Semaphore
	if res := vulkan.CreateSemaphore(c.device, &info, nil, &s); res != vulkan.Success {
		return vulkan.Semaphore(vulkan.NullHandle), vulkan.Error(res)
	}
	return s, nil
}

func (c *Context) DestroySemaphore(s vulkan.Semaphore) {
	vulkan.DestroySemaphore(c.device, s, nil)
}

func (c *Context) CreateFence(signaled bool) (vulkan.Fence, error) {
	info := vulkan.FenceCreateInfo{SType: vulkan.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vulkan.FenceCreateFlags(vulkan.FenceCreateSignaledBit)
	}
	var f vulkan.Fence
	if res := vulkan.CreateFence(c.device, &info, nil, &f); res != vulkan.Success {
		return vulkan.Fence(vulkan.NullHandle), vulkan.Error(res)
	}
	return f, nil
}

func (c *Context) DestroyFence(f vulkan.Fence) {
	vulkan.DestroyFence(c.device, f, nil)
}

func (c *Context) WaitForFence(f vulkan.Fence, timeout uint64) vulkan.Result {
	return vulkan.WaitForFences(c.device, 1, []vulkan.Fence{f}, vulkan.True, timeout)
}

func (c *Context) ResetFence(f vulkan.Fence) error {
	return vulkan.Error(vulkan.ResetFences(c.device, 1, []vulkan.Fence{f}))
}

func (c *Context) AcquireNextImage(sc vulkan.Swapchain, timeout uint64, signal vulkan.Semaphore) (uint32, vulkan.Result) {
	var index uint32
	res := vulkan.AcquireNextImage(c.device, sc, timeout, signal, vulkan.Fence(vulkan.NullHandle), &index)
	return index, res
}

func (c *Context) QueueSubmit(info vulkan.SubmitInfo, fence vulkan.Fence) error {
	return vulkan.Error(vulkan.QueueSubmit(c.graphicsQueue, 1, []vulkan.SubmitInfo{info}, fence))
}

func (c *Context) QueuePresent(info *vulkan.PresentInfo) vulkan.Result {
	return vulkan.QueuePresent(c.presentQueue, info)
}

func (c *Context) AllocateCommandBuffers(count int) ([]vulkan.CommandBuffer, error) {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.commandPool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	cbs := make([]vulkan.CommandBuffer, count)
	if res := vulkan.AllocateCommandBuffers(c.device, &allocInfo, cbs); res != vulkan.Success {
		return nil, vulkan.Error(res)
	}
	return cbs, nil
}

func (c *Context) FreeCommandBuffers(cbs []vulkan.CommandBuffer) {
	vulkan.FreeCommandBuffers(c.device, c.commandPool, uint32(len(cbs)), cbs)
}

func (c *Context) ResetCommandBuffer(cb vulkan.CommandBuffer) error {
	return vulkan.Error(vulkan.ResetCommandBuffer(cb, 0))
}

func (c *Context) BeginCommandBuffer(cb vulkan.CommandBuffer) error {
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
	}
	return vulkan.Error(vulkan.BeginCommandBuffer(cb, &beginInfo))
}

func (c *Context) EndCommandBuffer(cb vulkan.CommandBuffer) error {
	return vulkan.Error(vulkan.EndCommandBuffer(cb))
}

func (c *Context) CmdBeginRenderPass(cb vulkan.CommandBuffer, info *vulkan.RenderPassBeginInfo) {
	vulkan.CmdBeginRenderPass(cb, info, vulkan.SubpassContentsInline)
}

func (c *Context) CmdEndRenderPass(cb vulkan.CommandBuffer) {
	vulkan.CmdEndRenderPass(cb)
}

func (c *Context) CmdSetViewport(cb vulkan.CommandBuffer, viewport vulkan.Viewport) {
	vulkan.CmdSetViewport(cb, 0, 1, []vulkan.Viewport{viewport})
}

func (c *Context) CmdSetScissor(cb vulkan.CommandBuffer, scissor vulkan.Rect2D) {
	vulkan.CmdSetScissor(cb, 0, 1, []vulkan.Rect2D{scissor})
}

func (c *Context) CmdBindVertexBuffer(cb vulkan.CommandBuffer, buffer vulkan.Buffer) {
	vulkan.CmdBindVertexBuffers(cb, 0, 1, []vulkan.Buffer{buffer}, []vulkan.DeviceSize{0})
}

func (c *Context) CmdDraw(cb vulkan.CommandBuffer, vertexCount uint32) {
	vulkan.CmdDraw(cb, vertexCount, 1, 0, 0)
}

func (c *Context) CmdBindPipeline(cb vulkan.CommandBuffer, p vulkan.Pipeline) {
	vulkan.CmdBindPipeline(cb, vulkan.PipelineBindPointGraphics, p)
}

func (c *Context) CreateShaderModule(code []byte) (vulkan.ShaderModule, error) {
	words, err := shaderWords(code)
	if err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), err
	}
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vulkan.ShaderModule
	if res := vulkan.CreateShaderModule(c.device, &createInfo, nil, &module); res != vulkan.Success {
		return vulkan.ShaderModule(vulkan.NullHandle), vulkan.Error(res)
	}
	return module, nil
}

// shaderWords reinterprets SPIR-V bytes as the uint32 words Vulkan reads.
func shaderWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("shader code length %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(code)), code)
	return words, nil
}

func (c *Context) DestroyShaderModule(module vulkan.ShaderModule) {
	vulkan.DestroyShaderModule(c.device, module, nil)
}

func (c *Context) CreatePipelineLayout(info *vulkan.PipelineLayoutCreateInfo) (vulkan.PipelineLayout, error) {
	var layout vulkan.PipelineLayout
	if res := vulkan.CreatePipelineLayout(c.device, info, nil, &layout); res != vulkan.Success {
		return vulkan.PipelineLayout(vulkan.NullHandle), vulkan.Error(res)
	}
	return layout, nil
}

func (c *Context) DestroyPipelineLayout(layout vulkan.PipelineLayout) {
	vulkan.DestroyPipelineLayout(c.device, layout, nil)
}

func (c *Context) CreateGraphicsPipeline(info vulkan.GraphicsPipelineCreateInfo) (vulkan.Pipeline, error) {
	pipelines := make([]vulkan.Pipeline, 1)
	if res := vulkan.CreateGraphicsPipelines(c.device, vulkan.PipelineCache(vulkan.NullHandle), 1, []vulkan.GraphicsPipelineCreateInfo{info}, nil, pipelines); res != vulkan.Success {
		return vulkan.Pipeline(vulkan.NullHandle), vulkan.Error(res)
	}
	return pipelines[0], nil
}

func (c *Context) DestroyPipeline(p vulkan.Pipeline) {
	vulkan.DestroyPipeline(c.device, p, nil)
}
