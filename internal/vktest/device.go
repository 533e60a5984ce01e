// Package vktest provides an in-memory device for testing code that drives
// Vulkan through the narrow interfaces of the swapchain, renderer, model
// and pipeline packages. No GPU is involved.
package vktest

/*
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/swapchain"
)

const arenaSize = 1 << 16

// Acquire scripts one AcquireNextImage result.
type Acquire struct {
	Index  uint32
	Result vulkan.Result
}

// Submit records one QueueSubmit call.
type Submit struct {
	CommandBuffer vulkan.CommandBuffer
	Fence         vulkan.Fence
	Wait          vulkan.Semaphore
	Signal        vulkan.Semaphore
}

// Device implements every device interface of the renderer stack.
//
// Handles are distinct non-nil pointers into a C-allocated arena owned by
// the Device. They are never dereferenced. The handle types are incomplete
// cgo types, so the arena must live outside the Go heap for reflection on
// handles to work. Misuse the real driver would reject, such as
// resetting a fence that is still pending or resubmitting a command buffer
// whose last submission was never waited on, is recorded in Violations.
type Device struct {
	Support  swapchain.Support
	Families swapchain.QueueFamilies
	Depth    vulkan.Format

	// ImageCount overrides how many images a swapchain gets. Zero hands out
	// exactly the requested minimum.
	ImageCount int

	// Scripted results, consumed front to back. When a queue is empty the
	// call succeeds; acquisition then hands out images round robin.
	AcquireResults []Acquire
	PresentResults []vulkan.Result
	WaitResults    []vulkan.Result

	// FailOn makes the named method return the error.
	FailOn map[string]error

	// OnWaitIdle runs inside WaitIdle.
	OnWaitIdle func()

	Calls          []string
	Violations     []string
	SwapchainInfos []vulkan.SwapchainCreateInfo
	Swapchains     []vulkan.Swapchain
	Submits        []Submit
	Presents       []uint32
	Recorded       []string
	Viewports      []vulkan.Viewport
	Pipelines      []vulkan.GraphicsPipelineCreateInfo
	Uploads        map[vulkan.DeviceMemory][]byte
	Copies         []vulkan.DeviceSize
	FenceWaits     int
	Timeouts       []uint64

	arena     unsafe.Pointer
	next      int
	live      map[unsafe.Pointer]string
	surface   vulkan.Surface
	images    map[vulkan.Swapchain][]vulkan.Image
	nextImage map[vulkan.Swapchain]uint32
	pending   map[vulkan.Fence]bool
	cbFence   map[vulkan.CommandBuffer]vulkan.Fence
}

// NewDevice returns a device whose surface lets the swapchain pick its
// extent, asks for 2..3 images and offers FIFO and mailbox presentation.
func NewDevice() *Device {
	d := &Device{
		Support: swapchain.Support{
			Capabilities: vulkan.SurfaceCapabilities{
				MinImageCount:  2,
				MaxImageCount:  3,
				CurrentExtent:  vulkan.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
				MinImageExtent: vulkan.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: vulkan.Extent2D{Width: 4096, Height: 4096},
			},
			Formats: []vulkan.SurfaceFormat{
				{Format: vulkan.FormatB8g8r8a8Unorm, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
				{Format: vulkan.FormatB8g8r8a8Srgb, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
			},
			PresentModes: []vulkan.PresentMode{vulkan.PresentModeFifo, vulkan.PresentModeMailbox},
		},
		Depth:     vulkan.FormatD32Sfloat,
		Uploads:   make(map[vulkan.DeviceMemory][]byte),
		arena:     C.calloc(arenaSize, 1),
		live:      make(map[unsafe.Pointer]string),
		images:    make(map[vulkan.Swapchain][]vulkan.Image),
		nextImage: make(map[vulkan.Swapchain]uint32),
		pending:   make(map[vulkan.Fence]bool),
		cbFence:   make(map[vulkan.CommandBuffer]vulkan.Fence),
	}
	runtime.SetFinalizer(d, func(d *Device) { C.free(d.arena) })
	d.surface = vulkan.Surface(d.newHandle("surface"))
	return d
}

func (d *Device) newHandle(kind string) unsafe.Pointer {
	if d.next >= arenaSize {
		panic("vktest: handle arena exhausted")
	}
	p := unsafe.Add(d.arena, d.next)
	d.next++
	d.live[p] = kind
	return p
}

func (d *Device) release(p unsafe.Pointer, kind string) {
	got, ok := d.live[p]
	switch {
	case !ok:
		d.violate("destroy of unknown or already destroyed %s", kind)
	case got != kind:
		d.violate("destroy of %s as %s", got, kind)
	default:
		delete(d.live, p)
	}
	d.Calls = append(d.Calls, "Destroy"+kind)
}

func (d *Device) violate(format string, args ...any) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

func (d *Device) fail(op string) error {
	d.Calls = append(d.Calls, op)
	if err, ok := d.FailOn[op]; ok {
		return err
	}
	return nil
}

// Live counts the live handles of a kind, e.g. "Framebuffer". An empty
// kind counts everything except the surface.
func (d *Device) Live(kind string) int {
	n := 0
	for _, k := range d.live {
		if (kind == "" && k != "surface") || k == kind {
			n++
		}
	}
	return n
}

// Count returns how many times op appears in Calls.
func (d *Device) Count(op string) int {
	n := 0
	for _, c := range d.Calls {
		if c == op {
			n++
		}
	}
	return n
}

// Index returns the position of the first call to op at or after from, or
// -1.
func (d *Device) Index(op string, from int) int {
	for i := from; i < len(d.Calls); i++ {
		if d.Calls[i] == op {
			return i
		}
	}
	return -1
}

// LastIndex returns the position of the last call to op, or -1.
func (d *Device) LastIndex(op string) int {
	for i := len(d.Calls) - 1; i >= 0; i-- {
		if d.Calls[i] == op {
			return i
		}
	}
	return -1
}

func (d *Device) Surface() vulkan.Surface { return d.surface }

func (d *Device) SwapchainSupport() (swapchain.Support, error) {
	return d.Support, d.fail("SwapchainSupport")
}

func (d *Device) QueueFamilies() swapchain.QueueFamilies { return d.Families }

func (d *Device) FindDepthFormat() (vulkan.Format, error) {
	return d.Depth, d.fail("FindDepthFormat")
}

func (d *Device) CreateSwapchain(info *vulkan.SwapchainCreateInfo) (vulkan.Swapchain, error) {
	if err := d.fail("CreateSwapchain"); err != nil {
		return vulkan.Swapchain(vulkan.NullHandle), err
	}
	d.SwapchainInfos = append(d.SwapchainInfos, *info)
	sc := vulkan.Swapchain(d.newHandle("Swapchain"))
	d.Swapchains = append(d.Swapchains, sc)
	count := d.ImageCount
	if count == 0 {
		count = int(info.MinImageCount)
	}
	images := make([]vulkan.Image, count)
	for i := range images {
		images[i] = vulkan.Image(d.newHandle("SwapchainImage"))
	}
	d.images[sc] = images
	return sc, nil
}

func (d *Device) SwapchainImages(sc vulkan.Swapchain) ([]vulkan.Image, error) {
	return d.images[sc], d.fail("SwapchainImages")
}

func (d *Device) DestroySwapchain(sc vulkan.Swapchain) {
	for _, img := range d.images[sc] {
		delete(d.live, unsafe.Pointer(img))
	}
	delete(d.images, sc)
	d.release(unsafe.Pointer(sc), "Swapchain")
}

func (d *Device) CreateImage(info *vulkan.ImageCreateInfo, properties vulkan.MemoryPropertyFlagBits) (vulkan.Image, vulkan.DeviceMemory, error) {
	if err := d.fail("CreateImage"); err != nil {
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), err
	}
	return vulkan.Image(d.newHandle("Image")), vulkan.DeviceMemory(d.newHandle("Memory")), nil
}

func (d *Device) DestroyImage(image vulkan.Image, memory vulkan.DeviceMemory) {
	d.release(unsafe.Pointer(image), "Image")
	d.release(unsafe.Pointer(memory), "Memory")
}

func (d *Device) CreateImageView(info *vulkan.ImageViewCreateInfo) (vulkan.ImageView, error) {
	if err := d.fail("CreateImageView"); err != nil {
		return vulkan.ImageView(vulkan.NullHandle), err
	}
	return vulkan.ImageView(d.newHandle("ImageView")), nil
}

func (d *Device) DestroyImageView(view vulkan.ImageView) {
	d.release(unsafe.Pointer(view), "ImageView")
}

func (d *Device) CreateRenderPass(info *vulkan.RenderPassCreateInfo) (vulkan.RenderPass, error) {
	if err := d.fail("CreateRenderPass"); err != nil {
		return vulkan.RenderPass(vulkan.NullHandle), err
	}
	return vulkan.RenderPass(d.newHandle("RenderPass")), nil
}

func (d *Device) DestroyRenderPass(rp vulkan.RenderPass) {
	d.release(unsafe.Pointer(rp), "RenderPass")
}

func (d *Device) CreateFramebuffer(info *vulkan.FramebufferCreateInfo) (vulkan.Framebuffer, error) {
	if err := d.fail("CreateFramebuffer"); err != nil {
		return vulkan.Framebuffer(vulkan.NullHandle), err
	}
	if _, ok := d.live[unsafe.Pointer(info.RenderPass)]; !ok {
		d.violate("framebuffer created against a dead render pass")
	}
	return vulkan.Framebuffer(d.newHandle("Framebuffer")), nil
}

func (d *Device) DestroyFramebuffer(fb vulkan.Framebuffer) {
	d.release(unsafe.Pointer(fb), "Framebuffer")
}

func (d *Device) CreateSemaphore() (vulkan.Semaphore, error) {
	if err := d.fail("CreateSemaphore"); err != nil {
		return vulkan.Semaphore(vulkan.NullHandle), err
	}
	return vulkan.Semaphore(d.newHandle("Semaphore")), nil
}

func (d *Device) DestroySemaphore(s vulkan.Semaphore) {
	d.release(unsafe.Pointer(s), "Semaphore")
}

func (d *Device) CreateFence(signaled bool) (vulkan.Fence, error) {
	if err := d.fail("CreateFence"); err != nil {
		return vulkan.Fence(vulkan.NullHandle), err
	}
	f := vulkan.Fence(d.newHandle("Fence"))
	d.pending[f] = !signaled
	return f, nil
}

func (d *Device) DestroyFence(f vulkan.Fence) {
	if d.pending[f] {
		d.violate("destroy of pending fence")
	}
	delete(d.pending, f)
	d.release(unsafe.Pointer(f), "Fence")
}

func (d *Device) WaitForFence(f vulkan.Fence, timeout uint64) vulkan.Result {
	d.Calls = append(d.Calls, "WaitForFence")
	d.FenceWaits++
	d.Timeouts = append(d.Timeouts, timeout)
	res := vulkan.Success
	if len(d.WaitResults) > 0 {
		res, d.WaitResults = d.WaitResults[0], d.WaitResults[1:]
	}
	if res == vulkan.Success {
		d.pending[f] = false
	}
	return res
}

func (d *Device) ResetFence(f vulkan.Fence) error {
	if d.pending[f] {
		d.violate("reset of pending fence")
	}
	return d.fail("ResetFence")
}

// Pending reports whether a fence has an unwaited submission.
func (d *Device) Pending(f vulkan.Fence) bool { return d.pending[f] }

func (d *Device) AcquireNextImage(sc vulkan.Swapchain, timeout uint64, signal vulkan.Semaphore) (uint32, vulkan.Result) {
	d.Calls = append(d.Calls, "AcquireNextImage")
	d.Timeouts = append(d.Timeouts, timeout)
	if len(d.AcquireResults) > 0 {
		a := d.AcquireResults[0]
		d.AcquireResults = d.AcquireResults[1:]
		return a.Index, a.Result
	}
	images := d.images[sc]
	if len(images) == 0 {
		return 0, vulkan.ErrorOutOfDate
	}
	index := d.nextImage[sc] % uint32(len(images))
	d.nextImage[sc]++
	return index, vulkan.Success
}

func (d *Device) QueueSubmit(info vulkan.SubmitInfo, fence vulkan.Fence) error {
	if err := d.fail("QueueSubmit"); err != nil {
		return err
	}
	for _, cb := range info.PCommandBuffers {
		if prev, ok := d.cbFence[cb]; ok && d.pending[prev] {
			d.violate("command buffer resubmitted while its previous submission is pending")
		}
		d.cbFence[cb] = fence
	}
	if d.pending[fence] {
		d.violate("submit with a pending fence")
	}
	d.pending[fence] = true
	s := Submit{Fence: fence}
	if len(info.PCommandBuffers) > 0 {
		s.CommandBuffer = info.PCommandBuffers[0]
	}
	if len(info.PWaitSemaphores) > 0 {
		s.Wait = info.PWaitSemaphores[0]
	}
	if len(info.PSignalSemaphores) > 0 {
		s.Signal = info.PSignalSemaphores[0]
	}
	d.Submits = append(d.Submits, s)
	return nil
}

func (d *Device) QueuePresent(info *vulkan.PresentInfo) vulkan.Result {
	d.Calls = append(d.Calls, "QueuePresent")
	if len(info.PImageIndices) > 0 {
		d.Presents = append(d.Presents, info.PImageIndices[0])
	}
	if len(d.PresentResults) > 0 {
		res := d.PresentResults[0]
		d.PresentResults = d.PresentResults[1:]
		return res
	}
	return vulkan.Success
}

func (d *Device) WaitIdle() error {
	if d.OnWaitIdle != nil {
		d.OnWaitIdle()
	}
	for f := range d.pending {
		d.pending[f] = false
	}
	return d.fail("WaitIdle")
}

func (d *Device) AllocateCommandBuffers(count int) ([]vulkan.CommandBuffer, error) {
	if err := d.fail("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	cbs := make([]vulkan.CommandBuffer, count)
	for i := range cbs {
		cbs[i] = vulkan.CommandBuffer(d.newHandle("CommandBuffer"))
	}
	return cbs, nil
}

func (d *Device) FreeCommandBuffers(cbs []vulkan.CommandBuffer) {
	for _, cb := range cbs {
		if f, ok := d.cbFence[cb]; ok && d.pending[f] {
			d.violate("free of pending command buffer")
		}
		delete(d.cbFence, cb)
		d.release(unsafe.Pointer(cb), "CommandBuffer")
	}
}

func (d *Device) record(op string) {
	d.Recorded = append(d.Recorded, op)
}

func (d *Device) ResetCommandBuffer(cb vulkan.CommandBuffer) error {
	if f, ok := d.cbFence[cb]; ok && d.pending[f] {
		d.violate("reset of pending command buffer")
	}
	d.record("Reset")
	return d.fail("ResetCommandBuffer")
}

func (d *Device) BeginCommandBuffer(cb vulkan.CommandBuffer) error {
	d.record("Begin")
	return d.fail("BeginCommandBuffer")
}

func (d *Device) EndCommandBuffer(cb vulkan.CommandBuffer) error {
	d.record("End")
	return d.fail("EndCommandBuffer")
}

func (d *Device) CmdBeginRenderPass(cb vulkan.CommandBuffer, info *vulkan.RenderPassBeginInfo) {
	if _, ok := d.live[unsafe.Pointer(info.Framebuffer)]; !ok {
		d.violate("render pass begun on a dead framebuffer")
	}
	d.record("BeginRenderPass")
}

func (d *Device) CmdEndRenderPass(cb vulkan.CommandBuffer) {
	d.record("EndRenderPass")
}

func (d *Device) CmdSetViewport(cb vulkan.CommandBuffer, viewport vulkan.Viewport) {
	d.Viewports = append(d.Viewports, viewport)
	d.record("SetViewport")
}

func (d *Device) CmdSetScissor(cb vulkan.CommandBuffer, scissor vulkan.Rect2D) {
	d.record("SetScissor")
}

func (d *Device) CreateBuffer(size vulkan.DeviceSize, usage vulkan.BufferUsageFlags, properties vulkan.MemoryPropertyFlagBits) (vulkan.Buffer, vulkan.DeviceMemory, error) {
	if err := d.fail("CreateBuffer"); err != nil {
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), err
	}
	return vulkan.Buffer(d.newHandle("Buffer")), vulkan.DeviceMemory(d.newHandle("Memory")), nil
}

func (d *Device) DestroyBuffer(buffer vulkan.Buffer, memory vulkan.DeviceMemory) {
	d.release(unsafe.Pointer(buffer), "Buffer")
	d.release(unsafe.Pointer(memory), "Memory")
}

func (d *Device) Upload(memory vulkan.DeviceMemory, data []byte) error {
	if err := d.fail("Upload"); err != nil {
		return err
	}
	d.Uploads[memory] = append([]byte(nil), data...)
	return nil
}

func (d *Device) CopyBuffer(src, dst vulkan.Buffer, size vulkan.DeviceSize) error {
	if err := d.fail("CopyBuffer"); err != nil {
		return err
	}
	d.Copies = append(d.Copies, size)
	return nil
}

func (d *Device) CmdBindVertexBuffer(cb vulkan.CommandBuffer, buffer vulkan.Buffer) {
	d.record("BindVertexBuffer")
}

func (d *Device) CmdDraw(cb vulkan.CommandBuffer, vertexCount uint32) {
	d.record(fmt.Sprintf("Draw %d", vertexCount))
}

func (d *Device) CmdBindPipeline(cb vulkan.CommandBuffer, p vulkan.Pipeline) {
	d.record("BindPipeline")
}

func (d *Device) CreateShaderModule(code []byte) (vulkan.ShaderModule, error) {
	if err := d.fail("CreateShaderModule"); err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), err
	}
	return vulkan.ShaderModule(d.newHandle("ShaderModule")), nil
}

func (d *Device) DestroyShaderModule(module vulkan.ShaderModule) {
	d.release(unsafe.Pointer(module), "ShaderModule")
}

func (d *Device) CreatePipelineLayout(info *vulkan.PipelineLayoutCreateInfo) (vulkan.PipelineLayout, error) {
	if err := d.fail("CreatePipelineLayout"); err != nil {
		return vulkan.PipelineLayout(vulkan.NullHandle), err
	}
	return vulkan.PipelineLayout(d.newHandle("PipelineLayout")), nil
}

func (d *Device) DestroyPipelineLayout(layout vulkan.PipelineLayout) {
	d.release(unsafe.Pointer(layout), "PipelineLayout")
}

func (d *Device) CreateGraphicsPipeline(info vulkan.GraphicsPipelineCreateInfo) (vulkan.Pipeline, error) {
	if err := d.fail("CreateGraphicsPipeline"); err != nil {
		return vulkan.Pipeline(vulkan.NullHandle), err
	}
	d.Pipelines = append(d.Pipelines, info)
	return vulkan.Pipeline(d.newHandle("Pipeline")), nil
}

func (d *Device) DestroyPipeline(p vulkan.Pipeline) {
	d.release(unsafe.Pointer(p), "Pipeline")
}

// Handle returns a fresh live handle of the given kind, for tests that
// need a stand-in object the device did not create.
func (d *Device) Handle(kind string) unsafe.Pointer {
	return d.newHandle(kind)
}
