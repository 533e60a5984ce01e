// Package renderer drives the per-frame acquire, record, submit and present
// cycle and rebuilds the presentation chain when it goes stale.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/logx"
	"github.com/hellhand/vkframe/internal/swapchain"
)

// ErrClosed is returned by New when the surface was closed before it ever
// had a drawable size.
var ErrClosed = errors.New("renderer: surface closed")

// Surface is the window being rendered to. Resized is set asynchronously
// and polled once per frame.
type Surface interface {
	Extent() vulkan.Extent2D
	ShouldClose() bool
	Resized() bool
	ResetResized()
	PollEvents()
	WaitEvents()
}

// Device is what the renderer needs from the device context on top of what
// the chain needs.
type Device interface {
	swapchain.Device

	WaitIdle() error
	AllocateCommandBuffers(count int) ([]vulkan.CommandBuffer, error)
	FreeCommandBuffers(cbs []vulkan.CommandBuffer)
	ResetCommandBuffer(cb vulkan.CommandBuffer) error
	BeginCommandBuffer(cb vulkan.CommandBuffer) error
	EndCommandBuffer(cb vulkan.CommandBuffer) error
	CmdBeginRenderPass(cb vulkan.CommandBuffer, info *vulkan.RenderPassBeginInfo)
	CmdEndRenderPass(cb vulkan.CommandBuffer)
	CmdSetViewport(cb vulkan.CommandBuffer, viewport vulkan.Viewport)
	CmdSetScissor(cb vulkan.CommandBuffer, scissor vulkan.Rect2D)
}

type Pipeline interface {
	Bind(cb vulkan.CommandBuffer)
	Destroy()
}

type Model interface {
	Bind(cb vulkan.CommandBuffer)
	Draw(cb vulkan.CommandBuffer)
}

// PipelineFactory builds a pipeline for the render pass of a freshly built
// chain.
type PipelineFactory func(renderPass vulkan.RenderPass) (Pipeline, error)

type Options struct {
	Chain      swapchain.Config
	ClearColor [4]float32
	Logger     *slog.Logger
	// StatsInterval is how often frame statistics are logged. Zero
	// disables the report.
	StatsInterval time.Duration
}

// Renderer owns the presentation chain, the pipeline built for it and one
// command buffer per chain image.
type Renderer struct {
	dev     Device
	surface Surface
	model   Model
	factory PipelineFactory
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	chain          *swapchain.Chain
	pipeline       Pipeline
	commandBuffers []vulkan.CommandBuffer

	// built is set once the first chain exists; formats is the render pass
	// key of the last chain built.
	built   bool
	formats swapchain.Formats

	state State
	stats frameCounter
}

// New builds the first chain for the surface, blocking while the surface
// has no area.
func New(dev Device, surface Surface, model Model, factory PipelineFactory, opts Options) (*Renderer, error) {
	r := &Renderer{
		dev:     dev,
		surface: surface,
		model:   model,
		factory: factory,
		opts:    opts,
		log:     logx.OrNop(opts.Logger),
		now:     time.Now,
		state:   StateRebuildRequired,
		stats:   frameCounter{interval: opts.StatsInterval},
	}
	if err := r.rebuild(); err != nil {
		r.Close()
		return nil, err
	}
	if r.chain == nil {
		return nil, ErrClosed
	}
	return r, nil
}

func (r *Renderer) State() State { return r.state }

func (r *Renderer) Stats() Stats { return r.stats.Stats }

func (r *Renderer) CommandBufferCount() int { return len(r.commandBuffers) }

func (r *Renderer) Chain() *swapchain.Chain { return r.chain }

// DrawFrame renders and presents one frame. A stale chain is rebuilt before
// DrawFrame returns; only unrecoverable failures are reported.
func (r *Renderer) DrawFrame() error {
	if r.state == StateRebuildRequired {
		if err := r.rebuild(); err != nil {
			return err
		}
		if r.state == StateRebuildRequired {
			return nil
		}
	}

	r.state = StateAcquiring
	index, status, err := r.chain.AcquireNextImage()
	if err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}
	if status == swapchain.StatusOutOfDate {
		r.stats.Skipped++
		r.surface.ResetResized()
		r.state = StateRebuildRequired
		return r.rebuild()
	}

	r.state = StateRecording
	if err := r.chain.WaitForImage(index); err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}
	cb := r.commandBuffers[index]
	if err := r.record(cb, index); err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}

	r.state = StateSubmitting
	status, err = r.chain.SubmitCommandBuffers(cb, index)
	if err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}
	if r.stats.tick(r.now()) {
		r.log.Info("frame stats", "fps", fmt.Sprintf("%.1f", r.stats.FPS), "frames", r.stats.Frames, "rebuilds", r.stats.Rebuilds, "skipped", r.stats.Skipped)
	}
	if status != swapchain.StatusSuccess || r.surface.Resized() {
		r.log.Debug("chain stale after present", "status", status, "resized", r.surface.Resized())
		r.surface.ResetResized()
		r.state = StateRebuildRequired
		return r.rebuild()
	}

	r.state = StatePresented
	return nil
}

func (r *Renderer) record(cb vulkan.CommandBuffer, index uint32) error {
	if err := r.dev.ResetCommandBuffer(cb); err != nil {
		return fmt.Errorf("reset command buffer %d: %w", index, err)
	}
	if err := r.dev.BeginCommandBuffer(cb); err != nil {
		return fmt.Errorf("begin command buffer %d: %w", index, err)
	}

	extent := r.chain.Extent()
	clearValues := []vulkan.ClearValue{
		vulkan.NewClearValue(r.opts.ClearColor[:]),
		vulkan.NewClearDepthStencil(1.0, 0),
	}
	renderPassInfo := vulkan.RenderPassBeginInfo{
		SType:       vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:  r.chain.RenderPass(),
		Framebuffer: r.chain.Framebuffer(int(index)),
		RenderArea: vulkan.Rect2D{
			Offset: vulkan.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	r.dev.CmdBeginRenderPass(cb, &renderPassInfo)

	r.dev.CmdSetViewport(cb, vulkan.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	r.dev.CmdSetScissor(cb, vulkan.Rect2D{
		Offset: vulkan.Offset2D{X: 0, Y: 0},
		Extent: extent,
	})

	r.pipeline.Bind(cb)
	r.model.Bind(cb)
	r.model.Draw(cb)

	r.dev.CmdEndRenderPass(cb)
	if err := r.dev.EndCommandBuffer(cb); err != nil {
		return fmt.Errorf("end command buffer %d: %w", index, err)
	}
	return nil
}

// rebuild replaces the chain and everything that depends on it. It returns
// with the state still StateRebuildRequired if the surface was closed while
// it had no area.
func (r *Renderer) rebuild() error {
	old := r.chain
	for {
		extent := r.surface.Extent()
		for extent.Width == 0 || extent.Height == 0 {
			if r.surface.ShouldClose() {
				return nil
			}
			r.surface.WaitEvents()
			extent = r.surface.Extent()
		}

		if err := r.dev.WaitIdle(); err != nil {
			return fmt.Errorf("rebuild: wait idle: %w", err)
		}
		if r.pipeline != nil {
			r.pipeline.Destroy()
			r.pipeline = nil
		}

		// New consumes the old chain whether or not it succeeds.
		r.chain = nil
		chain, err := swapchain.New(r.dev, extent, old, r.opts.Chain)
		old = nil
		if errors.Is(err, swapchain.ErrDegenerateExtent) {
			// The window has area but the surface does not yet.
			r.log.Debug("surface reports no area, waiting", "width", extent.Width, "height", extent.Height)
			if r.surface.ShouldClose() {
				return nil
			}
			r.surface.WaitEvents()
			continue
		}
		if err != nil {
			return fmt.Errorf("rebuild: %w", err)
		}
		r.chain = chain
		return r.finishRebuild(extent)
	}
}

func (r *Renderer) finishRebuild(extent vulkan.Extent2D) error {
	chain := r.chain
	if r.built && chain.Formats() != r.formats {
		r.log.Warn("render pass formats changed across rebuild",
			"old_color", r.formats.Color, "new_color", chain.Formats().Color,
			"old_depth", r.formats.Depth, "new_depth", chain.Formats().Depth)
	}

	if len(r.commandBuffers) != chain.ImageCount() {
		r.freeCommandBuffers()
		cbs, err := r.dev.AllocateCommandBuffers(chain.ImageCount())
		if err != nil {
			return fmt.Errorf("rebuild: allocate command buffers: %w", err)
		}
		r.commandBuffers = cbs
	}

	pipeline, err := r.factory(chain.RenderPass())
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	r.pipeline = pipeline

	if r.built {
		r.stats.Rebuilds++
		r.log.Debug("chain rebuilt", "width", extent.Width, "height", extent.Height, "images", chain.ImageCount())
	} else {
		r.log.Info("chain built", "width", extent.Width, "height", extent.Height, "images", chain.ImageCount(), "present_mode", chain.PresentMode())
	}
	r.built = true
	r.formats = chain.Formats()
	r.state = StateIdle
	return nil
}

func (r *Renderer) freeCommandBuffers() {
	if len(r.commandBuffers) > 0 {
		r.dev.FreeCommandBuffers(r.commandBuffers)
		r.commandBuffers = nil
	}
}

// Run draws frames until the surface asks to close or ctx is done, then
// waits for the device to finish.
func (r *Renderer) Run(ctx context.Context) error {
	for !r.surface.ShouldClose() {
		if ctx.Err() != nil {
			r.log.Info("render loop cancelled")
			break
		}
		r.surface.PollEvents()
		if err := r.DrawFrame(); err != nil {
			return err
		}
	}
	if err := r.dev.WaitIdle(); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	return nil
}

// Close waits for the device and releases everything the renderer owns.
// The model stays with the caller.
func (r *Renderer) Close() {
	if err := r.dev.WaitIdle(); err != nil {
		r.log.Warn("wait idle before close", "err", err)
	}
	r.freeCommandBuffers()
	if r.pipeline != nil {
		r.pipeline.Destroy()
		r.pipeline = nil
	}
	r.chain.Destroy()
	r.chain = nil
}
