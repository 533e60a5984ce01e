package renderer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/swapchain"
	"github.com/hellhand/vkframe/internal/vktest"
)

type fakeSurface struct {
	// extents are handed out front to back; the last one sticks.
	extents     []vulkan.Extent2D
	resized     bool
	closed      bool
	closeOnWait bool
	closeAfter  int
	polls       int
	waits       int
	onWait      func()
}

func newSurface(w, h uint32) *fakeSurface {
	return &fakeSurface{extents: []vulkan.Extent2D{{Width: w, Height: h}}}
}

func (s *fakeSurface) Extent() vulkan.Extent2D {
	e := s.extents[0]
	if len(s.extents) > 1 {
		s.extents = s.extents[1:]
	}
	return e
}

func (s *fakeSurface) ShouldClose() bool { return s.closed }
func (s *fakeSurface) Resized() bool     { return s.resized }
func (s *fakeSurface) ResetResized()     { s.resized = false }

func (s *fakeSurface) PollEvents() {
	s.polls++
	if s.closeAfter > 0 && s.polls >= s.closeAfter {
		s.closed = true
	}
}

func (s *fakeSurface) WaitEvents() {
	s.waits++
	if s.onWait != nil {
		s.onWait()
	}
	if s.closeOnWait {
		s.closed = true
	}
}

type fakePipeline struct {
	renderPass vulkan.RenderPass
	binds      int
	destroyed  bool
}

func (p *fakePipeline) Bind(vulkan.CommandBuffer) { p.binds++ }
func (p *fakePipeline) Destroy()                  { p.destroyed = true }

type fakeModel struct{ binds, draws int }

func (m *fakeModel) Bind(vulkan.CommandBuffer) { m.binds++ }
func (m *fakeModel) Draw(vulkan.CommandBuffer) { m.draws++ }

type harness struct {
	dev       *vktest.Device
	surface   *fakeSurface
	model     *fakeModel
	pipelines []*fakePipeline
	r         *Renderer
}

func (h *harness) factory(rp vulkan.RenderPass) (Pipeline, error) {
	p := &fakePipeline{renderPass: rp}
	h.pipelines = append(h.pipelines, p)
	return p, nil
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		dev:     vktest.NewDevice(),
		surface: newSurface(640, 480),
		model:   &fakeModel{},
	}
	r, err := New(h.dev, h.surface, h.model, h.factory, opts)
	require.NoError(t, err)
	h.r = r
	t.Cleanup(r.Close)
	return h
}

func TestNew(t *testing.T) {
	h := newHarness(t, Options{})

	chain := h.r.Chain()
	require.NotNil(t, chain)
	assert.GreaterOrEqual(t, chain.ImageCount(), 2)
	assert.Equal(t, chain.ImageCount(), h.r.CommandBufferCount())
	assert.Equal(t, vulkan.Extent2D{Width: 640, Height: 480}, chain.Extent())
	require.Len(t, h.pipelines, 1)
	assert.Equal(t, chain.RenderPass(), h.pipelines[0].renderPass)
	assert.Equal(t, StateIdle, h.r.State())
	assert.Zero(t, h.r.Stats().Rebuilds)
}

func TestDrawFrame(t *testing.T) {
	h := newHarness(t, Options{ClearColor: [4]float32{0.05, 0.05, 0.08, 1}})

	require.NoError(t, h.r.DrawFrame())

	assert.Equal(t, StatePresented, h.r.State())
	assert.Equal(t, []string{"Reset", "Begin", "BeginRenderPass", "SetViewport", "SetScissor", "EndRenderPass", "End"}, h.dev.Recorded)
	require.Len(t, h.dev.Viewports, 1)
	assert.Equal(t, float32(640), h.dev.Viewports[0].Width)
	assert.Equal(t, float32(480), h.dev.Viewports[0].Height)
	assert.Equal(t, float32(1), h.dev.Viewports[0].MaxDepth)
	assert.Equal(t, 1, h.pipelines[0].binds)
	assert.Equal(t, 1, h.model.binds)
	assert.Equal(t, 1, h.model.draws)
	assert.Len(t, h.dev.Submits, 1)
	assert.Len(t, h.dev.Presents, 1)
	assert.Equal(t, uint64(1), h.r.Stats().Frames)
	assert.Equal(t, 1, h.dev.Count("CreateSwapchain"))
}

func TestManyFramesKeepSlotsExclusive(t *testing.T) {
	h := newHarness(t, Options{})

	for i := 0; i < 25; i++ {
		require.NoError(t, h.r.DrawFrame())
	}
	assert.Len(t, h.dev.Submits, 25)
	assert.Equal(t, 1, h.dev.Count("CreateSwapchain"))
	assert.Empty(t, h.dev.Violations)
}

func TestOutOfDateAcquireSkipsFrameAndRebuildsOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.dev.AcquireResults = []vktest.Acquire{{Index: 0, Result: vulkan.ErrorOutOfDate}}

	mark := len(h.dev.Calls)
	require.NoError(t, h.r.DrawFrame())

	assert.Empty(t, h.dev.Recorded, "nothing is recorded for a stale image")
	assert.Empty(t, h.dev.Submits)
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"))
	assert.Equal(t, StateIdle, h.r.State())

	acquire := h.dev.Index("AcquireNextImage", mark)
	rebuild := h.dev.Index("CreateSwapchain", mark)
	require.NotEqual(t, -1, rebuild)
	assert.Less(t, acquire, rebuild)

	require.NoError(t, h.r.DrawFrame())
	next := h.dev.Index("AcquireNextImage", rebuild)
	require.NotEqual(t, -1, next)
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"), "exactly one rebuild before the next acquire")
	assert.Len(t, h.dev.Submits, 1)

	stats := h.r.Stats()
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Equal(t, uint64(1), stats.Rebuilds)
	assert.Len(t, h.pipelines, 2)
	assert.True(t, h.pipelines[0].destroyed)
	assert.Empty(t, h.dev.Violations)
}

func TestSuboptimalPresentRebuilds(t *testing.T) {
	h := newHarness(t, Options{})
	h.dev.PresentResults = []vulkan.Result{vulkan.Suboptimal}

	require.NoError(t, h.r.DrawFrame())

	assert.False(t, h.surface.resized)
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"))
	assert.Equal(t, uint64(1), h.r.Stats().Rebuilds)
	assert.Equal(t, StateIdle, h.r.State())
	assert.Empty(t, h.dev.Violations)
}

func TestOutOfDatePresentRebuilds(t *testing.T) {
	h := newHarness(t, Options{})
	h.dev.PresentResults = []vulkan.Result{vulkan.ErrorOutOfDate}

	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"))
}

func TestResizeFlagRebuildsAndClears(t *testing.T) {
	h := newHarness(t, Options{})
	h.surface.resized = true
	h.surface.extents = []vulkan.Extent2D{{Width: 1024, Height: 768}}

	require.NoError(t, h.r.DrawFrame())

	assert.False(t, h.surface.resized)
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"))
	assert.Equal(t, vulkan.Extent2D{Width: 1024, Height: 768}, h.r.Chain().Extent())
	require.Len(t, h.dev.SwapchainInfos, 2)
	assert.Equal(t, h.dev.Swapchains[0], h.dev.SwapchainInfos[1].OldSwapchain)

	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"), "a cleared flag does not rebuild again")
}

func TestDegenerateExtentWaitsBeforeRebuild(t *testing.T) {
	h := newHarness(t, Options{})
	h.surface.resized = true
	h.surface.extents = []vulkan.Extent2D{{}, {Width: 0, Height: 600}, {Width: 800, Height: 600}}

	var created []int
	h.surface.onWait = func() { created = append(created, h.dev.Count("CreateSwapchain")) }

	require.NoError(t, h.r.DrawFrame())

	assert.Equal(t, 2, h.surface.waits)
	assert.Equal(t, []int{1, 1}, created, "no chain is built while the surface has no area")
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"))
	require.Len(t, h.dev.SwapchainInfos, 2)
	assert.Equal(t, vulkan.Extent2D{Width: 800, Height: 600}, h.dev.SwapchainInfos[1].ImageExtent)
	assert.Equal(t, StateIdle, h.r.State())
}

func TestCloseWhileMinimized(t *testing.T) {
	h := newHarness(t, Options{})
	h.surface.resized = true
	h.surface.extents = []vulkan.Extent2D{{}}
	h.surface.closeOnWait = true

	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, StateRebuildRequired, h.r.State())
	assert.Equal(t, 1, h.dev.Count("CreateSwapchain"))

	// Still pending and still closed: nothing happens.
	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, 1, h.dev.Count("CreateSwapchain"))
}

func TestSurfaceWithoutAreaDuringRebuildIsRetried(t *testing.T) {
	h := newHarness(t, Options{})

	// The window still has a size but the surface already reports none.
	current := h.dev.Support.Capabilities.CurrentExtent
	h.dev.Support.Capabilities.CurrentExtent = vulkan.Extent2D{}
	h.surface.onWait = func() { h.dev.Support.Capabilities.CurrentExtent = current }
	h.surface.resized = true

	require.NoError(t, h.r.DrawFrame())

	assert.Equal(t, 1, h.surface.waits)
	assert.Equal(t, StateIdle, h.r.State())
	require.NotNil(t, h.r.Chain())
	assert.Equal(t, vulkan.Extent2D{Width: 640, Height: 480}, h.r.Chain().Extent())
	require.Len(t, h.dev.SwapchainInfos, 2)
	assert.Equal(t, vulkan.Swapchain(vulkan.NullHandle), h.dev.SwapchainInfos[1].OldSwapchain)
	assert.Equal(t, 1, h.dev.Live("Swapchain"))
	assert.Equal(t, uint64(1), h.r.Stats().Rebuilds)
	assert.Len(t, h.pipelines, 2)

	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, StatePresented, h.r.State())
	assert.Empty(t, h.dev.Violations)
}

func TestSurfaceWithoutAreaThenClosed(t *testing.T) {
	h := newHarness(t, Options{})
	h.dev.Support.Capabilities.CurrentExtent = vulkan.Extent2D{}
	h.surface.closeOnWait = true
	h.surface.resized = true

	require.NoError(t, h.r.DrawFrame())

	assert.Equal(t, StateRebuildRequired, h.r.State())
	assert.Nil(t, h.r.Chain())
	assert.Zero(t, h.dev.Live("Swapchain"))
	assert.Equal(t, 1, h.dev.Count("CreateSwapchain"))

	require.NoError(t, h.r.Run(context.Background()))
	assert.Empty(t, h.dev.Violations)
}

func TestOutOfDateAcquireClearsResizeFlag(t *testing.T) {
	h := newHarness(t, Options{})
	h.surface.resized = true
	h.dev.AcquireResults = []vktest.Acquire{{Index: 0, Result: vulkan.ErrorOutOfDate}}

	require.NoError(t, h.r.DrawFrame())
	assert.False(t, h.surface.resized)
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"))

	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, 2, h.dev.Count("CreateSwapchain"), "the resize was handled by the acquire rebuild")
	assert.Equal(t, StatePresented, h.r.State())
}

func TestNewClosedBeforeFirstChain(t *testing.T) {
	dev := vktest.NewDevice()
	surface := newSurface(0, 0)
	surface.closeOnWait = true

	r, err := New(dev, surface, &fakeModel{}, func(vulkan.RenderPass) (Pipeline, error) {
		return &fakePipeline{}, nil
	}, Options{})
	require.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, r)
	assert.Zero(t, dev.Count("CreateSwapchain"))
}

func TestCommandBuffersFollowImageCount(t *testing.T) {
	h := newHarness(t, Options{})
	require.Equal(t, 3, h.r.CommandBufferCount())

	// Same image count: the command buffers are kept.
	h.surface.resized = true
	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, 1, h.dev.Count("AllocateCommandBuffers"))
	assert.Equal(t, h.r.Chain().ImageCount(), h.r.CommandBufferCount())

	// The driver hands out more images: the set is reallocated.
	h.dev.ImageCount = 4
	h.surface.resized = true
	require.NoError(t, h.r.DrawFrame())
	assert.Equal(t, 2, h.dev.Count("AllocateCommandBuffers"))
	assert.Equal(t, 4, h.r.Chain().ImageCount())
	assert.Equal(t, 4, h.r.CommandBufferCount())
	assert.Equal(t, 4, h.dev.Live("CommandBuffer"))

	for i := 0; i < 6; i++ {
		require.NoError(t, h.r.DrawFrame())
	}
	assert.Empty(t, h.dev.Violations)
}

func TestFormatChangeIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, Options{Logger: log})

	h.surface.resized = true
	require.NoError(t, h.r.DrawFrame())
	assert.NotContains(t, buf.String(), "render pass formats changed")

	h.dev.Depth = vulkan.FormatD24UnormS8Uint
	h.surface.resized = true
	require.NoError(t, h.r.DrawFrame())
	assert.Contains(t, buf.String(), "render pass formats changed")
	assert.Len(t, h.pipelines, 3, "the pipeline is rebuilt either way")
}

func TestErrorsPropagate(t *testing.T) {
	t.Run("submit", func(t *testing.T) {
		h := newHarness(t, Options{})
		boom := errors.New("device lost")
		h.dev.FailOn = map[string]error{"QueueSubmit": boom}
		require.ErrorIs(t, h.r.DrawFrame(), boom)
	})

	t.Run("present", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.dev.PresentResults = []vulkan.Result{vulkan.ErrorDeviceLost}
		err := h.r.DrawFrame()
		require.Error(t, err)
		assert.NotErrorIs(t, err, swapchain.ErrTimeout)
	})

	t.Run("fence timeout", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.dev.WaitResults = []vulkan.Result{vulkan.Timeout}
		require.ErrorIs(t, h.r.DrawFrame(), swapchain.ErrTimeout)
		assert.Equal(t, StateAcquiring, h.r.State())
	})

	t.Run("record", func(t *testing.T) {
		h := newHarness(t, Options{})
		boom := errors.New("oom")
		h.dev.FailOn = map[string]error{"EndCommandBuffer": boom}
		require.ErrorIs(t, h.r.DrawFrame(), boom)
		assert.Empty(t, h.dev.Submits)
	})

	t.Run("rebuild", func(t *testing.T) {
		h := newHarness(t, Options{})
		boom := errors.New("oom")
		h.dev.FailOn = map[string]error{"CreateRenderPass": boom}
		h.surface.resized = true
		require.ErrorIs(t, h.r.DrawFrame(), boom)
	})
}

func TestNewFailureReleasesEverything(t *testing.T) {
	dev := vktest.NewDevice()
	boom := errors.New("bad shader")
	_, err := New(dev, newSurface(640, 480), &fakeModel{}, func(vulkan.RenderPass) (Pipeline, error) {
		return nil, boom
	}, Options{})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, dev.Live(""))
}

func TestClose(t *testing.T) {
	dev := vktest.NewDevice()
	surface := newSurface(640, 480)
	var pipe *fakePipeline
	r, err := New(dev, surface, &fakeModel{}, func(rp vulkan.RenderPass) (Pipeline, error) {
		pipe = &fakePipeline{renderPass: rp}
		return pipe, nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, r.DrawFrame())

	r.Close()
	assert.True(t, pipe.destroyed)
	assert.Zero(t, dev.Live(""))
	assert.Nil(t, r.Chain())
	assert.Empty(t, dev.Violations)
}

func TestRun(t *testing.T) {
	t.Run("until the surface closes", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.surface.closeAfter = 5

		require.NoError(t, h.r.Run(context.Background()))
		assert.Len(t, h.dev.Submits, 5)
		assert.Equal(t, 5, h.surface.polls)
	})

	t.Run("until the context is cancelled", func(t *testing.T) {
		h := newHarness(t, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, h.r.Run(ctx))
		assert.Empty(t, h.dev.Submits)
	})

	t.Run("stops on error", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.dev.AcquireResults = []vktest.Acquire{{Result: vulkan.ErrorSurfaceLost}}
		require.Error(t, h.r.Run(context.Background()))
	})
}

func TestFrameStats(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	h := newHarness(t, Options{Logger: log, StatsInterval: time.Second})

	clock := time.Unix(1000, 0)
	h.r.now = func() time.Time { return clock }
	for i := 0; i < 4; i++ {
		require.NoError(t, h.r.DrawFrame())
		clock = clock.Add(250 * time.Millisecond)
	}
	assert.NotContains(t, buf.String(), "frame stats")

	require.NoError(t, h.r.DrawFrame())
	assert.Contains(t, buf.String(), "frame stats")
	assert.InDelta(t, 5.0, h.r.Stats().FPS, 1e-9)
	assert.Equal(t, uint64(5), h.r.Stats().Frames)
}
