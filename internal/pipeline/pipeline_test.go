package pipeline_test

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/pipeline"
	"github.com/hellhand/vkframe/internal/vktest"
)

func writeSPIRV(t *testing.T, dir, name string) string {
	t.Helper()
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, code, 0o644))
	return path
}

func shaderPair(t *testing.T) (vert, frag string) {
	dir := t.TempDir()
	return writeSPIRV(t, dir, "vert.spv"), writeSPIRV(t, dir, "frag.spv")
}

func newCache(t *testing.T) *pipeline.ShaderCache {
	t.Helper()
	cache, err := pipeline.NewShaderCache(pipeline.DefaultShaderCacheSize)
	require.NoError(t, err)
	return cache
}

func configFor(dev *vktest.Device) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.RenderPass = vulkan.RenderPass(dev.Handle("RenderPass"))
	cfg.Layout = vulkan.PipelineLayout(dev.Handle("PipelineLayout"))
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	assert.Equal(t, vulkan.PrimitiveTopologyTriangleList, cfg.InputAssembly.Topology)
	assert.Equal(t, vulkan.PolygonModeFill, cfg.Rasterization.PolygonMode)
	assert.Equal(t, vulkan.CullModeFlags(vulkan.CullModeNone), cfg.Rasterization.CullMode)
	assert.Equal(t, vulkan.SampleCount1Bit, cfg.Multisample.RasterizationSamples)
	assert.Equal(t, vulkan.CompareOpLess, cfg.DepthStencil.DepthCompareOp)
	assert.Equal(t, []vulkan.DynamicState{vulkan.DynamicStateViewport, vulkan.DynamicStateScissor}, cfg.DynamicStates)
	assert.Len(t, cfg.BindingDescriptions, 1)
	assert.Len(t, cfg.AttributeDescriptions, 2)
	assert.Equal(t, vulkan.RenderPass(vulkan.NullHandle), cfg.RenderPass)
}

func TestNew(t *testing.T) {
	dev := vktest.NewDevice()
	vert, frag := shaderPair(t)
	cfg := configFor(dev)

	p, err := pipeline.New(dev, newCache(t), vert, frag, cfg)
	require.NoError(t, err)

	require.Len(t, dev.Pipelines, 1)
	info := dev.Pipelines[0]
	assert.Equal(t, cfg.RenderPass, info.RenderPass)
	assert.Equal(t, cfg.Layout, info.Layout)
	assert.Equal(t, uint32(2), info.StageCount)
	require.NotNil(t, info.PDynamicState)
	assert.Equal(t, uint32(2), info.PDynamicState.DynamicStateCount)

	assert.Zero(t, dev.Live("ShaderModule"), "shader modules are released once the pipeline exists")
	assert.Equal(t, 2, dev.Count("DestroyShaderModule"))
	assert.Equal(t, 1, dev.Live("Pipeline"))

	cb := vulkan.CommandBuffer(dev.Handle("TestCommandBuffer"))
	p.Bind(cb)
	assert.Equal(t, []string{"BindPipeline"}, dev.Recorded)

	p.Destroy()
	p.Destroy()
	assert.Zero(t, dev.Live("Pipeline"))
	assert.Empty(t, dev.Violations)
}

func TestNewRequiresRenderPassAndLayout(t *testing.T) {
	dev := vktest.NewDevice()
	vert, frag := shaderPair(t)

	cfg := configFor(dev)
	cfg.RenderPass = vulkan.RenderPass(vulkan.NullHandle)
	_, err := pipeline.New(dev, newCache(t), vert, frag, cfg)
	require.ErrorIs(t, err, pipeline.ErrNoRenderPass)

	cfg = configFor(dev)
	cfg.Layout = vulkan.PipelineLayout(vulkan.NullHandle)
	_, err = pipeline.New(dev, newCache(t), vert, frag, cfg)
	require.ErrorIs(t, err, pipeline.ErrNoLayout)

	assert.Empty(t, dev.Calls)
}

func TestNewReleasesModulesOnFailure(t *testing.T) {
	dev := vktest.NewDevice()
	vert, frag := shaderPair(t)
	boom := errors.New("boom")
	dev.FailOn = map[string]error{"CreateGraphicsPipeline": boom}

	_, err := pipeline.New(dev, newCache(t), vert, frag, configFor(dev))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, dev.Live("ShaderModule"))
	assert.Zero(t, dev.Live("Pipeline"))
}

func TestNewMissingShader(t *testing.T) {
	dev := vktest.NewDevice()
	vert, _ := shaderPair(t)

	_, err := pipeline.New(dev, newCache(t), vert, filepath.Join(t.TempDir(), "missing.spv"), configFor(dev))
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, dev.Count("CreateShaderModule"))
}

func TestNewLayout(t *testing.T) {
	dev := vktest.NewDevice()
	layout, err := pipeline.NewLayout(dev)
	require.NoError(t, err)
	assert.NotEqual(t, vulkan.PipelineLayout(vulkan.NullHandle), layout)

	dev.DestroyPipelineLayout(layout)
	assert.Zero(t, dev.Live("PipelineLayout"))

	dev.FailOn = map[string]error{"CreatePipelineLayout": errors.New("oom")}
	_, err = pipeline.NewLayout(dev)
	require.Error(t, err)
}
