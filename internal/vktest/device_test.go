package vktest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

func TestHandlesCompare(t *testing.T) {
	dev := NewDevice()

	a, err := dev.CreateRenderPass(&vulkan.RenderPassCreateInfo{})
	require.NoError(t, err)
	b, err := dev.CreateRenderPass(&vulkan.RenderPassCreateInfo{})
	require.NoError(t, err)

	assert.Equal(t, a, a)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, vulkan.RenderPass(vulkan.NullHandle), a)
	assert.ElementsMatch(t, []vulkan.RenderPass{a, b}, []vulkan.RenderPass{b, a})
}

func TestDestroyTracksLiveHandles(t *testing.T) {
	dev := NewDevice()

	fence, err := dev.CreateFence(true)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Live("Fence"))

	dev.DestroyFence(fence)
	assert.Zero(t, dev.Live("Fence"))
	assert.Empty(t, dev.Violations)

	dev.DestroyFence(fence)
	assert.Len(t, dev.Violations, 1, "double destroy is flagged")
}
