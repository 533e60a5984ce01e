package window

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"
)

func TestResizeFlag(t *testing.T) {
	var w Window
	assert.False(t, w.Resized())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.markResized()
		}()
	}
	wg.Wait()

	assert.True(t, w.Resized())
	w.ResetResized()
	assert.False(t, w.Resized())
}

func TestExtentOf(t *testing.T) {
	assert.Equal(t, vulkan.Extent2D{Width: 800, Height: 600}, extentOf(800, 600))
	assert.Equal(t, vulkan.Extent2D{}, extentOf(0, 0))
	assert.Equal(t, vulkan.Extent2D{Width: 0, Height: 10}, extentOf(-1, 10))
}

func TestClosesWindow(t *testing.T) {
	assert.True(t, closesWindow(glfw.KeyEscape, glfw.Press))
	assert.False(t, closesWindow(glfw.KeyEscape, glfw.Release))
	assert.False(t, closesWindow(glfw.KeySpace, glfw.Press))
}
