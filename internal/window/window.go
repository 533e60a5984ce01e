// Package window is the glfw window the renderer presents to.
package window

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"
)

// Window wraps a glfw window created without a client API. glfw requires
// every call except Resized and ResetResized to happen on the main thread.
type Window struct {
	win     *glfw.Window
	resized atomic.Bool
}

// New initialises glfw and opens a window with the given framebuffer size.
func New(width, height int, title string) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("init glfw: %w", err)
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("glfw: Vulkan loader not found")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("create window: %w", err)
	}

	w := &Window{win: win}
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.markResized()
	})
	win.SetKeyCallback(func(gw *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if closesWindow(key, action) {
			gw.SetShouldClose(true)
		}
	})
	return w, nil
}

func closesWindow(key glfw.Key, action glfw.Action) bool {
	return key == glfw.KeyEscape && action == glfw.Press
}

func (w *Window) markResized() { w.resized.Store(true) }

// Resized reports whether the framebuffer changed size since the last
// ResetResized.
func (w *Window) Resized() bool { return w.resized.Load() }

func (w *Window) ResetResized() { w.resized.Store(false) }

// Extent is the framebuffer size in pixels. It is zero while the window is
// minimized.
func (w *Window) Extent() vulkan.Extent2D {
	width, height := w.win.GetFramebufferSize()
	return extentOf(width, height)
}

func extentOf(width, height int) vulkan.Extent2D {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return vulkan.Extent2D{Width: uint32(width), Height: uint32(height)}
}

func (w *Window) ShouldClose() bool { return w.win.ShouldClose() }

func (w *Window) PollEvents() { glfw.PollEvents() }

func (w *Window) WaitEvents() { glfw.WaitEvents() }

func (w *Window) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (w *Window) RequiredInstanceExtensions() []string {
	return w.win.GetRequiredInstanceExtensions()
}

func (w *Window) CreateSurface(instance vulkan.Instance) (vulkan.Surface, error) {
	ptr, err := w.win.CreateWindowSurface(instance, nil)
	if err != nil {
		return vulkan.Surface(vulkan.NullHandle), err
	}
	return vulkan.SurfaceFromPointer(ptr), nil
}

// Destroy closes the window and terminates glfw.
func (w *Window) Destroy() {
	w.win.Destroy()
	glfw.Terminate()
}
