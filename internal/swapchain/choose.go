package swapchain

import (
	"math"

	"github.com/vulkan-go/vulkan"
)

// undefinedExtent is reported as the current extent when the surface size
// is decided by the swapchain.
const undefinedExtent = math.MaxUint32

func chooseSurfaceFormat(available []vulkan.SurfaceFormat) vulkan.SurfaceFormat {
	for _, f := range available {
		if f.Format == vulkan.FormatB8g8r8a8Srgb && f.ColorSpace == vulkan.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return available[0]
}

// choosePresentMode returns the first preferred mode the surface offers.
// FIFO is always available.
func choosePresentMode(available, preferred []vulkan.PresentMode) vulkan.PresentMode {
	for _, want := range preferred {
		for _, m := range available {
			if m == want {
				return m
			}
		}
	}
	return vulkan.PresentModeFifo
}

func chooseExtent(caps vulkan.SurfaceCapabilities, requested vulkan.Extent2D) vulkan.Extent2D {
	if caps.CurrentExtent.Width != undefinedExtent {
		return vulkan.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
	}
	min := caps.MinImageExtent
	max := caps.MaxImageExtent
	return vulkan.Extent2D{
		Width:  clamp(requested.Width, min.Width, max.Width),
		Height: clamp(requested.Height, min.Height, max.Height),
	}
}

// chooseImageCount asks for one image more than the minimum so the driver
// never has to block us on its internal operations. A zero maximum means
// there is no limit.
func chooseImageCount(caps vulkan.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func clamp(val, min, max uint32) uint32 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
