package device

import "errors"

var (
	// ErrNoSuitableGPU is returned when no physical device has graphics and
	// present queues, the swapchain extension and at least one surface
	// format and present mode.
	ErrNoSuitableGPU = errors.New("device: no suitable GPU found")

	ErrValidationUnavailable = errors.New("device: requested validation layers not available")
	ErrNoMemoryType          = errors.New("device: no suitable memory type")
	ErrNoSupportedFormat     = errors.New("device: no supported format")
)
