package swapchain

import (
	"errors"
	"fmt"

	"github.com/vulkan-go/vulkan"
)

var (
	// ErrTimeout is returned when a fence wait or an image acquisition
	// does not finish within the configured timeout. It is fatal and never
	// treated like an out-of-date chain.
	ErrTimeout = errors.New("swapchain: timed out waiting for the GPU")

	// ErrDegenerateExtent is returned when a chain is requested for a
	// surface with zero width or height.
	ErrDegenerateExtent = errors.New("swapchain: degenerate extent")

	// ErrNoFormats is returned when the surface reports no formats or no
	// present modes.
	ErrNoFormats = errors.New("swapchain: surface reports no formats or present modes")
)

// Status is the presentation engine's verdict on the chain.
type Status int

const (
	// StatusSuccess means the chain matches the surface.
	StatusSuccess Status = iota
	// StatusSuboptimal means the image is usable but the chain should be
	// rebuilt.
	StatusSuboptimal
	// StatusOutOfDate means the chain must be rebuilt before it is used
	// again.
	StatusOutOfDate
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out-of-date"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func statusOf(op string, res vulkan.Result) (Status, error) {
	switch res {
	case vulkan.Success:
		return StatusSuccess, nil
	case vulkan.Suboptimal:
		return StatusSuboptimal, nil
	case vulkan.ErrorOutOfDate:
		return StatusOutOfDate, nil
	case vulkan.Timeout, vulkan.NotReady:
		return StatusSuccess, fmt.Errorf("%s: %w", op, ErrTimeout)
	default:
		return StatusSuccess, fmt.Errorf("%s: %w", op, vulkan.Error(res))
	}
}
