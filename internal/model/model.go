// Package model holds vertex data in a device-local vertex buffer.
package model

import (
	"errors"
	"fmt"
	"unsafe"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/vulkan-go/vulkan"
)

// ErrTooFewVertices is returned for vertex data that cannot form a triangle.
var ErrTooFewVertices = errors.New("model: vertex count must be at least 3")

// Vertex is the per-vertex input of the graphics pipeline.
type Vertex struct {
	Position mgl32.Vec2
	Color    mgl32.Vec3
}

// BindingDescriptions describes the single interleaved vertex binding.
func BindingDescriptions() []vulkan.VertexInputBindingDescription {
	return []vulkan.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(unsafe.Sizeof(Vertex{})),
		InputRate: vulkan.VertexInputRateVertex,
	}}
}

// AttributeDescriptions maps Position to location 0 and Color to location 1.
func AttributeDescriptions() []vulkan.VertexInputAttributeDescription {
	return []vulkan.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vulkan.FormatR32g32Sfloat, Offset: uint32(unsafe.Offsetof(Vertex{}.Position))},
		{Location: 1, Binding: 0, Format: vulkan.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(Vertex{}.Color))},
	}
}

// Device is the part of the device context a model needs.
type Device interface {
	CreateBuffer(size vulkan.DeviceSize, usage vulkan.BufferUsageFlags, properties vulkan.MemoryPropertyFlagBits) (vulkan.Buffer, vulkan.DeviceMemory, error)
	DestroyBuffer(buffer vulkan.Buffer, memory vulkan.DeviceMemory)
	Upload(memory vulkan.DeviceMemory, data []byte) error
	CopyBuffer(src, dst vulkan.Buffer, size vulkan.DeviceSize) error
	CmdBindVertexBuffer(cb vulkan.CommandBuffer, buffer vulkan.Buffer)
	CmdDraw(cb vulkan.CommandBuffer, vertexCount uint32)
}

// Model is a vertex buffer ready to be drawn.
type Model struct {
	dev         Device
	buffer      vulkan.Buffer
	memory      vulkan.DeviceMemory
	vertexCount uint32
}

// New uploads vertices through a host-visible staging buffer into a
// device-local vertex buffer.
func New(dev Device, vertices []Vertex) (*Model, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("new model with %d vertices: %w", len(vertices), ErrTooFewVertices)
	}

	data := vertexBytes(vertices)
	size := vulkan.DeviceSize(len(data))

	staging, stagingMemory, err := dev.CreateBuffer(size,
		vulkan.BufferUsageFlags(vulkan.BufferUsageTransferSrcBit),
		vulkan.MemoryPropertyHostVisibleBit|vulkan.MemoryPropertyHostCoherentBit)
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer dev.DestroyBuffer(staging, stagingMemory)

	if err := dev.Upload(stagingMemory, data); err != nil {
		return nil, fmt.Errorf("upload vertices: %w", err)
	}

	buffer, memory, err := dev.CreateBuffer(size,
		vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit|vulkan.BufferUsageTransferDstBit),
		vulkan.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return nil, fmt.Errorf("create vertex buffer: %w", err)
	}
	if err := dev.CopyBuffer(staging, buffer, size); err != nil {
		dev.DestroyBuffer(buffer, memory)
		return nil, fmt.Errorf("copy vertices: %w", err)
	}

	return &Model{
		dev:         dev,
		buffer:      buffer,
		memory:      memory,
		vertexCount: uint32(len(vertices)),
	}, nil
}

func vertexBytes(vertices []Vertex) []byte {
	size := len(vertices) * int(unsafe.Sizeof(Vertex{}))
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), size))
	return out
}

func (m *Model) Bind(cb vulkan.CommandBuffer) {
	m.dev.CmdBindVertexBuffer(cb, m.buffer)
}

func (m *Model) Draw(cb vulkan.CommandBuffer) {
	m.dev.CmdDraw(cb, m.vertexCount)
}

func (m *Model) VertexCount() uint32 { return m.vertexCount }

// Destroy releases the vertex buffer. The model must not be in use by the
// GPU.
func (m *Model) Destroy() {
	if m == nil || m.buffer == vulkan.Buffer(vulkan.NullHandle) {
		return
	}
	m.dev.DestroyBuffer(m.buffer, m.memory)
	m.buffer = vulkan.Buffer(vulkan.NullHandle)
	m.memory = vulkan.DeviceMemory(vulkan.NullHandle)
}
