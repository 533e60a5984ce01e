// Package pipeline builds the graphics pipeline that draws a model into a
// presentation chain's render pass.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/model"
)

var (
	ErrNoRenderPass = errors.New("pipeline: no render pass in config")
	ErrNoLayout     = errors.New("pipeline: no pipeline layout in config")
)

// Device is the part of the device context a pipeline needs.
type Device interface {
	CreateShaderModule(code []byte) (vulkan.ShaderModule, error)
	DestroyShaderModule(module vulkan.ShaderModule)
	CreatePipelineLayout(info *vulkan.PipelineLayoutCreateInfo) (vulkan.PipelineLayout, error)
	DestroyPipelineLayout(layout vulkan.PipelineLayout)
	CreateGraphicsPipeline(info vulkan.GraphicsPipelineCreateInfo) (vulkan.Pipeline, error)
	DestroyPipeline(p vulkan.Pipeline)
	CmdBindPipeline(cb vulkan.CommandBuffer, p vulkan.Pipeline)
}

// Config is the fixed-function state of a pipeline. Layout and RenderPass
// must be set before calling New.
type Config struct {
	BindingDescriptions   []vulkan.VertexInputBindingDescription
	AttributeDescriptions []vulkan.VertexInputAttributeDescription
	InputAssembly         vulkan.PipelineInputAssemblyStateCreateInfo
	Rasterization         vulkan.PipelineRasterizationStateCreateInfo
	Multisample           vulkan.PipelineMultisampleStateCreateInfo
	ColorBlendAttachment  vulkan.PipelineColorBlendAttachmentState
	DepthStencil          vulkan.PipelineDepthStencilStateCreateInfo
	DynamicStates         []vulkan.DynamicState
	Layout                vulkan.PipelineLayout
	RenderPass            vulkan.RenderPass
	Subpass               uint32
}

// DefaultConfig draws filled, unculled triangle lists of model vertices with
// depth testing. Viewport and scissor are dynamic so the pipeline does not
// depend on the chain extent.
func DefaultConfig() Config {
	return Config{
		BindingDescriptions:   model.BindingDescriptions(),
		AttributeDescriptions: model.AttributeDescriptions(),
		InputAssembly: vulkan.PipelineInputAssemblyStateCreateInfo{
			SType:                  vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology:               vulkan.PrimitiveTopologyTriangleList,
			PrimitiveRestartEnable: vulkan.False,
		},
		Rasterization: vulkan.PipelineRasterizationStateCreateInfo{
			SType:                   vulkan.StructureTypePipelineRasterizationStateCreateInfo,
			DepthClampEnable:        vulkan.False,
			RasterizerDiscardEnable: vulkan.False,
			PolygonMode:             vulkan.PolygonModeFill,
			LineWidth:               1.0,
			CullMode:                vulkan.CullModeFlags(vulkan.CullModeNone),
			FrontFace:               vulkan.FrontFaceClockwise,
			DepthBiasEnable:         vulkan.False,
		},
		Multisample: vulkan.PipelineMultisampleStateCreateInfo{
			SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vulkan.SampleCount1Bit,
			MinSampleShading:     1.0,
		},
		ColorBlendAttachment: vulkan.PipelineColorBlendAttachmentState{
			ColorWriteMask: vulkan.ColorComponentFlags(vulkan.ColorComponentRBit | vulkan.ColorComponentGBit | vulkan.ColorComponentBBit | vulkan.ColorComponentABit),
			BlendEnable:    vulkan.False,
		},
		DepthStencil: vulkan.PipelineDepthStencilStateCreateInfo{
			SType:                 vulkan.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vulkan.True,
			DepthWriteEnable:      vulkan.True,
			DepthCompareOp:        vulkan.CompareOpLess,
			DepthBoundsTestEnable: vulkan.False,
			StencilTestEnable:     vulkan.False,
			MaxDepthBounds:        1.0,
		},
		DynamicStates: []vulkan.DynamicState{vulkan.DynamicStateViewport, vulkan.DynamicStateScissor},
	}
}

// NewLayout creates an empty pipeline layout: no descriptor sets and no
// push constants.
func NewLayout(dev Device) (vulkan.PipelineLayout, error) {
	info := vulkan.PipelineLayoutCreateInfo{
		SType: vulkan.StructureTypePipelineLayoutCreateInfo,
	}
	layout, err := dev.CreatePipelineLayout(&info)
	if err != nil {
		return vulkan.PipelineLayout(vulkan.NullHandle), fmt.Errorf("create pipeline layout: %w", err)
	}
	return layout, nil
}

// Pipeline is a graphics pipeline bound to one render pass.
type Pipeline struct {
	dev    Device
	handle vulkan.Pipeline
}

// New builds a pipeline from the vertex and fragment shaders at the given
// paths. The shader modules only live for the duration of the call.
func New(dev Device, shaders *ShaderCache, vertPath, fragPath string, cfg Config) (*Pipeline, error) {
	if cfg.RenderPass == vulkan.RenderPass(vulkan.NullHandle) {
		return nil, ErrNoRenderPass
	}
	if cfg.Layout == vulkan.PipelineLayout(vulkan.NullHandle) {
		return nil, ErrNoLayout
	}

	vertCode, err := shaders.Load(vertPath)
	if err != nil {
		return nil, fmt.Errorf("vertex shader: %w", err)
	}
	fragCode, err := shaders.Load(fragPath)
	if err != nil {
		return nil, fmt.Errorf("fragment shader: %w", err)
	}

	vertModule, err := dev.CreateShaderModule(vertCode)
	if err != nil {
		return nil, fmt.Errorf("create vertex shader module: %w", err)
	}
	defer dev.DestroyShaderModule(vertModule)
	fragModule, err := dev.CreateShaderModule(fragCode)
	if err != nil {
		return nil, fmt.Errorf("create fragment shader module: %w", err)
	}
	defer dev.DestroyShaderModule(fragModule)

	mainName := "main\x00"
	shaderStages := []vulkan.PipelineShaderStageCreateInfo{
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageVertexBit,
			Module: vertModule,
			PName:  mainName,
		},
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  mainName,
		},
	}

	vertexInput := vulkan.PipelineVertexInputStateCreateInfo{
		SType:                           vulkan.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(cfg.BindingDescriptions)),
		PVertexBindingDescriptions:      cfg.BindingDescriptions,
		VertexAttributeDescriptionCount: uint32(len(cfg.AttributeDescriptions)),
		PVertexAttributeDescriptions:    cfg.AttributeDescriptions,
	}

	// Viewport and scissor come from the dynamic state at record time.
	viewportState := vulkan.PipelineViewportStateCreateInfo{
		SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	colorBlending := vulkan.PipelineColorBlendStateCreateInfo{
		SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vulkan.False,
		LogicOp:         vulkan.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vulkan.PipelineColorBlendAttachmentState{cfg.ColorBlendAttachment},
	}

	dynamicState := vulkan.PipelineDynamicStateCreateInfo{
		SType:             vulkan.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(cfg.DynamicStates)),
		PDynamicStates:    cfg.DynamicStates,
	}

	pipelineInfo := vulkan.GraphicsPipelineCreateInfo{
		SType:               vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &cfg.InputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &cfg.Rasterization,
		PMultisampleState:   &cfg.Multisample,
		PDepthStencilState:  &cfg.DepthStencil,
		PColorBlendState:    &colorBlending,
		PDynamicState:       &dynamicState,
		Layout:              cfg.Layout,
		RenderPass:          cfg.RenderPass,
		Subpass:             cfg.Subpass,
		BasePipelineIndex:   -1,
	}

	handle, err := dev.CreateGraphicsPipeline(pipelineInfo)
	if err != nil {
		return nil, fmt.Errorf("create graphics pipeline: %w", err)
	}
	return &Pipeline{dev: dev, handle: handle}, nil
}

func (p *Pipeline) Bind(cb vulkan.CommandBuffer) {
	p.dev.CmdBindPipeline(cb, p.handle)
}

func (p *Pipeline) Destroy() {
	if p == nil || p.handle == vulkan.Pipeline(vulkan.NullHandle) {
		return
	}
	p.dev.DestroyPipeline(p.handle)
	p.handle = vulkan.Pipeline(vulkan.NullHandle)
}
