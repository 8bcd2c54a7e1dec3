package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type DescriptorSetLayout struct {
	handle core1_0.DescriptorSetLayout
}

// NewUniformSetLayout creates a layout with one uniform buffer at binding 0
// visible to the given stages.
func NewUniformSetLayout(device *Device, stages core1_0.ShaderStageFlags) (*DescriptorSetLayout, error) {
	handle, res, err := device.handle.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      stages,
			},
		},
	})
	if err != nil {
		return nil, creationError(res, err, "descriptor set layout")
	}
	return &DescriptorSetLayout{handle: handle}, nil
}

func (l *DescriptorSetLayout) Destroy() {
	l.handle.Destroy(nil)
}

// DescriptorPool hands out uniform buffer descriptor sets. Sets are released
// with the pool.
type DescriptorPool struct {
	device *Device
	handle core1_0.DescriptorPool
}

func NewUniformDescriptorPool(device *Device, sets int) (*DescriptorPool, error) {
	handle, res, err := device.handle.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: sets,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: sets,
			},
		},
	})
	if err != nil {
		return nil, creationError(res, err, "descriptor pool")
	}
	return &DescriptorPool{device: device, handle: handle}, nil
}

// AllocateUniformSets allocates one set per buffer and points binding 0 of
// each at the whole of its buffer.
func (p *DescriptorPool) AllocateUniformSets(layout *DescriptorSetLayout, buffers []*Buffer) ([]core1_0.DescriptorSet, error) {
	layouts := make([]core1_0.DescriptorSetLayout, len(buffers))
	for i := range layouts {
		layouts[i] = layout.handle
	}

	sets, res, err := p.device.handle.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.handle,
		SetLayouts:     layouts,
	})
	if err != nil {
		return nil, creationError(res, err, "%d descriptor sets", len(buffers))
	}

	writes := make([]core1_0.WriteDescriptorSet, len(buffers))
	for i, buffer := range buffers {
		writes[i] = core1_0.WriteDescriptorSet{
			DstSet:          sets[i],
			DstBinding:      0,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffer.handle,
					Offset: 0,
					Range:  buffer.size,
				},
			},
		}
	}
	if err := p.device.handle.UpdateDescriptorSets(writes, nil); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "update descriptor sets"), ErrResourceCreation)
	}
	return sets, nil
}

func (p *DescriptorPool) Destroy() {
	p.handle.Destroy(nil)
}

type PipelineLayout struct {
	handle core1_0.PipelineLayout
}

// NewPipelineLayout creates a layout over the given set layouts and one push
// constant range starting at offset 0. pushSize 0 means no push constants.
func NewPipelineLayout(device *Device, sets []*DescriptorSetLayout, pushStages core1_0.ShaderStageFlags, pushSize int) (*PipelineLayout, error) {
	info := core1_0.PipelineLayoutCreateInfo{}
	for _, set := range sets {
		info.SetLayouts = append(info.SetLayouts, set.handle)
	}
	if pushSize > 0 {
		info.PushConstantRanges = []core1_0.PushConstantRange{
			{StageFlags: pushStages, Offset: 0, Size: pushSize},
		}
	}

	handle, res, err := device.handle.CreatePipelineLayout(nil, info)
	if err != nil {
		return nil, creationError(res, err, "pipeline layout")
	}
	return &PipelineLayout{handle: handle}, nil
}

func (l *PipelineLayout) Destroy() {
	l.handle.Destroy(nil)
}

type GraphicsPipelineOptions struct {
	Layout     *PipelineLayout
	RenderPass *RenderPass
	Vertex     *ShaderModule
	Fragment   *ShaderModule
	Bindings   []core1_0.VertexInputBindingDescription
	Attributes []core1_0.VertexInputAttributeDescription
	Topology   core1_0.PrimitiveTopology
	Extent     core1_0.Extent2D
	// Cache may be nil.
	Cache *PipelineCache
}

type GraphicsPipeline struct {
	handle core1_0.Pipeline
}

func NewGraphicsPipeline(device *Device, o GraphicsPipelineOptions) (*GraphicsPipeline, error) {
	var cache core1_0.PipelineCache
	if o.Cache != nil {
		cache = o.Cache.handle
	}

	pipelines, res, err := device.handle.CreateGraphicsPipelines(cache, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{Stage: core1_0.StageVertex, Module: o.Vertex.handle, Name: "main"},
				{Stage: core1_0.StageFragment, Module: o.Fragment.handle, Name: "main"},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   o.Bindings,
				VertexAttributeDescriptions: o.Attributes,
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology: o.Topology,
			},
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{
					{
						Width:    float32(o.Extent.Width),
						Height:   float32(o.Extent.Height),
						MinDepth: 0,
						MaxDepth: 1,
					},
				},
				Scissors: []core1_0.Rect2D{
					{Extent: o.Extent},
				},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				PolygonMode: core1_0.PolygonModeFill,
				FrontFace:   core1_0.FrontFaceCounterClockwise,
				LineWidth:   1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
				DepthTestEnable:  true,
				DepthWriteEnable: true,
				DepthCompareOp:   core1_0.CompareOpLess,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOp: core1_0.LogicOpCopy,
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					{
						ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen |
							core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
					},
				},
			},
			Layout:            o.Layout.handle,
			RenderPass:        o.RenderPass.handle,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return nil, creationError(res, err, "graphics pipeline")
	}
	return &GraphicsPipeline{handle: pipelines[0]}, nil
}

func (p *GraphicsPipeline) Destroy() {
	p.handle.Destroy(nil)
}
