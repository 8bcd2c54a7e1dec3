package viewer

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/sceneviewer/gpu"
	"github.com/vkngwrapper/sceneviewer/scene"
)

//go:generate glslc -O0 -g ../shaders/scene.vert -o ../gen/debug/shaders/scene.vert.spv
//go:generate glslc -O0 -g ../shaders/scene.frag -o ../gen/debug/shaders/scene.frag.spv
//go:generate glslc -O ../shaders/scene.vert -o ../gen/release/shaders/scene.vert.spv
//go:generate glslc -O ../shaders/scene.frag -o ../gen/release/shaders/scene.frag.spv

const (
	vertexShader   = "scene.vert"
	fragmentShader = "scene.frag"

	// The model matrix is pushed per draw.
	pushConstantSize = 16 * 4
)

var depthCandidates = []core1_0.Format{
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
}

var clearValues = []core1_0.ClearValue{
	core1_0.ClearValueFloat{0.1, 0.1, 0.1, 1},
	core1_0.ClearValueDepthStencil{Depth: 1, Stencil: 0},
}

type draw struct {
	pipeline *gpu.GraphicsPipeline
	layout   *scene.Layout
	vertices []*gpu.Buffer
	offsets  []int
	index    *gpu.Buffer
	model    []byte
}

type primitiveKey struct {
	mesh, primitive int
}

// scenePass owns everything needed to draw the scene into the swapchain,
// including one uniform buffer, descriptor set and prerecorded command
// buffer per swapchain image.
type scenePass struct {
	depth        *gpu.Image
	depthView    *gpu.ImageView
	renderPass   *gpu.RenderPass
	framebuffers []*gpu.Framebuffer

	setLayout      *gpu.DescriptorSetLayout
	layout         *gpu.PipelineLayout
	pipelines      []*gpu.GraphicsPipeline
	uniforms       []*gpu.Buffer
	descriptorPool *gpu.DescriptorPool
	sets           []core1_0.DescriptorSet
	commands       []*gpu.CommandBuffer

	draws []draw
}

type scenePassOptions struct {
	Device    *gpu.Device
	Allocator *gpu.Allocator
	Swapchain *gpu.Swapchain
	Pool      *gpu.CommandPool
	Cache     *gpu.PipelineCache
	Document  *scene.Document
	Scene     int
	Geometry  *GeometryBuffers
	ShaderDir string
	Profile   string
	Logger    logrus.FieldLogger
}

func newScenePass(o scenePassOptions) (pass *scenePass, err error) {
	pass = &scenePass{}
	defer func() {
		if err != nil {
			pass.Destroy(o.Pool)
			pass = nil
		}
	}()

	if err = pass.createTargets(o); err != nil {
		return pass, err
	}
	if err = pass.createPipelines(o); err != nil {
		return pass, err
	}
	if err = pass.createUniforms(o); err != nil {
		return pass, err
	}
	if pass.commands, err = o.Pool.Allocate(o.Swapchain.ImageCount()); err != nil {
		return pass, err
	}
	for image := range pass.commands {
		if err = pass.record(image, o.Swapchain.Extent()); err != nil {
			return pass, errors.Wrapf(err, "record commands for image %d", image)
		}
	}
	return pass, nil
}

func (p *scenePass) createTargets(o scenePassOptions) error {
	depthFormat, err := o.Device.Physical().FindSupportedFormat(depthCandidates, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment)
	if err != nil {
		return err
	}

	extent := o.Swapchain.Extent()
	if p.depth, err = gpu.NewImage(o.Device, o.Allocator, gpu.ImageOptions{
		Format:   depthFormat,
		Extent:   extent,
		Usage:    core1_0.ImageUsageDepthStencilAttachment,
		Tiling:   core1_0.ImageTilingOptimal,
		Location: gpu.LocationGPUOnly,
		Name:     "depth",
	}); err != nil {
		return err
	}
	if p.depthView, err = gpu.NewImageView(o.Device, p.depth.Handle(), depthFormat, gpu.DepthAspect(depthFormat)); err != nil {
		return err
	}

	if p.renderPass, err = gpu.NewRenderPass(o.Device, o.Swapchain.Format(), depthFormat); err != nil {
		return err
	}
	for _, view := range o.Swapchain.Views() {
		framebuffer, err := gpu.NewFramebuffer(o.Device, p.renderPass, extent, view, p.depthView)
		if err != nil {
			return err
		}
		p.framebuffers = append(p.framebuffers, framebuffer)
	}
	return nil
}

func (p *scenePass) createPipelines(o scenePassOptions) error {
	var err error
	if p.setLayout, err = gpu.NewUniformSetLayout(o.Device, core1_0.StageVertex); err != nil {
		return err
	}
	if p.layout, err = gpu.NewPipelineLayout(o.Device, []*gpu.DescriptorSetLayout{p.setLayout}, core1_0.StageVertex, pushConstantSize); err != nil {
		return err
	}

	vertex, err := gpu.LoadShaderModule(o.Device, gpu.ShaderPath(o.ShaderDir, o.Profile, vertexShader))
	if err != nil {
		return err
	}
	defer vertex.Destroy()
	fragment, err := gpu.LoadShaderModule(o.Device, gpu.ShaderPath(o.ShaderDir, o.Profile, fragmentShader))
	if err != nil {
		return err
	}
	defer fragment.Destroy()

	items, err := o.Document.DrawItems(o.Scene)
	if err != nil {
		return err
	}

	start := hrtime.Now()
	type built struct {
		pipeline *gpu.GraphicsPipeline
		layout   *scene.Layout
	}
	cache := make(map[primitiveKey]built)

	for _, item := range items {
		key := primitiveKey{item.Mesh, item.Primitive}
		entry, ok := cache[key]
		if !ok {
			layout, err := scene.VertexLayout(o.Document, o.Document.Primitive(item))
			if err != nil {
				return errors.Wrapf(err, "mesh %d primitive %d", item.Mesh, item.Primitive)
			}
			pipeline, err := gpu.NewGraphicsPipeline(o.Device, gpu.GraphicsPipelineOptions{
				Layout:     p.layout,
				RenderPass: p.renderPass,
				Vertex:     vertex,
				Fragment:   fragment,
				Bindings:   layout.Bindings,
				Attributes: layout.Attributes,
				Topology:   layout.Topology,
				Extent:     o.Swapchain.Extent(),
				Cache:      o.Cache,
			})
			if err != nil {
				return err
			}
			p.pipelines = append(p.pipelines, pipeline)
			entry = built{pipeline: pipeline, layout: layout}
			cache[key] = entry
		}

		d, err := newDraw(entry.pipeline, entry.layout, o.Geometry, item.World)
		if err != nil {
			return err
		}
		p.draws = append(p.draws, d)
	}

	o.Logger.WithFields(logrus.Fields{
		"pipelines": len(p.pipelines),
		"draws":     len(p.draws),
		"elapsed":   hrtime.Since(start),
	}).Info("scene pipelines built")
	return nil
}

func newDraw(pipeline *gpu.GraphicsPipeline, layout *scene.Layout, geometry *GeometryBuffers, world mgl32.Mat4) (draw, error) {
	d := draw{pipeline: pipeline, layout: layout}
	for _, stream := range layout.Streams {
		buffer, err := geometry.Get(stream.Buffer)
		if err != nil {
			return draw{}, err
		}
		d.vertices = append(d.vertices, buffer)
		d.offsets = append(d.offsets, stream.Offset)
	}
	if layout.Index != nil {
		buffer, err := geometry.Get(layout.Index.Buffer)
		if err != nil {
			return draw{}, err
		}
		d.index = buffer
	}

	model := &bytes.Buffer{}
	if err := binary.Write(model, common.ByteOrder, world); err != nil {
		return draw{}, errors.Wrap(err, "pack model matrix")
	}
	d.model = model.Bytes()
	return d, nil
}

func (p *scenePass) createUniforms(o scenePassOptions) error {
	for image := 0; image < o.Swapchain.ImageCount(); image++ {
		buffer, err := gpu.NewBuffer(o.Device, o.Allocator, gpu.BufferOptions{
			Size:     viewProjectionSize,
			Usage:    core1_0.BufferUsageUniformBuffer,
			Location: gpu.LocationCPUToGPU,
			Name:     "view projection",
		})
		if err != nil {
			return err
		}
		p.uniforms = append(p.uniforms, buffer)
	}

	var err error
	if p.descriptorPool, err = gpu.NewUniformDescriptorPool(o.Device, len(p.uniforms)); err != nil {
		return err
	}
	p.sets, err = p.descriptorPool.AllocateUniformSets(p.setLayout, p.uniforms)
	return err
}

func (p *scenePass) record(image int, extent core1_0.Extent2D) error {
	commands := p.commands[image]
	if err := commands.Begin(false); err != nil {
		return err
	}
	if err := commands.BeginRenderPass(p.renderPass, p.framebuffers[image], extent, clearValues); err != nil {
		return err
	}
	commands.BindDescriptorSets(p.layout, p.sets[image])

	var bound *gpu.GraphicsPipeline
	for _, d := range p.draws {
		if d.pipeline != bound {
			commands.BindPipeline(d.pipeline)
			bound = d.pipeline
		}
		commands.BindVertexBuffers(0, d.vertices, d.offsets)
		commands.PushConstants(p.layout, core1_0.StageVertex, 0, d.model)
		if d.index != nil {
			commands.BindIndexBuffer(d.index, d.layout.Index.Offset, d.layout.Index.Type)
			commands.DrawIndexed(d.layout.Index.Count)
		} else {
			commands.Draw(d.layout.VertexCount)
		}
	}

	commands.EndRenderPass()
	return commands.End()
}

// Destroy releases everything in reverse order of creation. The device must
// be idle.
func (p *scenePass) Destroy(pool *gpu.CommandPool) {
	if len(p.commands) > 0 {
		pool.Free(p.commands...)
		p.commands = nil
	}
	if p.descriptorPool != nil {
		p.descriptorPool.Destroy()
	}
	for _, buffer := range p.uniforms {
		buffer.Destroy()
	}
	for _, pipeline := range p.pipelines {
		pipeline.Destroy()
	}
	if p.layout != nil {
		p.layout.Destroy()
	}
	if p.setLayout != nil {
		p.setLayout.Destroy()
	}
	for _, framebuffer := range p.framebuffers {
		framebuffer.Destroy()
	}
	if p.renderPass != nil {
		p.renderPass.Destroy()
	}
	if p.depthView != nil {
		p.depthView.Destroy()
	}
	if p.depth != nil {
		p.depth.Destroy()
	}
	*p = scenePass{}
}
