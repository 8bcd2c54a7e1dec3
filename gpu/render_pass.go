package gpu

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// RenderPass is a single-subpass pass that clears and stores one color
// attachment destined for presentation and clears one depth attachment.
type RenderPass struct {
	handle core1_0.RenderPass
}

func NewRenderPass(device *Device, colorFormat, depthFormat core1_0.Format) (*RenderPass, error) {
	handle, res, err := device.handle.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         colorFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			{
				Format:         depthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return nil, creationError(res, err, "render pass")
	}
	return &RenderPass{handle: handle}, nil
}

func (r *RenderPass) Handle() core1_0.RenderPass {
	return r.handle
}

func (r *RenderPass) Destroy() {
	r.handle.Destroy(nil)
}

type Framebuffer struct {
	handle core1_0.Framebuffer
}

func NewFramebuffer(device *Device, pass *RenderPass, extent core1_0.Extent2D, attachments ...*ImageView) (*Framebuffer, error) {
	views := make([]core1_0.ImageView, len(attachments))
	for i, attachment := range attachments {
		views[i] = attachment.handle
	}
	handle, res, err := device.handle.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass.handle,
		Attachments: views,
		Width:       extent.Width,
		Height:      extent.Height,
		Layers:      1,
	})
	if err != nil {
		return nil, creationError(res, err, "framebuffer")
	}
	return &Framebuffer{handle: handle}, nil
}

func (f *Framebuffer) Destroy() {
	f.handle.Destroy(nil)
}
