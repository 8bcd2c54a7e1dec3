package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type CommandPool struct {
	device *Device
	handle core1_0.CommandPool
	// buffers allocated from the pool and not yet freed.
	buffers []*CommandBuffer
}

// NewCommandPool creates a pool for the given queue family. resettable lets
// individual buffers be re-recorded.
func NewCommandPool(device *Device, family int, resettable bool) (*CommandPool, error) {
	info := core1_0.CommandPoolCreateInfo{QueueFamilyIndex: family}
	if resettable {
		info.Flags = core1_0.CommandPoolCreateResetBuffer
	}
	handle, res, err := device.handle.CreateCommandPool(nil, info)
	if err != nil {
		return nil, creationError(res, err, "command pool for family %d", family)
	}
	return &CommandPool{device: device, handle: handle}, nil
}

func (p *CommandPool) Allocate(count int) ([]*CommandBuffer, error) {
	handles, res, err := p.device.handle.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.handle,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, creationError(res, err, "%d command buffers", count)
	}

	buffers := make([]*CommandBuffer, len(handles))
	for i, handle := range handles {
		buffers[i] = &CommandBuffer{handle: handle}
	}
	p.buffers = append(p.buffers, buffers...)
	return buffers, nil
}

func (p *CommandPool) AllocateOne() (*CommandBuffer, error) {
	buffers, err := p.Allocate(1)
	if err != nil {
		return nil, err
	}
	return buffers[0], nil
}

// Free returns buffers to the pool. None of them may be pending execution.
func (p *CommandPool) Free(buffers ...*CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	handles := make([]core1_0.CommandBuffer, len(buffers))
	for i, buffer := range buffers {
		handles[i] = buffer.handle
		buffer.state = commandBufferFreed
	}
	p.forget()
	p.device.handle.FreeCommandBuffers(handles)
}

// forget drops freed buffers from the pool's tracking list.
func (p *CommandPool) forget() {
	live := p.buffers[:0]
	for _, buffer := range p.buffers {
		if buffer.state != commandBufferFreed {
			live = append(live, buffer)
		}
	}
	for i := len(live); i < len(p.buffers); i++ {
		p.buffers[i] = nil
	}
	p.buffers = live
}

// Reset recycles every buffer allocated from the pool. They all return to the
// initial state and must be recorded again before the next submit.
func (p *CommandPool) Reset() error {
	res, err := p.handle.Reset(0)
	if err != nil {
		return synchronizationError(res, err, "reset command pool")
	}
	p.resetBuffers()
	return nil
}

func (p *CommandPool) resetBuffers() {
	for _, buffer := range p.buffers {
		buffer.state = commandBufferInitial
		buffer.err = nil
	}
}

func (p *CommandPool) Destroy() {
	for _, buffer := range p.buffers {
		buffer.state = commandBufferFreed
	}
	p.buffers = nil
	p.handle.Destroy(nil)
}

type commandBufferState int

const (
	commandBufferInitial commandBufferState = iota
	commandBufferRecording
	commandBufferExecutable
	commandBufferFreed
)

var commandBufferStateNames = map[commandBufferState]string{
	commandBufferInitial:    "initial",
	commandBufferRecording:  "recording",
	commandBufferExecutable: "executable",
	commandBufferFreed:      "freed",
}

func (s commandBufferState) String() string {
	return commandBufferStateNames[s]
}

// CommandBuffer records commands between Begin and End. A recording call
// made outside that window, or one the driver rejects, is remembered: End
// returns the first such error and Submit refuses the buffer until it is
// recorded again.
type CommandBuffer struct {
	handle core1_0.CommandBuffer
	state  commandBufferState
	err    error
}

func (c *CommandBuffer) Handle() core1_0.CommandBuffer {
	return c.handle
}

// Err returns the first recording error since the last Begin.
func (c *CommandBuffer) Err() error {
	return c.err
}

// Begin starts recording. oneTime marks the buffer as submitted once and
// then discarded.
func (c *CommandBuffer) Begin(oneTime bool) error {
	if c.state == commandBufferRecording || c.state == commandBufferFreed {
		return errors.Mark(errors.Newf("begin on command buffer in state %s", c.state), ErrSynchronization)
	}
	var info core1_0.CommandBufferBeginInfo
	if oneTime {
		info.Flags = core1_0.CommandBufferUsageOneTimeSubmit
	}
	res, err := c.handle.Begin(info)
	if err != nil {
		return synchronizationError(res, err, "begin command buffer")
	}
	c.state = commandBufferRecording
	c.err = nil
	return nil
}

// End finishes recording. If any command since Begin failed, the buffer is
// still closed but End reports that failure.
func (c *CommandBuffer) End() error {
	if c.state != commandBufferRecording {
		c.fail(errors.Newf("end on command buffer in state %s", c.state))
		return c.err
	}
	res, err := c.handle.End()
	if err != nil {
		return synchronizationError(res, err, "end command buffer")
	}
	c.state = commandBufferExecutable
	return c.err
}

// fail keeps the first error only.
func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = errors.Mark(err, ErrSynchronization)
	}
}

// record reports whether op may be recorded now, remembering the misuse if not.
func (c *CommandBuffer) record(op string) bool {
	if c.state == commandBufferRecording {
		return true
	}
	c.fail(errors.Newf("%s on command buffer in state %s", op, c.state))
	return false
}

func (c *CommandBuffer) BeginRenderPass(pass *RenderPass, framebuffer *Framebuffer, extent core1_0.Extent2D, clear []core1_0.ClearValue) error {
	if !c.record("begin render pass") {
		return c.err
	}
	err := c.handle.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  pass.handle,
		Framebuffer: framebuffer.handle,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValues: clear,
	})
	if err != nil {
		err = errors.Wrap(err, "begin render pass")
		c.fail(err)
		return errors.Mark(err, ErrSynchronization)
	}
	return nil
}

func (c *CommandBuffer) EndRenderPass() {
	if c.record("end render pass") {
		c.handle.CmdEndRenderPass()
	}
}

func (c *CommandBuffer) BindPipeline(pipeline *GraphicsPipeline) {
	if c.record("bind pipeline") {
		c.handle.CmdBindPipeline(core1_0.PipelineBindPointGraphics, pipeline.handle)
	}
}

func (c *CommandBuffer) BindVertexBuffers(first int, buffers []*Buffer, offsets []int) {
	if !c.record("bind vertex buffers") {
		return
	}
	handles := make([]core1_0.Buffer, len(buffers))
	for i, buffer := range buffers {
		handles[i] = buffer.handle
	}
	c.handle.CmdBindVertexBuffers(first, handles, offsets)
}

func (c *CommandBuffer) BindIndexBuffer(buffer *Buffer, offset int, indexType core1_0.IndexType) {
	if c.record("bind index buffer") {
		c.handle.CmdBindIndexBuffer(buffer.handle, offset, indexType)
	}
}

func (c *CommandBuffer) BindDescriptorSets(layout *PipelineLayout, sets ...core1_0.DescriptorSet) {
	if c.record("bind descriptor sets") {
		c.handle.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, layout.handle, 0, sets, nil)
	}
}

func (c *CommandBuffer) PushConstants(layout *PipelineLayout, stages core1_0.ShaderStageFlags, offset int, data []byte) {
	if c.record("push constants") {
		c.handle.CmdPushConstants(layout.handle, stages, offset, data)
	}
}

func (c *CommandBuffer) Draw(vertexCount int) {
	if c.record("draw") {
		c.handle.CmdDraw(vertexCount, 1, 0, 0)
	}
}

func (c *CommandBuffer) DrawIndexed(indexCount int) {
	if c.record("draw indexed") {
		c.handle.CmdDrawIndexed(indexCount, 1, 0, 0, 0)
	}
}

func (c *CommandBuffer) CopyBuffer(src, dst *Buffer, size int) {
	if !c.record("copy buffer") {
		return
	}
	err := c.handle.CmdCopyBuffer(src.handle, dst.handle, []core1_0.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
	if err != nil {
		c.fail(errors.Wrapf(err, "copy %d bytes", size))
	}
}
