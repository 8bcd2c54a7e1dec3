package viewer

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/sceneviewer/gpu"
	"github.com/vkngwrapper/sceneviewer/scene"
)

// GeometryBuffers holds one device-local buffer per document buffer, at the
// same index. Empty document buffers have a nil entry.
type GeometryBuffers struct {
	Buffers []*gpu.Buffer
}

// Get returns the device buffer for document buffer i.
func (g *GeometryBuffers) Get(i int) (*gpu.Buffer, error) {
	if i < 0 || i >= len(g.Buffers) || g.Buffers[i] == nil {
		return nil, errors.Mark(errors.Newf("no device buffer for document buffer %d", i), gpu.ErrConfiguration)
	}
	return g.Buffers[i], nil
}

func (g *GeometryBuffers) Destroy() {
	for _, buffer := range g.Buffers {
		if buffer != nil {
			buffer.Destroy()
		}
	}
	g.Buffers = nil
}

const geometryUsage = core1_0.BufferUsageTransferDst | core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageIndexBuffer

// uploadSteps is the device work behind a geometry upload. release must only
// run once nothing submitted can still read the staging buffers.
type uploadSteps interface {
	// stage copies source into host-visible memory and records a copy into
	// a new device-local buffer, which it returns.
	stage(source *scene.Buffer) (*gpu.Buffer, error)
	submit() error
	wait(timeout time.Duration) error
	idle() error
	// release destroys staging buffers and the upload's command buffer and
	// fence.
	release()
}

// UploadGeometry copies every document buffer into device-local memory. Each
// buffer is staged through host-visible memory, then all copies go to the
// device in one command buffer guarded by its own fence. Staging memory is
// released before returning.
func UploadGeometry(device *gpu.Device, allocator *gpu.Allocator, pool *gpu.CommandPool, doc *scene.Document, timeout time.Duration, logger logrus.FieldLogger) (*GeometryBuffers, error) {
	steps, err := newDeviceUpload(device, allocator, pool)
	if err != nil {
		return nil, err
	}
	return uploadGeometry(steps, doc, timeout, logger)
}

func uploadGeometry(steps uploadSteps, doc *scene.Document, timeout time.Duration, logger logrus.FieldLogger) (*GeometryBuffers, error) {
	start := hrtime.Now()
	geometry := &GeometryBuffers{Buffers: make([]*gpu.Buffer, len(doc.Buffers))}
	defer steps.release()

	fail := func(err error) (*GeometryBuffers, error) {
		geometry.Destroy()
		return nil, err
	}

	staged, total := 0, 0
	for i, source := range doc.Buffers {
		if source.Length == 0 {
			continue
		}
		target, err := steps.stage(source)
		if err != nil {
			return fail(err)
		}
		geometry.Buffers[i] = target
		staged++
		total += source.Length
	}

	if err := steps.submit(); err != nil {
		return fail(err)
	}
	if err := steps.wait(timeout); err != nil {
		// The copies may still be running, so nothing they touch can be
		// released yet.
		if idleErr := steps.idle(); idleErr != nil {
			err = errors.CombineErrors(err, idleErr)
		}
		return fail(errors.Wrap(err, "geometry upload"))
	}

	logger.WithFields(logrus.Fields{
		"buffers": staged,
		"bytes":   total,
		"elapsed": hrtime.Since(start),
	}).Info("geometry uploaded")
	return geometry, nil
}

// deviceUpload records every copy into one one-time command buffer.
type deviceUpload struct {
	device    *gpu.Device
	allocator *gpu.Allocator
	pool      *gpu.CommandPool
	commands  *gpu.CommandBuffer
	fence     *gpu.Fence
	staging   []*gpu.Buffer
}

func newDeviceUpload(device *gpu.Device, allocator *gpu.Allocator, pool *gpu.CommandPool) (*deviceUpload, error) {
	commands, err := pool.AllocateOne()
	if err != nil {
		return nil, err
	}
	if err := commands.Begin(true); err != nil {
		pool.Free(commands)
		return nil, err
	}
	return &deviceUpload{
		device:    device,
		allocator: allocator,
		pool:      pool,
		commands:  commands,
	}, nil
}

func (u *deviceUpload) stage(source *scene.Buffer) (*gpu.Buffer, error) {
	stage, err := gpu.NewBuffer(u.device, u.allocator, gpu.BufferOptions{
		Size:     source.Length,
		Usage:    core1_0.BufferUsageTransferSrc,
		Location: gpu.LocationCPUToGPU,
		Name:     "staging " + source.Name,
	})
	if err != nil {
		return nil, err
	}
	u.staging = append(u.staging, stage)

	mapped, err := stage.MappedSlice()
	if err != nil {
		return nil, err
	}
	if err := source.ReadInto(mapped); err != nil {
		return nil, err
	}
	if err := stage.Flush(); err != nil {
		return nil, err
	}

	target, err := gpu.NewBuffer(u.device, u.allocator, gpu.BufferOptions{
		Size:     source.Length,
		Usage:    geometryUsage,
		Location: gpu.LocationGPUOnly,
		Name:     source.Name,
	})
	if err != nil {
		return nil, err
	}
	u.commands.CopyBuffer(stage, target, source.Length)
	return target, nil
}

func (u *deviceUpload) submit() error {
	if err := u.commands.End(); err != nil {
		return err
	}
	fence, err := gpu.NewFence(u.device, false)
	if err != nil {
		return err
	}
	u.fence = fence

	return u.device.GraphicsQueue().Submit(gpu.SubmitBatch{
		CommandBuffers: []*gpu.CommandBuffer{u.commands},
		Fence:          fence,
	})
}

func (u *deviceUpload) wait(timeout time.Duration) error {
	return u.fence.Wait(timeout)
}

func (u *deviceUpload) idle() error {
	return u.device.WaitIdle()
}

func (u *deviceUpload) release() {
	for _, buffer := range u.staging {
		buffer.Destroy()
	}
	u.staging = nil
	if u.fence != nil {
		u.fence.Destroy()
		u.fence = nil
	}
	if u.commands != nil {
		u.pool.Free(u.commands)
		u.commands = nil
	}
}
