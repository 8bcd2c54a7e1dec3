package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_timeline_semaphore"
)

type Queue struct {
	handle core1_0.Queue
	family int
}

func (q *Queue) Handle() core1_0.Queue {
	return q.handle
}

func (q *Queue) Family() int {
	return q.family
}

// TimelineSignal sets a timeline semaphore to Value when the batch completes.
type TimelineSignal struct {
	Semaphore *TimelineSemaphore
	Value     uint64
}

type SubmitBatch struct {
	CommandBuffers []*CommandBuffer
	// WaitSemaphores and WaitStages are parallel slices.
	WaitSemaphores   []*Semaphore
	WaitStages       []core1_0.PipelineStageFlags
	SignalSemaphores []*Semaphore
	SignalTimeline   []TimelineSignal
	// Fence is signaled once every command buffer has finished. May be nil.
	Fence *Fence
}

func (q *Queue) Submit(batch SubmitBatch) error {
	if len(batch.WaitSemaphores) != len(batch.WaitStages) {
		return errors.Mark(errors.Newf("%d wait semaphores but %d wait stages", len(batch.WaitSemaphores), len(batch.WaitStages)), ErrSynchronization)
	}

	info := core1_0.SubmitInfo{
		WaitDstStageMask: batch.WaitStages,
	}
	for _, buffer := range batch.CommandBuffers {
		if buffer.state != commandBufferExecutable {
			return errors.Mark(errors.Newf("submit of command buffer in state %s", buffer.state), ErrSynchronization)
		}
		if buffer.err != nil {
			return errors.Wrap(buffer.err, "submit of command buffer with recording error")
		}
		info.CommandBuffers = append(info.CommandBuffers, buffer.handle)
	}
	for _, semaphore := range batch.WaitSemaphores {
		info.WaitSemaphores = append(info.WaitSemaphores, semaphore.handle)
	}
	for _, semaphore := range batch.SignalSemaphores {
		info.SignalSemaphores = append(info.SignalSemaphores, semaphore.handle)
	}

	if len(batch.SignalTimeline) > 0 {
		// Binary semaphores ignore their entry in the value arrays.
		values := khr_timeline_semaphore.TimelineSemaphoreSubmitInfo{
			WaitSemaphoreValues:   make([]uint64, len(info.WaitSemaphores)),
			SignalSemaphoreValues: make([]uint64, len(info.SignalSemaphores)),
		}
		for _, signal := range batch.SignalTimeline {
			info.SignalSemaphores = append(info.SignalSemaphores, signal.Semaphore.handle)
			values.SignalSemaphoreValues = append(values.SignalSemaphoreValues, signal.Value)
		}
		info.Next = values
	}

	var fence core1_0.Fence
	if batch.Fence != nil {
		fence = batch.Fence.handle
	}

	res, err := q.handle.Submit(fence, []core1_0.SubmitInfo{info})
	if err != nil {
		return synchronizationError(res, err, "queue submit")
	}
	return nil
}

func (q *Queue) WaitIdle() error {
	res, err := q.handle.WaitIdle()
	if err != nil {
		return synchronizationError(res, err, "wait for queue idle")
	}
	return nil
}
