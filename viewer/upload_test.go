package viewer

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/vkngwrapper/sceneviewer/gpu"
	"github.com/vkngwrapper/sceneviewer/scene"
)

type fakeUpload struct {
	calls    []string
	staged   []string
	stageErr error
	waitErr  error
	idleErr  error
}

func (u *fakeUpload) stage(source *scene.Buffer) (*gpu.Buffer, error) {
	u.calls = append(u.calls, "stage")
	if u.stageErr != nil {
		return nil, u.stageErr
	}
	u.staged = append(u.staged, source.Name)
	return &gpu.Buffer{}, nil
}

func (u *fakeUpload) submit() error {
	u.calls = append(u.calls, "submit")
	return nil
}

func (u *fakeUpload) wait(timeout time.Duration) error {
	u.calls = append(u.calls, "wait")
	return u.waitErr
}

func (u *fakeUpload) idle() error {
	u.calls = append(u.calls, "idle")
	return u.idleErr
}

func (u *fakeUpload) release() {
	u.calls = append(u.calls, "release")
}

func (u *fakeUpload) index(call string) int {
	for i, c := range u.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func uploadDocument() *scene.Document {
	return &scene.Document{Buffers: []*scene.Buffer{
		{Name: "positions", Length: 48},
		{Name: "unused"},
		{Name: "indices", Length: 12},
	}}
}

func TestUploadReleasesStagingAfterFenceWait(t *testing.T) {
	logger, hook := test.NewNullLogger()
	steps := &fakeUpload{}

	geometry, err := uploadGeometry(steps, uploadDocument(), time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}

	if len(steps.staged) != 2 || steps.staged[0] != "positions" || steps.staged[1] != "indices" {
		t.Errorf("staged %v, want the two non-empty buffers in order", steps.staged)
	}
	if geometry.Buffers[1] != nil {
		t.Errorf("empty document buffer got a device buffer")
	}
	if _, err := geometry.Get(1); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("Get of empty buffer: got %v", err)
	}

	wait, release := steps.index("wait"), steps.index("release")
	if wait < 0 || release < wait {
		t.Fatalf("calls %v: staging released before the fence wait", steps.calls)
	}
	if release != len(steps.calls)-1 {
		t.Errorf("calls %v: release is not last", steps.calls)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["bytes"] != 60 {
		t.Errorf("upload log entry = %v", entry)
	}
}

func TestUploadWaitFailureIdlesBeforeRelease(t *testing.T) {
	logger, _ := test.NewNullLogger()
	steps := &fakeUpload{
		waitErr: errors.Mark(errors.New("fence not signaled"), gpu.ErrSynchronization),
		idleErr: errors.New("device lost"),
	}

	geometry, err := uploadGeometry(steps, uploadDocument(), time.Millisecond, logger)
	if geometry != nil {
		t.Errorf("got geometry after a failed wait")
	}
	if !errors.Is(err, gpu.ErrSynchronization) {
		t.Fatalf("got %v, want the wait failure", err)
	}

	idle, release := steps.index("idle"), steps.index("release")
	if idle < 0 {
		t.Fatalf("calls %v: device not idled after the failed wait", steps.calls)
	}
	if release < idle {
		t.Errorf("calls %v: staging released before the device went idle", steps.calls)
	}
}

func TestUploadStageFailureSkipsSubmit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	steps := &fakeUpload{stageErr: errors.Mark(errors.New("out of memory"), gpu.ErrAllocation)}

	if _, err := uploadGeometry(steps, uploadDocument(), time.Second, logger); !errors.Is(err, gpu.ErrAllocation) {
		t.Fatalf("got %v, want the allocation failure", err)
	}
	if steps.index("submit") >= 0 {
		t.Errorf("calls %v: submitted after a staging failure", steps.calls)
	}
	if steps.index("release") < 0 {
		t.Errorf("calls %v: upload resources never released", steps.calls)
	}
}
