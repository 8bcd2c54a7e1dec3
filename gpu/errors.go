package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Error kinds. Every error leaving this package is marked with one of these
// so callers can branch with errors.Is regardless of wrapping depth.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrResourceCreation  = errors.New("resource creation error")
	ErrAllocation        = errors.New("allocation error")
	ErrNotHostVisible    = errors.New("allocation is not host visible")
	ErrInvalidAllocation = errors.New("invalid allocation")
	ErrSynchronization   = errors.New("synchronization error")
	ErrOutOfDate         = errors.New("swapchain out of date")
	ErrIO                = errors.New("io error")
)

func configurationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

// creationError wraps a failed create call. Out-of-memory results are marked
// as allocation failures as well so a heap exhaustion looks the same whether
// it came from the allocator or from the driver.
func creationError(res common.VkResult, err error, format string, args ...interface{}) error {
	err = errors.Mark(errors.Wrapf(resultError(res, err), format, args...), ErrResourceCreation)
	if isOutOfMemory(res) {
		err = errors.Mark(err, ErrAllocation)
	}
	return err
}

func synchronizationError(res common.VkResult, err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(resultError(res, err), format, args...), ErrSynchronization)
}

func ioError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrIO)
}

func isOutOfMemory(res common.VkResult) bool {
	return res == core1_0.VKErrorOutOfDeviceMemory || res == core1_0.VKErrorOutOfHostMemory
}

// resultError returns err, or an error built from res when the binding
// reported a failure code without an error value.
func resultError(res common.VkResult, err error) error {
	if err != nil {
		return err
	}
	if res < 0 {
		return res.ToError()
	}
	return errors.Newf("unexpected result %s", res)
}
