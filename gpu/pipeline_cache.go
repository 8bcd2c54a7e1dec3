package gpu

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const pipelineCacheHeaderVersionOne = 1

// pipelineCacheHeader is the prefix every driver writes in front of its
// pipeline cache data.
//
// Offset  Size  Meaning
//
//	0    4   header length in bytes
//	4    4   header version
//	8    4   vendor ID
//	12   4   device ID
//	16   16  pipeline cache UUID
type pipelineCacheHeader struct {
	Length   uint32
	Version  uint32
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

func parsePipelineCacheHeader(data []byte) (pipelineCacheHeader, error) {
	var header pipelineCacheHeader
	if err := binary.Read(bytes.NewReader(data), common.ByteOrder, &header); err != nil {
		return header, errors.Wrap(err, "read pipeline cache header")
	}
	return header, nil
}

// validate lists every way the header disagrees with the device.
func (h pipelineCacheHeader) validate(properties *core1_0.PhysicalDeviceProperties) []string {
	var problems []string
	if h.Length < uint32(binary.Size(h)) {
		problems = append(problems, "bad header length")
	}
	if h.Version != pipelineCacheHeaderVersionOne {
		problems = append(problems, "unsupported header version")
	}
	if h.VendorID != properties.VendorID {
		problems = append(problems, "vendor ID mismatch")
	}
	if h.DeviceID != properties.DeviceID {
		problems = append(problems, "device ID mismatch")
	}
	if h.UUID != properties.PipelineCacheUUID {
		problems = append(problems, "UUID mismatch")
	}
	return problems
}

type PipelineCache struct {
	handle core1_0.PipelineCache
}

// LoadPipelineCache creates a pipeline cache seeded from path. A missing
// file gives an empty cache. A file written by another device or driver is
// discarded with a warning.
func LoadPipelineCache(device *Device, path string, logger logrus.FieldLogger) (*PipelineCache, error) {
	var initial []byte
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			logger.WithField("path", path).Debug("pipeline cache miss")
		case err != nil:
			return nil, ioError(err, "read pipeline cache")
		default:
			initial = data
		}
	}

	if initial != nil {
		header, err := parsePipelineCacheHeader(initial)
		var problems []string
		if err != nil {
			problems = []string{err.Error()}
		} else {
			problems = header.validate(device.physical.properties)
		}
		if len(problems) > 0 {
			logger.WithFields(logrus.Fields{
				"path":     path,
				"problems": problems,
			}).Warn("discarding stale pipeline cache")
			initial = nil
			_ = os.Remove(path)
		}
	}

	handle, res, err := device.handle.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: initial,
	})
	if err != nil {
		return nil, creationError(res, err, "pipeline cache")
	}
	return &PipelineCache{handle: handle}, nil
}

// Save writes the cache contents to path.
func (c *PipelineCache) Save(path string) error {
	data, res, err := c.handle.CacheData()
	if err != nil {
		return ioError(resultError(res, err), "read pipeline cache data")
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		return ioError(err, "write pipeline cache")
	}
	return nil
}

func (c *PipelineCache) Destroy() {
	c.handle.Destroy(nil)
}
