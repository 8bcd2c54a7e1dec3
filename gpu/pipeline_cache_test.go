package gpu

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func cacheBlob(t *testing.T, header pipelineCacheHeader) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte("driver specific payload"))
	return buf.Bytes()
}

func TestPipelineCacheHeaderValidation(t *testing.T) {
	cacheID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	properties := &core1_0.PhysicalDeviceProperties{
		VendorID:          0x10de,
		DeviceID:          0x2484,
		PipelineCacheUUID: cacheID,
	}
	good := pipelineCacheHeader{
		Length:   32,
		Version:  pipelineCacheHeaderVersionOne,
		VendorID: 0x10de,
		DeviceID: 0x2484,
		UUID:     cacheID,
	}

	cases := []struct {
		name     string
		mutate   func(*pipelineCacheHeader)
		problems int
	}{
		{"matching", func(*pipelineCacheHeader) {}, 0},
		{"short length", func(h *pipelineCacheHeader) { h.Length = 0 }, 1},
		{"version", func(h *pipelineCacheHeader) { h.Version = 2 }, 1},
		{"other vendor", func(h *pipelineCacheHeader) { h.VendorID = 0x1002 }, 1},
		{"other device", func(h *pipelineCacheHeader) { h.DeviceID = 1 }, 1},
		{"other driver build", func(h *pipelineCacheHeader) { h.UUID = uuid.Nil }, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := good
			tc.mutate(&header)

			parsed, err := parsePipelineCacheHeader(cacheBlob(t, header))
			if err != nil {
				t.Fatal(err)
			}
			if parsed != header {
				t.Fatalf("parsed %+v, wrote %+v", parsed, header)
			}
			if problems := parsed.validate(properties); len(problems) != tc.problems {
				t.Errorf("problems = %v, want %d", problems, tc.problems)
			}
		})
	}
}

func TestPipelineCacheHeaderTruncated(t *testing.T) {
	if _, err := parsePipelineCacheHeader([]byte{1, 2, 3}); err == nil {
		t.Error("truncated header parsed")
	}
}
