package gpu

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const spirvMagic = 0x07230203

// ShaderPath returns where the build places the compiled shader name for a
// profile: <root>/<profile>/shaders/<name>.
func ShaderPath(root, profile, name string) string {
	return filepath.Join(root, profile, "shaders", name)
}

type ShaderModule struct {
	handle core1_0.ShaderModule
}

// LoadShaderModule reads a SPIR-V blob from path and creates a module from
// it. Blobs ending in .lz4 are decompressed first. If path does not exist,
// path+".spv" and path+".spv.lz4" are tried in that order.
func LoadShaderModule(device *Device, path string) (*ShaderModule, error) {
	code, err := ReadShader(path)
	if err != nil {
		return nil, err
	}
	handle, res, err := device.handle.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return nil, creationError(res, err, "shader module from %s", path)
	}
	return &ShaderModule{handle: handle}, nil
}

func (m *ShaderModule) Destroy() {
	m.handle.Destroy(nil)
}

// ReadShader loads and decodes the SPIR-V words stored at path.
func ReadShader(path string) ([]uint32, error) {
	resolved, err := resolveShaderPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, ioError(err, "read shader")
	}

	if strings.HasSuffix(resolved, ".lz4") {
		data, err = io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, ioError(err, "decompress shader %s", resolved)
		}
	}

	code, err := bytesToBytecode(data)
	if err != nil {
		return nil, ioError(err, "decode shader %s", resolved)
	}
	return code, nil
}

func resolveShaderPath(path string) (string, error) {
	for _, candidate := range []string{path, path + ".spv", path + ".spv.lz4"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.WithHint(
		errors.Mark(errors.Newf("shader %s not found", path), ErrIO),
		"compile the shaders into the gen directory or set SCENEVIEWER_SHADER_DIR")
}

// bytesToBytecode decodes little-endian SPIR-V words.
func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("SPIR-V blob of %d bytes is not a whole number of words", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}

	if byteCode[0] != spirvMagic {
		return nil, errors.Newf("bad SPIR-V magic number %#08x", byteCode[0])
	}
	return byteCode, nil
}
