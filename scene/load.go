package scene

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

// Open loads a scene file, choosing the reader from the file extension.
func Open(path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "scene file %s", path), gpu.ErrIO)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".gltf", ".glb":
		return OpenGLTF(path)
	case ".obj":
		return OpenOBJ(path)
	default:
		return nil, errors.WithHint(
			errors.Mark(errors.Newf("unrecognized scene format %q", ext), gpu.ErrConfiguration),
			"supported formats are .gltf, .glb and .obj",
		)
	}
}
