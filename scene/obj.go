package scene

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

// OpenOBJ reads a Wavefront file. A material library with the same base
// name is picked up when present; materials are otherwise ignored.
func OpenOBJ(path string) (*Document, error) {
	meshFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", path), gpu.ErrIO)
	}
	defer meshFile.Close()

	var materials io.Reader = strings.NewReader("")
	mtlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".mtl"
	if matFile, err := os.Open(mtlPath); err == nil {
		defer matFile.Close()
		materials = matFile
	}

	decoder, err := obj.DecodeReader(meshFile, materials)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode %s", path), gpu.ErrIO)
	}

	doc, err := FromOBJ(decoder)
	if err != nil {
		return nil, err
	}
	doc.Buffers[0].Name = filepath.Base(path)
	return doc, nil
}

type objCorner struct {
	vertex, uv, normal int
}

type objMesh struct {
	positions []float32
	normals   []float32
	texCoords []float32
	indices   []uint32
}

// FromOBJ triangulates every face as a fan and deduplicates identical
// corners. Positions, normals, texture coordinates and uint32 indices are
// packed into one embedded buffer, each stream in its own view.
func FromOBJ(decoder *obj.Decoder) (*Document, error) {
	withNormals, withUVs := len(decoder.Normals) > 0, len(decoder.Uvs) > 0
	for _, object := range decoder.Objects {
		for _, face := range object.Faces {
			withNormals = withNormals && validCorners(face.Normals, len(face.Vertices), len(decoder.Normals)/3)
			withUVs = withUVs && validCorners(face.Uvs, len(face.Vertices), len(decoder.Uvs)/2)
		}
	}

	mesh := &objMesh{}
	unique := make(map[objCorner]uint32)
	addCorner := func(face obj.Face, corner int) error {
		key := objCorner{vertex: face.Vertices[corner], uv: -1, normal: -1}
		if key.vertex < 0 || key.vertex*3+2 >= len(decoder.Vertices) {
			return errors.Mark(errors.Newf("face references vertex %d of %d", key.vertex, len(decoder.Vertices)/3), gpu.ErrConfiguration)
		}
		if withUVs {
			key.uv = face.Uvs[corner]
		}
		if withNormals {
			key.normal = face.Normals[corner]
		}

		index, ok := unique[key]
		if !ok {
			index = uint32(len(mesh.positions) / 3)
			mesh.positions = append(mesh.positions, decoder.Vertices[key.vertex*3:key.vertex*3+3]...)
			if withNormals {
				mesh.normals = append(mesh.normals, decoder.Normals[key.normal*3:key.normal*3+3]...)
			}
			if withUVs {
				mesh.texCoords = append(mesh.texCoords, decoder.Uvs[key.uv*2], 1.0-decoder.Uvs[key.uv*2+1])
			}
			unique[key] = index
		}
		mesh.indices = append(mesh.indices, index)
		return nil
	}

	for _, object := range decoder.Objects {
		for _, face := range object.Faces {
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range []int{0, i - 1, i} {
					if err := addCorner(face, corner); err != nil {
						return nil, errors.Wrapf(err, "object %q", object.Name)
					}
				}
			}
		}
	}

	if len(mesh.indices) == 0 {
		return nil, errors.Mark(errors.New("wavefront file has no faces"), gpu.ErrConfiguration)
	}
	return mesh.document()
}

func validCorners(refs []int, corners, available int) bool {
	if len(refs) < corners {
		return false
	}
	for _, ref := range refs[:corners] {
		if ref < 0 || ref >= available {
			return false
		}
	}
	return true
}

func (m *objMesh) document() (*Document, error) {
	doc := &Document{}
	data := &bytes.Buffer{}
	primitive := Primitive{Attributes: make(map[Semantic]int), Topology: TopologyTriangles}

	appendStream := func(values any, count int, component ComponentType, kind AccessorType) (int, error) {
		offset := data.Len()
		if err := binary.Write(data, common.ByteOrder, values); err != nil {
			return 0, errors.Wrap(err, "pack wavefront stream")
		}
		doc.Views = append(doc.Views, BufferView{Offset: offset, Length: data.Len() - offset})
		doc.Accessors = append(doc.Accessors, Accessor{
			View:      len(doc.Views) - 1,
			Count:     count,
			Component: component,
			Type:      kind,
		})
		return len(doc.Accessors) - 1, nil
	}

	vertexCount := len(m.positions) / 3
	accessor, err := appendStream(m.positions, vertexCount, ComponentFloat, Vec3)
	if err != nil {
		return nil, err
	}
	primitive.Attributes[Position] = accessor

	if len(m.normals) > 0 {
		if accessor, err = appendStream(m.normals, vertexCount, ComponentFloat, Vec3); err != nil {
			return nil, err
		}
		primitive.Attributes[Normal] = accessor
	}
	if len(m.texCoords) > 0 {
		if accessor, err = appendStream(m.texCoords, vertexCount, ComponentFloat, Vec2); err != nil {
			return nil, err
		}
		primitive.Attributes[TexCoord0] = accessor
	}
	if primitive.Indices, err = appendStream(m.indices, len(m.indices), ComponentUnsignedInt, Scalar); err != nil {
		return nil, err
	}

	doc.Buffers = []*Buffer{{Name: "wavefront", Length: data.Len(), Data: data.Bytes()}}
	doc.Meshes = []Mesh{{Primitives: []Primitive{primitive}}}
	doc.Nodes = []Node{{Mesh: 0, Parent: -1, Local: mgl32.Ident4()}}
	doc.Scenes = []Scene{{Roots: []int{0}}}
	return doc, nil
}
