package scene

import (
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

type gltfIndex interface {
	~int | ~uint32
}

func index[T gltfIndex](value T) int {
	return int(value)
}

func optionalIndex[T gltfIndex](value *T) int {
	if value == nil {
		return -1
	}
	return int(*value)
}

func indices[T gltfIndex](values []T) []int {
	out := make([]int, len(values))
	for i, value := range values {
		out[i] = int(value)
	}
	return out
}

var gltfComponents = map[gltf.ComponentType]ComponentType{
	gltf.ComponentByte:   ComponentByte,
	gltf.ComponentUbyte:  ComponentUnsignedByte,
	gltf.ComponentShort:  ComponentShort,
	gltf.ComponentUshort: ComponentUnsignedShort,
	gltf.ComponentUint:   ComponentUnsignedInt,
	gltf.ComponentFloat:  ComponentFloat,
}

var gltfTypes = map[gltf.AccessorType]AccessorType{
	gltf.AccessorScalar: Scalar,
	gltf.AccessorVec2:   Vec2,
	gltf.AccessorVec3:   Vec3,
	gltf.AccessorVec4:   Vec4,
	gltf.AccessorMat2:   Mat2,
	gltf.AccessorMat3:   Mat3,
	gltf.AccessorMat4:   Mat4,
}

var gltfModes = map[gltf.PrimitiveMode]Topology{
	gltf.PrimitivePoints:        TopologyPoints,
	gltf.PrimitiveLines:         TopologyLines,
	gltf.PrimitiveLineLoop:      TopologyLineLoop,
	gltf.PrimitiveLineStrip:     TopologyLineStrip,
	gltf.PrimitiveTriangles:     TopologyTriangles,
	gltf.PrimitiveTriangleStrip: TopologyTriangleStrip,
	gltf.PrimitiveTriangleFan:   TopologyTriangleFan,
}

// OpenGLTF reads a .gltf or .glb file along with any buffers it references.
func OpenGLTF(path string) (*Document, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open glTF %s", path), gpu.ErrIO)
	}
	return FromGLTF(doc, filepath.Dir(path))
}

// FromGLTF flattens a glTF document. Buffers stored in files next to the
// document stay on disk and are read at upload time. GLB chunks and data
// URIs become embedded buffers.
func FromGLTF(doc *gltf.Document, baseDir string) (*Document, error) {
	out := &Document{DefaultScene: optionalIndex(doc.Scene)}
	if out.DefaultScene < 0 {
		out.DefaultScene = 0
	}

	for i, buffer := range doc.Buffers {
		converted := &Buffer{Name: buffer.Name, Length: index(buffer.ByteLength)}
		if converted.Name == "" {
			converted.Name = "buffer " + strconv.Itoa(i)
		}

		if buffer.URI != "" && !buffer.IsEmbeddedResource() {
			uri, err := url.PathUnescape(buffer.URI)
			if err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "buffer %d uri", i), gpu.ErrConfiguration)
			}
			converted.Path = filepath.Join(baseDir, filepath.FromSlash(uri))
		} else {
			converted.Data = buffer.Data
		}
		out.Buffers = append(out.Buffers, converted)
	}

	for i, view := range doc.BufferViews {
		converted := BufferView{
			Buffer: index(view.Buffer),
			Offset: index(view.ByteOffset),
			Length: index(view.ByteLength),
			Stride: index(view.ByteStride),
		}
		if converted.Buffer >= len(out.Buffers) {
			return nil, errors.Mark(errors.Newf("buffer view %d references buffer %d of %d", i, converted.Buffer, len(out.Buffers)), gpu.ErrConfiguration)
		}
		if converted.Offset+converted.Length > out.Buffers[converted.Buffer].Length {
			return nil, errors.Mark(errors.Newf("buffer view %d runs past the end of buffer %d", i, converted.Buffer), gpu.ErrConfiguration)
		}
		out.Views = append(out.Views, converted)
	}

	for i, accessor := range doc.Accessors {
		component, ok := gltfComponents[accessor.ComponentType]
		if !ok {
			return nil, errors.Mark(errors.Newf("accessor %d has unknown component type %v", i, accessor.ComponentType), gpu.ErrConfiguration)
		}
		kind, ok := gltfTypes[accessor.Type]
		if !ok {
			return nil, errors.Mark(errors.Newf("accessor %d has unknown type %v", i, accessor.Type), gpu.ErrConfiguration)
		}
		out.Accessors = append(out.Accessors, Accessor{
			View:       optionalIndex(accessor.BufferView),
			Offset:     index(accessor.ByteOffset),
			Count:      index(accessor.Count),
			Component:  component,
			Type:       kind,
			Normalized: accessor.Normalized,
			Sparse:     accessor.Sparse != nil,
		})
	}

	for i, mesh := range doc.Meshes {
		converted := Mesh{Name: mesh.Name}
		for j, primitive := range mesh.Primitives {
			mode, ok := gltfModes[primitive.Mode]
			if !ok {
				return nil, errors.Mark(errors.Newf("mesh %d primitive %d has unknown mode %v", i, j, primitive.Mode), gpu.ErrConfiguration)
			}
			attributes := make(map[Semantic]int, len(primitive.Attributes))
			for name, accessor := range primitive.Attributes {
				attributes[Semantic(name)] = index(accessor)
			}
			converted.Primitives = append(converted.Primitives, Primitive{
				Attributes: attributes,
				Indices:    optionalIndex(primitive.Indices),
				Topology:   mode,
			})
		}
		out.Meshes = append(out.Meshes, converted)
	}

	for _, node := range doc.Nodes {
		out.Nodes = append(out.Nodes, Node{
			Name:     node.Name,
			Mesh:     optionalIndex(node.Mesh),
			Children: indices(node.Children),
			Local:    localTransform(node),
		})
	}
	if err := out.linkParents(); err != nil {
		return nil, err
	}

	for _, scene := range doc.Scenes {
		out.Scenes = append(out.Scenes, Scene{Name: scene.Name, Roots: indices(scene.Nodes)})
	}
	if len(out.Scenes) == 0 {
		// Documents without scenes draw every root node.
		var roots []int
		for i, node := range out.Nodes {
			if node.Parent < 0 {
				roots = append(roots, i)
			}
		}
		out.Scenes = append(out.Scenes, Scene{Roots: roots})
	}

	return out, nil
}

var zeroMatrix [16]float32

// localTransform prefers an explicit matrix and otherwise composes
// translation, rotation and scale.
func localTransform(node *gltf.Node) mgl32.Mat4 {
	matrix := mgl32.Mat4(node.Matrix)
	if node.Matrix != zeroMatrix && matrix != mgl32.Ident4() {
		return matrix
	}

	scale := mgl32.Vec3(node.Scale)
	if scale == (mgl32.Vec3{}) {
		scale = mgl32.Vec3{1, 1, 1}
	}
	rotation := mgl32.Quat{W: node.Rotation[3], V: mgl32.Vec3{node.Rotation[0], node.Rotation[1], node.Rotation[2]}}
	if rotation.Len() == 0 {
		rotation = mgl32.QuatIdent()
	}
	translation := node.Translation

	return mgl32.Translate3D(translation[0], translation[1], translation[2]).
		Mul4(rotation.Normalize().Mat4()).
		Mul4(mgl32.Scale3D(scale[0], scale[1], scale[2]))
}
