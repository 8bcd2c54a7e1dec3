// Package scene holds the geometry side of a viewable scene: raw buffers,
// the views and accessors that interpret them, and a flat node hierarchy.
package scene

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

// Buffer is a block of raw bytes that is uploaded to the device as-is.
// Exactly one of Path and Data is set.
type Buffer struct {
	Name   string
	Length int
	// Path names a file whose first Length bytes are the block.
	Path string
	// Data holds the block when it is embedded in the document.
	Data []byte
}

// Embedded reports whether the bytes live in memory rather than on disk.
func (b *Buffer) Embedded() bool {
	return b.Path == ""
}

// ReadInto copies the block into dst, which must hold at least Length bytes.
func (b *Buffer) ReadInto(dst []byte) error {
	if len(dst) < b.Length {
		return errors.Newf("buffer %q needs %d bytes, destination holds %d", b.Name, b.Length, len(dst))
	}

	if b.Embedded() {
		if len(b.Data) < b.Length {
			return errors.Mark(errors.Newf("buffer %q holds %d of %d bytes", b.Name, len(b.Data), b.Length), gpu.ErrIO)
		}
		copy(dst, b.Data[:b.Length])
		return nil
	}

	f, err := os.Open(b.Path)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "open buffer %q", b.Name), gpu.ErrIO)
	}
	defer f.Close()

	if _, err := io.ReadFull(f, dst[:b.Length]); err != nil {
		return errors.Mark(errors.Wrapf(err, "read buffer %q from %s", b.Name, b.Path), gpu.ErrIO)
	}
	return nil
}

type BufferView struct {
	Buffer int
	Offset int
	Length int
	// Stride is 0 for tightly packed elements.
	Stride int
}

type ComponentType int

const (
	ComponentByte ComponentType = iota + 1
	ComponentUnsignedByte
	ComponentShort
	ComponentUnsignedShort
	ComponentUnsignedInt
	ComponentFloat
)

var componentSizes = map[ComponentType]int{
	ComponentByte:          1,
	ComponentUnsignedByte:  1,
	ComponentShort:         2,
	ComponentUnsignedShort: 2,
	ComponentUnsignedInt:   4,
	ComponentFloat:         4,
}

func (c ComponentType) Size() int {
	return componentSizes[c]
}

type AccessorType int

const (
	Scalar AccessorType = iota + 1
	Vec2
	Vec3
	Vec4
	Mat2
	Mat3
	Mat4
)

var accessorComponents = map[AccessorType]int{
	Scalar: 1,
	Vec2:   2,
	Vec3:   3,
	Vec4:   4,
	Mat2:   4,
	Mat3:   9,
	Mat4:   16,
}

func (a AccessorType) Components() int {
	return accessorComponents[a]
}

// Accessor describes Count typed elements inside a buffer view.
type Accessor struct {
	// View is -1 when the accessor has no backing view.
	View       int
	Offset     int
	Count      int
	Component  ComponentType
	Type       AccessorType
	Normalized bool
	Sparse     bool
}

// ElementSize is the packed size of one element in bytes.
func (a Accessor) ElementSize() int {
	return a.Component.Size() * a.Type.Components()
}

type Topology int

const (
	TopologyPoints Topology = iota
	TopologyLines
	TopologyLineLoop
	TopologyLineStrip
	TopologyTriangles
	TopologyTriangleStrip
	TopologyTriangleFan
)

type Semantic string

const (
	Position  Semantic = "POSITION"
	Normal    Semantic = "NORMAL"
	TexCoord0 Semantic = "TEXCOORD_0"
)

type Primitive struct {
	Attributes map[Semantic]int
	// Indices is -1 for non-indexed primitives.
	Indices  int
	Topology Topology
}

type Mesh struct {
	Name       string
	Primitives []Primitive
}

// Node is an entry in the flat node arena. Parent and Children are indices
// into Document.Nodes.
type Node struct {
	Name string
	// Mesh is -1 for nodes without geometry.
	Mesh     int
	Parent   int
	Children []int
	Local    mgl32.Mat4
}

type Scene struct {
	Name  string
	Roots []int
}

// Document is a loaded scene description. Every cross reference is an index
// into one of its slices.
type Document struct {
	Buffers      []*Buffer
	Views        []BufferView
	Accessors    []Accessor
	Meshes       []Mesh
	Nodes        []Node
	Scenes       []Scene
	DefaultScene int
}

// DrawItem is one primitive placed in the world.
type DrawItem struct {
	Node      int
	Mesh      int
	Primitive int
	World     mgl32.Mat4
}

// Walk visits every node reachable from the roots of scene, parents before
// children, passing each node's world transform. A node reached twice means
// the hierarchy has a cycle or a shared child and is reported as an error.
func (d *Document) Walk(scene int, fn func(node int, world mgl32.Mat4) error) error {
	if scene < 0 || scene >= len(d.Scenes) {
		return errors.Mark(errors.Newf("scene %d out of range (document has %d)", scene, len(d.Scenes)), gpu.ErrConfiguration)
	}

	type entry struct {
		node   int
		parent mgl32.Mat4
	}

	visited := make([]bool, len(d.Nodes))
	roots := d.Scenes[scene].Roots
	stack := make([]entry, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, entry{node: roots[i], parent: mgl32.Ident4()})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.node < 0 || top.node >= len(d.Nodes) {
			return errors.Mark(errors.Newf("node %d out of range", top.node), gpu.ErrConfiguration)
		}
		if visited[top.node] {
			return errors.Mark(errors.Newf("node %d is reachable twice", top.node), gpu.ErrConfiguration)
		}
		visited[top.node] = true

		node := &d.Nodes[top.node]
		world := top.parent.Mul4(node.Local)
		if err := fn(top.node, world); err != nil {
			return err
		}

		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, entry{node: node.Children[i], parent: world})
		}
	}
	return nil
}

// DrawItems flattens scene into the primitives to draw, in traversal order.
func (d *Document) DrawItems(scene int) ([]DrawItem, error) {
	var items []DrawItem
	err := d.Walk(scene, func(node int, world mgl32.Mat4) error {
		mesh := d.Nodes[node].Mesh
		if mesh < 0 {
			return nil
		}
		if mesh >= len(d.Meshes) {
			return errors.Mark(errors.Newf("node %d references mesh %d of %d", node, mesh, len(d.Meshes)), gpu.ErrConfiguration)
		}
		for primitive := range d.Meshes[mesh].Primitives {
			items = append(items, DrawItem{Node: node, Mesh: mesh, Primitive: primitive, World: world})
		}
		return nil
	})
	return items, err
}

// Primitive returns the primitive a draw item refers to.
func (d *Document) Primitive(item DrawItem) Primitive {
	return d.Meshes[item.Mesh].Primitives[item.Primitive]
}

// linkParents fills in Node.Parent from the children lists.
func (d *Document) linkParents() error {
	for i := range d.Nodes {
		d.Nodes[i].Parent = -1
	}
	for i, node := range d.Nodes {
		for _, child := range node.Children {
			if child < 0 || child >= len(d.Nodes) {
				return errors.Mark(errors.Newf("node %d has child %d out of range", i, child), gpu.ErrConfiguration)
			}
			if d.Nodes[child].Parent >= 0 {
				return errors.Mark(errors.Newf("node %d has two parents", child), gpu.ErrConfiguration)
			}
			d.Nodes[child].Parent = i
		}
	}
	return nil
}
