package scene

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

// Shader input locations for the attributes the viewer understands.
const (
	PositionLocation = 0
	NormalLocation   = 1
	TexCoordLocation = 2
)

var semanticLocations = []struct {
	semantic Semantic
	location uint32
	required bool
}{
	{Position, PositionLocation, true},
	{Normal, NormalLocation, false},
	{TexCoord0, TexCoordLocation, false},
}

// VertexStream says where the bytes for one vertex binding start.
type VertexStream struct {
	Binding int
	Buffer  int
	Offset  int
}

// IndexStream says where the index data of a primitive starts.
type IndexStream struct {
	Buffer int
	Offset int
	Count  int
	Type   core1_0.IndexType
}

// Layout is everything needed to build a pipeline for a primitive and to
// bind its data when drawing.
type Layout struct {
	Bindings   []core1_0.VertexInputBindingDescription
	Attributes []core1_0.VertexInputAttributeDescription
	Streams    []VertexStream
	Topology   core1_0.PrimitiveTopology
	// VertexCount is the smallest element count among the attributes.
	VertexCount int
	// Index is nil for non-indexed primitives.
	Index *IndexStream
}

// VertexLayout derives the vertex input state of a primitive. Every present
// attribute gets its own binding, numbered in location order. Attributes
// that are absent contribute nothing.
func VertexLayout(doc *Document, primitive Primitive) (*Layout, error) {
	topology, err := TopologyFor(primitive.Topology)
	if err != nil {
		return nil, err
	}

	layout := &Layout{Topology: topology}
	for _, entry := range semanticLocations {
		accessorIndex, ok := primitive.Attributes[entry.semantic]
		if !ok {
			if entry.required {
				return nil, errors.Mark(errors.Newf("primitive has no %s attribute", entry.semantic), gpu.ErrConfiguration)
			}
			continue
		}

		accessor, view, err := doc.viewOf(accessorIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "%s attribute", entry.semantic)
		}
		format, err := AttributeFormat(accessor.Component, accessor.Type, accessor.Normalized)
		if err != nil {
			return nil, errors.Wrapf(err, "%s attribute", entry.semantic)
		}

		stride := view.Stride
		if stride == 0 {
			stride = accessor.ElementSize()
		}

		binding := len(layout.Bindings)
		layout.Bindings = append(layout.Bindings, core1_0.VertexInputBindingDescription{
			Binding:   binding,
			Stride:    stride,
			InputRate: core1_0.VertexInputRateVertex,
		})
		layout.Attributes = append(layout.Attributes, core1_0.VertexInputAttributeDescription{
			Location: entry.location,
			Binding:  binding,
			Format:   format,
		})
		layout.Streams = append(layout.Streams, VertexStream{
			Binding: binding,
			Buffer:  view.Buffer,
			Offset:  view.Offset + accessor.Offset,
		})

		if binding == 0 || accessor.Count < layout.VertexCount {
			layout.VertexCount = accessor.Count
		}
	}

	if primitive.Indices >= 0 {
		accessor, view, err := doc.viewOf(primitive.Indices)
		if err != nil {
			return nil, errors.Wrap(err, "indices")
		}
		indexType, err := IndexType(accessor.Component)
		if err != nil {
			return nil, err
		}
		layout.Index = &IndexStream{
			Buffer: view.Buffer,
			Offset: view.Offset + accessor.Offset,
			Count:  accessor.Count,
			Type:   indexType,
		}
	}

	return layout, nil
}

func (d *Document) viewOf(accessorIndex int) (Accessor, BufferView, error) {
	if accessorIndex < 0 || accessorIndex >= len(d.Accessors) {
		return Accessor{}, BufferView{}, errors.Mark(errors.Newf("accessor %d out of range", accessorIndex), gpu.ErrConfiguration)
	}
	accessor := d.Accessors[accessorIndex]
	if accessor.Sparse || accessor.View < 0 {
		return Accessor{}, BufferView{}, errors.Mark(errors.Newf("accessor %d is sparse, which is unsupported", accessorIndex), gpu.ErrConfiguration)
	}
	if accessor.View >= len(d.Views) {
		return Accessor{}, BufferView{}, errors.Mark(errors.Newf("accessor %d references view %d of %d", accessorIndex, accessor.View, len(d.Views)), gpu.ErrConfiguration)
	}
	return accessor, d.Views[accessor.View], nil
}

type formatKey struct {
	component ComponentType
	kind      AccessorType
}

// The shaders read every attribute as float, so integer components use the
// scaled formats, which convert to float without normalizing. 32-bit
// integers have no scaled format and are rejected.
var attributeFormats = map[formatKey]core1_0.Format{
	{ComponentByte, Scalar}:          core1_0.FormatR8SignedScaled,
	{ComponentUnsignedByte, Scalar}:  core1_0.FormatR8UnsignedScaled,
	{ComponentShort, Scalar}:         core1_0.FormatR16SignedScaled,
	{ComponentUnsignedShort, Scalar}: core1_0.FormatR16UnsignedScaled,
	{ComponentFloat, Scalar}:         core1_0.FormatR32SignedFloat,

	{ComponentByte, Vec2}:          core1_0.FormatR8G8SignedScaled,
	{ComponentUnsignedByte, Vec2}:  core1_0.FormatR8G8UnsignedScaled,
	{ComponentShort, Vec2}:         core1_0.FormatR16G16SignedScaled,
	{ComponentUnsignedShort, Vec2}: core1_0.FormatR16G16UnsignedScaled,
	{ComponentFloat, Vec2}:         core1_0.FormatR32G32SignedFloat,

	{ComponentByte, Vec3}:          core1_0.FormatR8G8B8SignedScaled,
	{ComponentUnsignedByte, Vec3}:  core1_0.FormatR8G8B8UnsignedScaled,
	{ComponentShort, Vec3}:         core1_0.FormatR16G16B16SignedScaled,
	{ComponentUnsignedShort, Vec3}: core1_0.FormatR16G16B16UnsignedScaled,
	{ComponentFloat, Vec3}:         core1_0.FormatR32G32B32SignedFloat,

	{ComponentByte, Vec4}:          core1_0.FormatR8G8B8A8SignedScaled,
	{ComponentUnsignedByte, Vec4}:  core1_0.FormatR8G8B8A8UnsignedScaled,
	{ComponentShort, Vec4}:         core1_0.FormatR16G16B16A16SignedScaled,
	{ComponentUnsignedShort, Vec4}: core1_0.FormatR16G16B16A16UnsignedScaled,
	{ComponentFloat, Vec4}:         core1_0.FormatR32G32B32A32SignedFloat,
}

// Normalized integers read as floats in [0,1] or [-1,1].
var normalizedFormats = map[formatKey]core1_0.Format{
	{ComponentByte, Scalar}:          core1_0.FormatR8SignedNormalized,
	{ComponentUnsignedByte, Scalar}:  core1_0.FormatR8UnsignedNormalized,
	{ComponentShort, Scalar}:         core1_0.FormatR16SignedNormalized,
	{ComponentUnsignedShort, Scalar}: core1_0.FormatR16UnsignedNormalized,

	{ComponentByte, Vec2}:          core1_0.FormatR8G8SignedNormalized,
	{ComponentUnsignedByte, Vec2}:  core1_0.FormatR8G8UnsignedNormalized,
	{ComponentShort, Vec2}:         core1_0.FormatR16G16SignedNormalized,
	{ComponentUnsignedShort, Vec2}: core1_0.FormatR16G16UnsignedNormalized,

	{ComponentByte, Vec3}:          core1_0.FormatR8G8B8SignedNormalized,
	{ComponentUnsignedByte, Vec3}:  core1_0.FormatR8G8B8UnsignedNormalized,
	{ComponentShort, Vec3}:         core1_0.FormatR16G16B16SignedNormalized,
	{ComponentUnsignedShort, Vec3}: core1_0.FormatR16G16B16UnsignedNormalized,

	{ComponentByte, Vec4}:          core1_0.FormatR8G8B8A8SignedNormalized,
	{ComponentUnsignedByte, Vec4}:  core1_0.FormatR8G8B8A8UnsignedNormalized,
	{ComponentShort, Vec4}:         core1_0.FormatR16G16B16A16SignedNormalized,
	{ComponentUnsignedShort, Vec4}: core1_0.FormatR16G16B16A16UnsignedNormalized,
}

// AttributeFormat maps an accessor's component and element type to a vertex
// attribute format. Matrix types cannot be vertex attributes here, and only
// 8 and 16 bit integers can be normalized.
func AttributeFormat(component ComponentType, kind AccessorType, normalized bool) (core1_0.Format, error) {
	formats := attributeFormats
	if normalized && component != ComponentFloat {
		formats = normalizedFormats
	}
	format, ok := formats[formatKey{component, kind}]
	if !ok {
		return 0, errors.Mark(errors.Newf("accessor of component %d and type %d has no attribute format", component, kind), gpu.ErrConfiguration)
	}
	return format, nil
}

var topologies = map[Topology]core1_0.PrimitiveTopology{
	TopologyPoints:        core1_0.PrimitiveTopologyPointList,
	TopologyLines:         core1_0.PrimitiveTopologyLineList,
	TopologyLineStrip:     core1_0.PrimitiveTopologyLineStrip,
	TopologyTriangles:     core1_0.PrimitiveTopologyTriangleList,
	TopologyTriangleStrip: core1_0.PrimitiveTopologyTriangleStrip,
	TopologyTriangleFan:   core1_0.PrimitiveTopologyTriangleFan,
}

// TopologyFor maps a primitive mode to a pipeline topology. Line loops have
// no pipeline equivalent.
func TopologyFor(mode Topology) (core1_0.PrimitiveTopology, error) {
	topology, ok := topologies[mode]
	if !ok {
		return 0, errors.Mark(errors.Newf("primitive topology %d is unsupported", mode), gpu.ErrConfiguration)
	}
	return topology, nil
}

// IndexType maps an index component type. 8-bit indices need an extension
// and are rejected.
func IndexType(component ComponentType) (core1_0.IndexType, error) {
	switch component {
	case ComponentUnsignedShort:
		return core1_0.IndexTypeUInt16, nil
	case ComponentUnsignedInt:
		return core1_0.IndexTypeUInt32, nil
	}
	return 0, errors.Mark(errors.Newf("index component type %d is unsupported", component), gpu.ErrConfiguration)
}

// Semantics lists the attribute names of a primitive in a stable order.
func (p Primitive) Semantics() []Semantic {
	semantics := make([]Semantic, 0, len(p.Attributes))
	for semantic := range p.Attributes {
		semantics = append(semantics, semantic)
	}
	sort.Slice(semantics, func(i, j int) bool { return semantics[i] < semantics[j] })
	return semantics
}
