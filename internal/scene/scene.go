// Package scene provides the in-memory scene model produced by importing a
// model file, and the importers that build it.
//
// A Scene owns its node hierarchy, meshes and animations. It is created by
// (*Importer).Import and must be released exactly once with Release after
// the last read.
package scene

import (
	"go.uber.org/zap"

	"github.com/Faultbox/animchan/internal/logger"
	"github.com/Faultbox/animchan/pkg/math"
)

// Scene is the root of an imported model.
type Scene struct {
	Name       string
	Root       *Node
	Meshes     []*Mesh
	Animations []*Animation

	released bool
}

// Node is an element of the scene hierarchy.
type Node struct {
	Name      string
	Transform math.Mat4 // Relative to Parent
	Parent    *Node
	Children  []*Node
	Meshes    []int // Indices into Scene.Meshes
}

// AddChild appends child and sets its parent.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// PrimitiveType is a bit set describing the face kinds in a mesh.
type PrimitiveType uint8

const (
	PrimitivePoint PrimitiveType = 1 << iota
	PrimitiveLine
	PrimitiveTriangle
	PrimitivePolygon
)

// primitiveTypeOf classifies a face by its index count.
func primitiveTypeOf(f Face) PrimitiveType {
	switch len(f) {
	case 1:
		return PrimitivePoint
	case 2:
		return PrimitiveLine
	case 3:
		return PrimitiveTriangle
	default:
		return PrimitivePolygon
	}
}

// String lists the set bits, e.g. "line|triangle".
func (p PrimitiveType) String() string {
	names := []string{"point", "line", "triangle", "polygon"}
	s := ""
	for i, n := range names {
		if p&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n
	}
	if s == "" {
		return "none"
	}
	return s
}

// Face is a list of indices into a mesh's vertex arrays.
type Face []uint32

// Mesh holds vertex streams and faces. Optional streams are either empty or
// as long as Positions.
type Mesh struct {
	Name           string
	Positions      []math.Vec3
	Normals        []math.Vec3
	TexCoords      []math.Vec2
	Tangents       []math.Vec3
	Bitangents     []math.Vec3
	Faces          []Face
	PrimitiveTypes PrimitiveType
	Bones          []*Bone
}

// VertexWeight is the influence of a bone on one vertex.
type VertexWeight struct {
	Vertex uint32
	Weight float32
}

// Bone deforms the mesh vertices it weights. OffsetMatrix maps mesh space
// to bone space in the bind pose.
type Bone struct {
	Name         string
	OffsetMatrix math.Mat4
	Weights      []VertexWeight
}

// HasNormals reports whether the mesh carries a normal per vertex.
func (m *Mesh) HasNormals() bool {
	return len(m.Normals) > 0 && len(m.Normals) == len(m.Positions)
}

// HasTexCoords reports whether the mesh carries a UV per vertex.
func (m *Mesh) HasTexCoords() bool {
	return len(m.TexCoords) > 0 && len(m.TexCoords) == len(m.Positions)
}

// HasTangents reports whether tangent space has been computed.
func (m *Mesh) HasTangents() bool {
	return len(m.Tangents) > 0 && len(m.Tangents) == len(m.Positions)
}

// HasBones reports whether the mesh is skinned.
func (m *Mesh) HasBones() bool {
	return len(m.Bones) > 0
}

// NumWeights returns the total number of vertex weights over all bones.
func (m *Mesh) NumWeights() int {
	n := 0
	for _, b := range m.Bones {
		n += len(b.Weights)
	}
	return n
}

// updatePrimitiveTypes recomputes PrimitiveTypes from the faces.
func (m *Mesh) updatePrimitiveTypes() {
	m.PrimitiveTypes = 0
	for _, f := range m.Faces {
		m.PrimitiveTypes |= primitiveTypeOf(f)
	}
}

// VectorKey is a timed vector value (position or scale).
type VectorKey struct {
	Time  float64 // Ticks
	Value math.Vec3
}

// QuatKey is a timed rotation.
type QuatKey struct {
	Time  float64 // Ticks
	Value math.Quat
}

// Channel animates the transform of a single node, named by NodeName.
type Channel struct {
	NodeName     string
	PositionKeys []VectorKey
	RotationKeys []QuatKey
	ScalingKeys  []VectorKey
}

// Animation is a named set of channels.
type Animation struct {
	Name           string
	Duration       float64 // Ticks
	TicksPerSecond float64
	Channels       []*Channel
}

// NumAnimations returns the number of animations.
func (s *Scene) NumAnimations() int {
	return len(s.Animations)
}

// NumChannels returns the channel count of animation anim.
func (s *Scene) NumChannels(anim int) int {
	return len(s.Animations[anim].Channels)
}

// ChannelNodeName returns the node name driven by a channel.
func (s *Scene) ChannelNodeName(anim, channel int) string {
	return s.Animations[anim].Channels[channel].NodeName
}

// FindNode returns the first node with the given name in depth-first
// order, or nil.
func (s *Scene) FindNode(name string) *Node {
	var found *Node
	s.Walk(func(n *Node) bool {
		if n.Name == name {
			found = n
			return false
		}
		return true
	})
	return found
}

// Walk visits nodes depth-first, parents before children, until fn
// returns false.
func (s *Scene) Walk(fn func(*Node) bool) {
	if s.Root == nil {
		return
	}
	stack := []*Node{s.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			return
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// Release drops everything the scene owns. Reads after Release see an empty
// scene. Releasing twice is logged and otherwise ignored.
func (s *Scene) Release() {
	if s.released {
		logger.Warn("scene released twice", zap.String("scene", s.Name))
		return
	}
	s.released = true
	s.Root = nil
	s.Meshes = nil
	s.Animations = nil
	logger.Debug("scene released", zap.String("scene", s.Name))
}
