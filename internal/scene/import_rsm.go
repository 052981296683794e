package scene

import (
	"go.uber.org/zap"

	"github.com/Faultbox/animchan/internal/logger"
	"github.com/Faultbox/animchan/pkg/formats"
	"github.com/Faultbox/animchan/pkg/math"
)

// rsmTicksPerSecond is the RSM keyframe clock: frames are milliseconds.
const rsmTicksPerSecond = 1000

// importRSM converts an RSM model. Every node becomes a scene node, every
// node with faces a mesh, and all keyframed nodes form one animation named
// after the file.
func importRSM(data []byte, name string, decodeNames bool) (*Scene, error) {
	rsm, err := formats.ParseRSMWithOptions(data, formats.RSMOptions{DecodeNames: decodeNames})
	if err != nil {
		return nil, err
	}
	logger.Debug("parsed RSM",
		zap.Stringer("version", rsm.Version),
		zap.Int("nodes", len(rsm.Nodes)),
		zap.Int32("anim_length_ms", rsm.AnimLength),
		zap.Bool("animated", rsm.HasAnimation()))

	s := &Scene{Name: name}
	s.Root = buildRSMHierarchy(rsm, s)

	if rsm.HasAnimation() {
		anim := &Animation{
			Name:           name,
			Duration:       float64(rsm.AnimLength),
			TicksPerSecond: rsmTicksPerSecond,
		}
		for i := range rsm.Nodes {
			if n := &rsm.Nodes[i]; n.HasKeys() {
				anim.Channels = append(anim.Channels, rsmChannel(n))
			}
		}
		s.Animations = append(s.Animations, anim)
	}

	return s, nil
}

// buildRSMHierarchy links nodes by parent name. Nodes without a known parent
// hang off the root; when there is exactly one such node it is the root.
func buildRSMHierarchy(rsm *formats.RSM, s *Scene) *Node {
	visited := make(map[*formats.RSMNode]bool)

	var build func(n *formats.RSMNode) *Node
	build = func(n *formats.RSMNode) *Node {
		visited[n] = true
		node := &Node{Name: n.Name, Transform: rsmNodeTransform(n)}
		if m := rsmMesh(n); m != nil {
			node.Meshes = append(node.Meshes, len(s.Meshes))
			s.Meshes = append(s.Meshes, m)
		}
		for _, child := range rsm.GetChildNodes(n.Name) {
			if !visited[child] {
				node.AddChild(build(child))
			}
		}
		return node
	}

	var tops []*Node
	if root := rsm.GetRootNode(); root != nil {
		tops = append(tops, build(root))
	}
	for i := range rsm.Nodes {
		n := &rsm.Nodes[i]
		if visited[n] {
			continue
		}
		if n.Parent != "" && n.Parent != n.Name && rsm.GetNodeByName(n.Parent) != nil {
			// Reached through its parent unless the parent chain loops.
			continue
		}
		tops = append(tops, build(n))
	}
	// Nodes only reachable through a parent cycle.
	for i := range rsm.Nodes {
		if n := &rsm.Nodes[i]; !visited[n] {
			logger.Warn("RSM node in parent cycle", zap.String("node", n.Name))
			tops = append(tops, build(n))
		}
	}

	if len(tops) == 1 {
		return tops[0]
	}
	root := &Node{Name: s.Name, Transform: math.Identity()}
	for _, t := range tops {
		root.AddChild(t)
	}
	return root
}

// rsmNodeTransform is the transform children inherit:
// Position * Rotation * Scale. Keyframed rotation replaces the static
// axis-angle rotation, so it is left out for animated nodes.
func rsmNodeTransform(n *formats.RSMNode) math.Mat4 {
	m := math.Translate(n.Position[0], n.Position[1], n.Position[2])
	axis := math.Vec3FromArray(n.RotAxis)
	if len(n.RotKeys) == 0 && n.RotAngle != 0 && axis.Length() > 1e-6 {
		m = m.Mul(math.QuatFromAxisAngle(axis, n.RotAngle).ToMat4())
	}
	return m.Mul(math.Scale(n.Scale[0], n.Scale[1], n.Scale[2]))
}

// rsmMesh builds a mesh from the node's faces with the vertex-only
// Offset * Matrix transform baked in. Corners get their own vertex since
// positions and UVs are indexed separately. Faces referencing missing
// vertices and degenerate faces are skipped. Returns nil when nothing is
// left.
func rsmMesh(n *formats.RSMNode) *Mesh {
	if len(n.Faces) == 0 {
		return nil
	}

	vertexMatrix := math.Translate(n.Offset[0], n.Offset[1], n.Offset[2]).Mul(math.FromMat3x3(n.Matrix))
	m := &Mesh{Name: n.Name}
	hasUV := len(n.TexCoords) > 0

	for _, face := range n.Faces {
		var corners [3]math.Vec3
		valid := true
		for c, vid := range face.VertexIDs {
			if int(vid) >= len(n.Vertices) {
				valid = false
				break
			}
			corners[c] = vertexMatrix.TransformVec3(math.Vec3FromArray(n.Vertices[vid]))
		}
		if !valid {
			continue
		}

		normal := corners[1].Sub(corners[0]).Cross(corners[2].Sub(corners[0]))
		if normal.Length() < 1e-5 {
			continue
		}
		normal = normal.Normalize()

		base := uint32(len(m.Positions))
		for c := range corners {
			m.Positions = append(m.Positions, corners[c])
			m.Normals = append(m.Normals, normal)
			if hasUV {
				var uv math.Vec2
				if tid := int(face.TexCoordIDs[c]); tid < len(n.TexCoords) {
					uv = math.Vec2{X: n.TexCoords[tid].U, Y: n.TexCoords[tid].V}
				}
				m.TexCoords = append(m.TexCoords, uv)
			}
		}
		m.Faces = append(m.Faces, Face{base, base + 1, base + 2})
	}

	if len(m.Faces) == 0 {
		return nil
	}
	m.updatePrimitiveTypes()
	return m
}

// rsmChannel converts a node's keyframes. Frame numbers are milliseconds.
func rsmChannel(n *formats.RSMNode) *Channel {
	ch := &Channel{NodeName: n.Name}
	for _, k := range n.PosKeys {
		ch.PositionKeys = append(ch.PositionKeys, VectorKey{Time: float64(k.Frame), Value: math.Vec3FromArray(k.Position)})
	}
	for _, k := range n.RotKeys {
		ch.RotationKeys = append(ch.RotationKeys, QuatKey{Time: float64(k.Frame), Value: math.QuatFromArray(k.Quaternion)})
	}
	for _, k := range n.ScaleKeys {
		ch.ScalingKeys = append(ch.ScalingKeys, VectorKey{Time: float64(k.Frame), Value: math.Vec3FromArray(k.Scale)})
	}
	return ch
}
