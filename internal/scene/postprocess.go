package scene

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/animchan/internal/logger"
	"github.com/Faultbox/animchan/pkg/math"
)

// ProcessFlags selects post-processing steps run after import. The bit
// values match the ones used by common asset importers.
type ProcessFlags uint32

const (
	// CalcTangentSpace computes per-vertex tangents and bitangents for
	// triangle meshes that have normals and texture coordinates.
	CalcTangentSpace ProcessFlags = 0x1
	// JoinIdenticalVertices merges vertices whose attributes are all equal.
	JoinIdenticalVertices ProcessFlags = 0x2
	// Triangulate splits polygons with more than three corners into triangles.
	Triangulate ProcessFlags = 0x8
	// SortByPType splits meshes that mix points, lines and triangles into
	// one mesh per primitive type.
	SortByPType ProcessFlags = 0x8000
)

// DefaultFlags is the fixed set used by the command line tool.
const DefaultFlags = Triangulate | JoinIdenticalVertices | SortByPType | CalcTangentSpace

// String returns the set flags joined by "|".
func (f ProcessFlags) String() string {
	var parts []string
	if f&Triangulate != 0 {
		parts = append(parts, "Triangulate")
	}
	if f&JoinIdenticalVertices != 0 {
		parts = append(parts, "JoinIdenticalVertices")
	}
	if f&SortByPType != 0 {
		parts = append(parts, "SortByPType")
	}
	if f&CalcTangentSpace != 0 {
		parts = append(parts, "CalcTangentSpace")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Process runs the selected steps in the order Triangulate,
// JoinIdenticalVertices, SortByPType, CalcTangentSpace.
func Process(s *Scene, flags ProcessFlags) {
	if flags&Triangulate != 0 {
		for _, m := range s.Meshes {
			triangulate(m)
		}
	}
	if flags&JoinIdenticalVertices != 0 {
		for _, m := range s.Meshes {
			before := len(m.Positions)
			joinIdenticalVertices(m)
			logger.Debug("joined vertices",
				zap.String("mesh", m.Name),
				zap.Int("before", before),
				zap.Int("after", len(m.Positions)))
		}
	}
	if flags&SortByPType != 0 {
		sortByPType(s)
	}
	if flags&CalcTangentSpace != 0 {
		for _, m := range s.Meshes {
			if !calcTangentSpace(m) {
				logger.Debug("tangent space skipped", zap.String("mesh", m.Name))
			}
		}
	}
}

// triangulate fans every face with more than three corners.
func triangulate(m *Mesh) {
	if m.PrimitiveTypes&PrimitivePolygon == 0 {
		return
	}
	faces := make([]Face, 0, len(m.Faces))
	for _, f := range m.Faces {
		if len(f) <= 3 {
			faces = append(faces, f)
			continue
		}
		for i := 1; i+1 < len(f); i++ {
			faces = append(faces, Face{f[0], f[i], f[i+1]})
		}
	}
	m.Faces = faces
	m.updatePrimitiveTypes()
}

// vertexKey holds every attribute of a vertex so equal keys are
// interchangeable vertices.
type vertexKey struct {
	Position  math.Vec3
	Normal    math.Vec3
	TexCoord  math.Vec2
	Tangent   math.Vec3
	Bitangent math.Vec3
	Influence string
}

// joinIdenticalVertices deduplicates vertices and remaps faces and bone
// weights. Vertices not referenced by any face are dropped.
func joinIdenticalVertices(m *Mesh) {
	hasN, hasUV, hasT := m.HasNormals(), m.HasTexCoords(), m.HasTangents()
	var influences []string
	if m.HasBones() {
		influences = vertexInfluences(m)
	}
	key := func(i uint32) vertexKey {
		k := vertexKey{Position: m.Positions[i]}
		if hasN {
			k.Normal = m.Normals[i]
		}
		if hasUV {
			k.TexCoord = m.TexCoords[i]
		}
		if hasT {
			k.Tangent = m.Tangents[i]
			k.Bitangent = m.Bitangents[i]
		}
		if influences != nil {
			k.Influence = influences[i]
		}
		return k
	}

	index := make(map[vertexKey]uint32, len(m.Positions))
	remap := make(map[uint32]uint32, len(m.Positions))
	out := &Mesh{}
	for fi, f := range m.Faces {
		nf := make(Face, len(f))
		for ci, vi := range f {
			k := key(vi)
			ni, ok := index[k]
			if !ok {
				ni = uint32(len(out.Positions))
				index[k] = ni
				out.Positions = append(out.Positions, k.Position)
				if hasN {
					out.Normals = append(out.Normals, k.Normal)
				}
				if hasUV {
					out.TexCoords = append(out.TexCoords, k.TexCoord)
				}
				if hasT {
					out.Tangents = append(out.Tangents, k.Tangent)
					out.Bitangents = append(out.Bitangents, k.Bitangent)
				}
			}
			nf[ci] = ni
			remap[vi] = ni
		}
		m.Faces[fi] = nf
	}

	m.Positions = out.Positions
	m.Normals = out.Normals
	m.TexCoords = out.TexCoords
	m.Tangents = out.Tangents
	m.Bitangents = out.Bitangents
	if m.HasBones() {
		m.Bones = remapBones(m.Bones, remap)
	}
}

// vertexInfluences returns, per vertex, the bones and weights acting on it
// as a comparable string. Vertices only join when their influences match.
func vertexInfluences(m *Mesh) []string {
	sig := make([][]byte, len(m.Positions))
	for bi, b := range m.Bones {
		for _, w := range b.Weights {
			if int(w.Vertex) < len(sig) {
				sig[w.Vertex] = fmt.Appendf(sig[w.Vertex], "%d:%g;", bi, w.Weight)
			}
		}
	}
	out := make([]string, len(sig))
	for i, b := range sig {
		out[i] = string(b)
	}
	return out
}

// remapBones moves weights to the vertex indices in remap. Weights on
// vertices remap drops, repeats on the same new vertex and bones left
// without weights are removed.
func remapBones(bones []*Bone, remap map[uint32]uint32) []*Bone {
	var out []*Bone
	for _, b := range bones {
		nb := &Bone{Name: b.Name, OffsetMatrix: b.OffsetMatrix}
		seen := make(map[uint32]bool)
		for _, w := range b.Weights {
			ni, ok := remap[w.Vertex]
			if !ok || seen[ni] {
				continue
			}
			seen[ni] = true
			nb.Weights = append(nb.Weights, VertexWeight{Vertex: ni, Weight: w.Weight})
		}
		if len(nb.Weights) > 0 {
			out = append(out, nb)
		}
	}
	return out
}

// sortByPType splits mixed meshes and rewrites node mesh references.
func sortByPType(s *Scene) {
	remap := make([][]int, len(s.Meshes))
	var meshes []*Mesh
	split := false

	for i, m := range s.Meshes {
		parts := splitByPrimitive(m)
		if len(parts) > 1 {
			split = true
		}
		for _, p := range parts {
			remap[i] = append(remap[i], len(meshes))
			meshes = append(meshes, p)
		}
	}
	if !split {
		return
	}

	s.Meshes = meshes
	s.Walk(func(n *Node) bool {
		var refs []int
		for _, old := range n.Meshes {
			if old >= 0 && old < len(remap) {
				refs = append(refs, remap[old]...)
			}
		}
		n.Meshes = refs
		return true
	})
}

// splitByPrimitive returns m itself when it holds a single primitive type,
// otherwise one compacted mesh per type present.
func splitByPrimitive(m *Mesh) []*Mesh {
	types := []PrimitiveType{PrimitivePoint, PrimitiveLine, PrimitiveTriangle, PrimitivePolygon}

	count := 0
	for _, t := range types {
		if m.PrimitiveTypes&t != 0 {
			count++
		}
	}
	if count <= 1 {
		return []*Mesh{m}
	}

	var out []*Mesh
	for _, t := range types {
		if m.PrimitiveTypes&t == 0 {
			continue
		}
		part := &Mesh{Name: m.Name, PrimitiveTypes: t}
		remap := make(map[uint32]uint32)
		for _, f := range m.Faces {
			if primitiveTypeOf(f) != t {
				continue
			}
			nf := make(Face, len(f))
			for ci, vi := range f {
				ni, ok := remap[vi]
				if !ok {
					ni = uint32(len(part.Positions))
					remap[vi] = ni
					copyVertex(part, m, vi)
				}
				nf[ci] = ni
			}
			part.Faces = append(part.Faces, nf)
		}
		if m.HasBones() {
			part.Bones = remapBones(m.Bones, remap)
		}
		out = append(out, part)
	}
	return out
}

// copyVertex appends vertex i of src to dst, stream by stream.
func copyVertex(dst, src *Mesh, i uint32) {
	dst.Positions = append(dst.Positions, src.Positions[i])
	if src.HasNormals() {
		dst.Normals = append(dst.Normals, src.Normals[i])
	}
	if src.HasTexCoords() {
		dst.TexCoords = append(dst.TexCoords, src.TexCoords[i])
	}
	if src.HasTangents() {
		dst.Tangents = append(dst.Tangents, src.Tangents[i])
		dst.Bitangents = append(dst.Bitangents, src.Bitangents[i])
	}
}

// calcTangentSpace fills Tangents and Bitangents. It returns false when the
// mesh lacks normals, UVs or triangles.
func calcTangentSpace(m *Mesh) bool {
	if !m.HasNormals() || !m.HasTexCoords() || m.PrimitiveTypes&PrimitiveTriangle == 0 {
		return false
	}

	tan := make([]math.Vec3, len(m.Positions))
	bit := make([]math.Vec3, len(m.Positions))

	for _, f := range m.Faces {
		if len(f) != 3 {
			continue
		}
		p0, p1, p2 := m.Positions[f[0]], m.Positions[f[1]], m.Positions[f[2]]
		uv0, uv1, uv2 := m.TexCoords[f[0]], m.TexCoords[f[1]], m.TexCoords[f[2]]

		e1, e2 := p1.Sub(p0), p2.Sub(p0)
		d1, d2 := uv1.Sub(uv0), uv2.Sub(uv0)

		det := d1.X*d2.Y - d2.X*d1.Y
		if det > -1e-8 && det < 1e-8 {
			continue
		}
		r := 1 / det
		t := e1.Scale(d2.Y).Sub(e2.Scale(d1.Y)).Scale(r)
		b := e2.Scale(d1.X).Sub(e1.Scale(d2.X)).Scale(r)

		for _, vi := range f {
			tan[vi] = tan[vi].Add(t)
			bit[vi] = bit[vi].Add(b)
		}
	}

	for i := range m.Positions {
		n := m.Normals[i]
		// Gram-Schmidt against the normal, then rebuild the bitangent with
		// the handedness of the accumulated one.
		t := tan[i].Sub(n.Scale(n.Dot(tan[i]))).Normalize()
		b := n.Cross(t)
		if b.Dot(bit[i]) < 0 {
			b = b.Scale(-1)
		}
		tan[i] = t
		bit[i] = b
	}

	m.Tangents = tan
	m.Bitangents = bit
	return true
}
