package scene

import (
	"testing"

	"github.com/Faultbox/animchan/internal/fixture"
	"github.com/Faultbox/animchan/pkg/formats"
)

var identity3x3 = [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}

// heroRSM is a three node chain Hip > Spine > Head. Hip and Spine are
// keyframed; Hip and Head carry geometry.
func heroRSM() *formats.RSM {
	tri := formats.RSMFace{VertexIDs: [3]uint16{0, 1, 2}, TexCoordIDs: [3]uint16{0, 1, 2}}
	verts := [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {2, 0, 0}}
	uvs := []formats.RSMTexCoord{{U: 0, V: 0}, {U: 1, V: 0}, {U: 0, V: 1}}

	return &formats.RSM{
		Version:    formats.RSMVersion{Major: 1, Minor: 4},
		AnimLength: 1500,
		Alpha:      1,
		Textures:   []string{"hero.bmp"},
		RootNode:   "Hip",
		Nodes: []formats.RSMNode{
			{
				Name:      "Hip",
				Matrix:    identity3x3,
				Scale:     [3]float32{1, 1, 1},
				Vertices:  verts,
				TexCoords: uvs,
				Faces:     []formats.RSMFace{tri},
				RotKeys: []formats.RSMRotKeyframe{
					{Frame: 0, Quaternion: [4]float32{0, 0, 0, 1}},
					{Frame: 1500, Quaternion: [4]float32{0, 1, 0, 0}},
				},
			},
			{
				Name:    "Spine",
				Parent:  "Hip",
				Matrix:  identity3x3,
				Scale:   [3]float32{1, 1, 1},
				PosKeys: []formats.RSMPosKeyframe{{Frame: 750, Position: [3]float32{0, 1, 0}}},
			},
			{
				Name:      "Head",
				Parent:    "Spine",
				Matrix:    identity3x3,
				Position:  [3]float32{0, 2, 0},
				Scale:     [3]float32{1, 1, 1},
				Vertices:  verts,
				TexCoords: uvs,
				Faces: []formats.RSMFace{
					tri,
					// Collinear corners.
					{VertexIDs: [3]uint16{0, 1, 3}},
					// Vertex 9 does not exist.
					{VertexIDs: [3]uint16{0, 1, 9}},
				},
			},
		},
	}
}

func marshalRSM(t *testing.T, rsm *formats.RSM) []byte {
	t.Helper()
	data, err := fixture.RSM(rsm)
	if err != nil {
		t.Fatalf("fixture.RSM failed: %v", err)
	}
	return data
}

func TestImportRSM(t *testing.T) {
	s, err := importRSM(marshalRSM(t, heroRSM()), "hero", true)
	if err != nil {
		t.Fatalf("importRSM failed: %v", err)
	}

	if s.Root == nil || s.Root.Name != "Hip" {
		t.Fatalf("root = %v, want Hip", s.Root)
	}
	head := s.FindNode("Head")
	if head == nil || head.Parent == nil || head.Parent.Name != "Spine" {
		t.Fatalf("Head not parented to Spine")
	}
	if got := head.Transform.Translation(); got.Y != 2 {
		t.Errorf("Head translation = %v, want Y=2", got)
	}

	if len(s.Meshes) != 2 {
		t.Fatalf("mesh count = %d, want 2", len(s.Meshes))
	}
	if len(head.Meshes) != 1 {
		t.Fatalf("Head mesh refs = %v", head.Meshes)
	}
	headMesh := s.Meshes[head.Meshes[0]]
	if len(headMesh.Faces) != 1 {
		t.Errorf("Head faces = %d, want 1 (bad faces skipped)", len(headMesh.Faces))
	}
	if !headMesh.HasNormals() || !headMesh.HasTexCoords() {
		t.Error("Head mesh missing normals or UVs")
	}
	if n := headMesh.Normals[0]; n.Z != 1 {
		t.Errorf("face normal = %v, want +Z", n)
	}

	if s.NumAnimations() != 1 {
		t.Fatalf("animation count = %d, want 1", s.NumAnimations())
	}
	anim := s.Animations[0]
	if anim.Name != "hero" {
		t.Errorf("animation name = %q, want %q", anim.Name, "hero")
	}
	if anim.Duration != 1500 || anim.TicksPerSecond != 1000 {
		t.Errorf("duration %v tps %v, want 1500 and 1000", anim.Duration, anim.TicksPerSecond)
	}
	if s.NumChannels(0) != 2 {
		t.Fatalf("channel count = %d, want 2", s.NumChannels(0))
	}
	if s.ChannelNodeName(0, 0) != "Hip" || s.ChannelNodeName(0, 1) != "Spine" {
		t.Errorf("channels = %q, %q", s.ChannelNodeName(0, 0), s.ChannelNodeName(0, 1))
	}

	hip := anim.Channels[0]
	if len(hip.RotationKeys) != 2 || hip.RotationKeys[1].Time != 1500 {
		t.Errorf("Hip rotation keys = %+v", hip.RotationKeys)
	}
	spine := anim.Channels[1]
	if len(spine.PositionKeys) != 1 || spine.PositionKeys[0].Value.Y != 1 {
		t.Errorf("Spine position keys = %+v", spine.PositionKeys)
	}
}

func TestImportRSMStatic(t *testing.T) {
	rsm := heroRSM()
	for i := range rsm.Nodes {
		rsm.Nodes[i].PosKeys = nil
		rsm.Nodes[i].RotKeys = nil
	}

	s, err := importRSM(marshalRSM(t, rsm), "statue", true)
	if err != nil {
		t.Fatalf("importRSM failed: %v", err)
	}
	if s.NumAnimations() != 0 {
		t.Errorf("animation count = %d, want 0", s.NumAnimations())
	}
	if len(s.Meshes) != 2 {
		t.Errorf("mesh count = %d, want 2", len(s.Meshes))
	}
}

func TestImportRSMSeveralTopNodes(t *testing.T) {
	rsm := heroRSM()
	rsm.Nodes = append(rsm.Nodes, formats.RSMNode{
		Name:   "Prop",
		Matrix: identity3x3,
		Scale:  [3]float32{1, 1, 1},
	})

	s, err := importRSM(marshalRSM(t, rsm), "hero", true)
	if err != nil {
		t.Fatalf("importRSM failed: %v", err)
	}
	if s.Root.Name != "hero" {
		t.Errorf("root = %q, want synthetic root %q", s.Root.Name, "hero")
	}
	if len(s.Root.Children) != 2 {
		t.Fatalf("root children = %d, want 2", len(s.Root.Children))
	}
	if s.Root.Children[0].Name != "Hip" || s.Root.Children[1].Name != "Prop" {
		t.Errorf("children = %q, %q", s.Root.Children[0].Name, s.Root.Children[1].Name)
	}
}

func TestImportRSMParentCycle(t *testing.T) {
	rsm := heroRSM()
	rsm.RootNode = "Hip"
	rsm.Nodes = append(rsm.Nodes,
		formats.RSMNode{Name: "A", Parent: "B", Matrix: identity3x3},
		formats.RSMNode{Name: "B", Parent: "A", Matrix: identity3x3},
	)

	s, err := importRSM(marshalRSM(t, rsm), "loop", true)
	if err != nil {
		t.Fatalf("importRSM failed: %v", err)
	}

	count := 0
	s.Walk(func(*Node) bool {
		count++
		return true
	})
	// Synthetic root + Hip, Spine, Head + A, B.
	if count != 6 {
		t.Errorf("visited %d nodes, want 6", count)
	}
}

func TestImportRSMInvalid(t *testing.T) {
	if _, err := importRSM([]byte("GRSM"), "bad", true); err == nil {
		t.Error("expected error for truncated RSM")
	}
	if _, err := importRSM([]byte("NOPE0000"), "bad", true); err == nil {
		t.Error("expected error for bad magic")
	}
}
