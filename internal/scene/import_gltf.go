package scene

import (
	"bytes"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/animchan/internal/logger"
	"github.com/Faultbox/animchan/pkg/math"
)

// gltfTicksPerSecond expresses glTF keyframe times (seconds) in milliseconds.
const gltfTicksPerSecond = 1000

// importGLTFFile opens a .gltf or .glb file so relative buffer URIs resolve
// next to it.
func importGLTFFile(path, name string) (*Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, err
	}
	return convertGLTF(doc, name)
}

// importGLTFBytes decodes a document read from an archive. Only embedded
// buffers (GLB or data URIs) can be resolved.
func importGLTFBytes(data []byte, name string) (*Scene, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, err
	}
	return convertGLTF(doc, name)
}

type gltfConverter struct {
	doc   *gltf.Document
	scene *Scene
	// meshes maps a glTF mesh, as bound to a skin, to the scene meshes built
	// from its primitives.
	meshes map[gltfMeshKey][]int
	skins  map[uint32]*gltfSkin
	names  []string
}

type gltfMeshKey struct {
	mesh    uint32
	skin    uint32
	skinned bool
}

// gltfSkin is a skin resolved to joint names and inverse bind matrices.
type gltfSkin struct {
	joints  []string
	offsets []math.Mat4
}

// convertGLTF builds a Scene from a decoded document. Accessor reads on
// inconsistent buffers can panic inside the decoder; those are reported as
// ErrInvalidScene.
func convertGLTF(doc *gltf.Document, name string) (s *Scene, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: %v", ErrInvalidScene, r)
		}
	}()

	c := &gltfConverter{
		doc:    doc,
		scene:  &Scene{Name: name},
		meshes: make(map[gltfMeshKey][]int),
		skins:  make(map[uint32]*gltfSkin),
		names:  make([]string, len(doc.Nodes)),
	}
	for i, n := range doc.Nodes {
		c.names[i] = n.Name
		if c.names[i] == "" {
			c.names[i] = fmt.Sprintf("node_%d", i)
		}
	}

	if err := c.convertHierarchy(); err != nil {
		return nil, err
	}
	for i, a := range doc.Animations {
		anim, err := c.convertAnimation(i, a)
		if err != nil {
			return nil, err
		}
		c.scene.Animations = append(c.scene.Animations, anim)
	}

	logger.Debug("converted glTF",
		zap.String("scene", name),
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("meshes", len(c.scene.Meshes)),
		zap.Int("skins", len(c.skins)),
		zap.Int("animations", len(c.scene.Animations)))
	return c.scene, nil
}

// convertHierarchy builds nodes from the default scene, or from the first
// scene when none is marked default. A single top-level node becomes the
// root; otherwise a synthetic root named after the file holds them.
func (c *gltfConverter) convertHierarchy() error {
	var roots []uint32
	switch {
	case c.doc.Scene != nil:
		if int(*c.doc.Scene) >= len(c.doc.Scenes) {
			return fmt.Errorf("%w: scene %d out of range", ErrInvalidScene, *c.doc.Scene)
		}
		roots = c.doc.Scenes[*c.doc.Scene].Nodes
	case len(c.doc.Scenes) > 0:
		roots = c.doc.Scenes[0].Nodes
	default:
		roots = c.parentlessNodes()
	}

	visited := make([]bool, len(c.doc.Nodes))
	var tops []*Node
	for _, idx := range roots {
		n, err := c.convertNode(idx, visited)
		if err != nil {
			return err
		}
		tops = append(tops, n)
	}

	if len(tops) == 1 {
		c.scene.Root = tops[0]
		return nil
	}
	c.scene.Root = &Node{Name: c.scene.Name, Transform: math.Identity()}
	for _, t := range tops {
		c.scene.Root.AddChild(t)
	}
	return nil
}

// parentlessNodes returns nodes no other node lists as a child.
func (c *gltfConverter) parentlessNodes() []uint32 {
	isChild := make([]bool, len(c.doc.Nodes))
	for _, n := range c.doc.Nodes {
		for _, ch := range n.Children {
			if int(ch) < len(isChild) {
				isChild[ch] = true
			}
		}
	}
	var roots []uint32
	for i := range c.doc.Nodes {
		if !isChild[i] {
			roots = append(roots, uint32(i))
		}
	}
	return roots
}

func (c *gltfConverter) convertNode(idx uint32, visited []bool) (*Node, error) {
	if int(idx) >= len(c.doc.Nodes) {
		return nil, fmt.Errorf("%w: node %d out of range", ErrInvalidScene, idx)
	}
	if visited[idx] {
		return nil, fmt.Errorf("%w: node %d reached twice", ErrInvalidScene, idx)
	}
	visited[idx] = true

	src := c.doc.Nodes[idx]
	node := &Node{Name: c.names[idx], Transform: gltfNodeTransform(src)}

	if src.Mesh != nil {
		refs, err := c.convertMesh(*src.Mesh, src.Skin)
		if err != nil {
			return nil, err
		}
		node.Meshes = append(node.Meshes, refs...)
	}

	for _, ch := range src.Children {
		child, err := c.convertNode(ch, visited)
		if err != nil {
			return nil, err
		}
		node.AddChild(child)
	}
	return node, nil
}

// gltfNodeTransform uses the node matrix when set, otherwise composes TRS.
func gltfNodeTransform(n *gltf.Node) math.Mat4 {
	var m math.Mat4
	if n.Matrix != gltf.DefaultMatrix && n.Matrix != [16]float64{} {
		for i, v := range n.Matrix {
			m[i] = float32(v)
		}
		return m
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	return math.FromTRS(
		math.Vec3{X: float32(t[0]), Y: float32(t[1]), Z: float32(t[2])},
		math.Quat{X: float32(r[0]), Y: float32(r[1]), Z: float32(r[2]), W: float32(r[3])}.Normalize(),
		math.Vec3{X: float32(s[0]), Y: float32(s[1]), Z: float32(s[2])},
	)
}

// convertMesh converts each primitive of mesh idx once per skin and returns
// the scene mesh indices. Instanced meshes share the same scene meshes.
func (c *gltfConverter) convertMesh(idx uint32, skinIdx *uint32) ([]int, error) {
	key := gltfMeshKey{mesh: idx}
	if skinIdx != nil {
		key.skin, key.skinned = *skinIdx, true
	}
	if refs, ok := c.meshes[key]; ok {
		return refs, nil
	}
	if int(idx) >= len(c.doc.Meshes) {
		return nil, fmt.Errorf("%w: mesh %d out of range", ErrInvalidScene, idx)
	}

	var skin *gltfSkin
	if skinIdx != nil {
		var err error
		if skin, err = c.skin(*skinIdx); err != nil {
			return nil, err
		}
	}

	src := c.doc.Meshes[idx]
	var refs []int
	for pi, p := range src.Primitives {
		m, err := c.convertPrimitive(src.Name, p, skin)
		if err != nil {
			return nil, fmt.Errorf("mesh %d primitive %d: %w", idx, pi, err)
		}
		if m.Name == "" {
			m.Name = fmt.Sprintf("mesh_%d", idx)
		}
		refs = append(refs, len(c.scene.Meshes))
		c.scene.Meshes = append(c.scene.Meshes, m)
	}
	c.meshes[key] = refs
	return refs, nil
}

// skin resolves skin idx once. Joints without an inverse bind matrix get
// the identity.
func (c *gltfConverter) skin(idx uint32) (*gltfSkin, error) {
	if sk, ok := c.skins[idx]; ok {
		return sk, nil
	}
	if int(idx) >= len(c.doc.Skins) {
		return nil, fmt.Errorf("%w: skin %d out of range", ErrInvalidScene, idx)
	}
	src := c.doc.Skins[idx]

	sk := &gltfSkin{
		joints:  make([]string, len(src.Joints)),
		offsets: make([]math.Mat4, len(src.Joints)),
	}
	for i, j := range src.Joints {
		if int(j) >= len(c.doc.Nodes) {
			return nil, fmt.Errorf("%w: skin %d joint %d out of range", ErrInvalidScene, idx, j)
		}
		sk.joints[i] = c.names[j]
		sk.offsets[i] = math.Identity()
	}

	if src.InverseBindMatrices != nil {
		acr, err := c.accessor(*src.InverseBindMatrices)
		if err != nil {
			return nil, err
		}
		data, err := modeler.ReadAccessor(c.doc, acr, nil)
		if err != nil {
			return nil, err
		}
		mats, ok := data.([][4][4]float32)
		if !ok {
			return nil, fmt.Errorf("%w: skin %d inverse bind matrices are %T", ErrInvalidScene, idx, data)
		}
		for i := range sk.offsets {
			if i >= len(mats) {
				break
			}
			// Both sides are column-major.
			for col := 0; col < 4; col++ {
				for row := 0; row < 4; row++ {
					sk.offsets[i][col*4+row] = mats[i][col][row]
				}
			}
		}
	}

	c.skins[idx] = sk
	return sk, nil
}

func (c *gltfConverter) convertPrimitive(name string, p *gltf.Primitive, skin *gltfSkin) (*Mesh, error) {
	posIdx, ok := p.Attributes[gltf.POSITION]
	if !ok {
		return nil, fmt.Errorf("%w: primitive has no POSITION", ErrInvalidScene)
	}
	acr, err := c.accessor(posIdx)
	if err != nil {
		return nil, err
	}
	positions, err := modeler.ReadPosition(c.doc, acr, nil)
	if err != nil {
		return nil, err
	}

	m := &Mesh{Name: name, Positions: make([]math.Vec3, len(positions))}
	for i, v := range positions {
		m.Positions[i] = math.Vec3FromArray(v)
	}

	if idx, ok := p.Attributes[gltf.NORMAL]; ok {
		acr, err := c.accessor(idx)
		if err != nil {
			return nil, err
		}
		normals, err := modeler.ReadNormal(c.doc, acr, nil)
		if err != nil {
			return nil, err
		}
		if len(normals) == len(positions) {
			m.Normals = make([]math.Vec3, len(normals))
			for i, v := range normals {
				m.Normals[i] = math.Vec3FromArray(v)
			}
		}
	}

	if idx, ok := p.Attributes[gltf.TEXCOORD_0]; ok {
		acr, err := c.accessor(idx)
		if err != nil {
			return nil, err
		}
		uvs, err := modeler.ReadTextureCoord(c.doc, acr, nil)
		if err != nil {
			return nil, err
		}
		if len(uvs) == len(positions) {
			m.TexCoords = make([]math.Vec2, len(uvs))
			for i, v := range uvs {
				m.TexCoords[i] = math.Vec2{X: v[0], Y: v[1]}
			}
		}
	}

	if skin != nil {
		if m.Bones, err = c.primitiveBones(p, skin, len(positions)); err != nil {
			return nil, err
		}
	}

	var indices []uint32
	if p.Indices != nil {
		acr, err := c.accessor(*p.Indices)
		if err != nil {
			return nil, err
		}
		if indices, err = modeler.ReadIndices(c.doc, acr, nil); err != nil {
			return nil, err
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	for _, i := range indices {
		if int(i) >= len(positions) {
			return nil, fmt.Errorf("%w: index %d beyond %d vertices", ErrInvalidScene, i, len(positions))
		}
	}

	m.Faces = primitiveFaces(p.Mode, indices)
	m.updatePrimitiveTypes()
	return m, nil
}

// primitiveBones turns JOINTS_0/WEIGHTS_0 into one bone per joint that
// weights at least one vertex, in skin joint order. A primitive without
// both attributes has no bones.
func (c *gltfConverter) primitiveBones(p *gltf.Primitive, skin *gltfSkin, vertices int) ([]*Bone, error) {
	jIdx, okJ := p.Attributes[gltf.JOINTS_0]
	wIdx, okW := p.Attributes[gltf.WEIGHTS_0]
	if !okJ || !okW {
		return nil, nil
	}

	acr, err := c.accessor(jIdx)
	if err != nil {
		return nil, err
	}
	joints, err := modeler.ReadJoints(c.doc, acr, nil)
	if err != nil {
		return nil, err
	}
	if acr, err = c.accessor(wIdx); err != nil {
		return nil, err
	}
	weights, err := modeler.ReadWeights(c.doc, acr, nil)
	if err != nil {
		return nil, err
	}
	if len(joints) != vertices || len(weights) != vertices {
		return nil, fmt.Errorf("%w: %d joints and %d weights for %d vertices",
			ErrInvalidScene, len(joints), len(weights), vertices)
	}

	bones := make([]*Bone, len(skin.joints))
	for v := range joints {
		for k := 0; k < 4; k++ {
			w := weights[v][k]
			if w <= 0 {
				continue
			}
			j := int(joints[v][k])
			if j >= len(bones) {
				return nil, fmt.Errorf("%w: vertex %d uses joint %d of %d", ErrInvalidScene, v, j, len(bones))
			}
			if bones[j] == nil {
				bones[j] = &Bone{Name: skin.joints[j], OffsetMatrix: skin.offsets[j]}
			}
			bones[j].Weights = append(bones[j].Weights, VertexWeight{Vertex: uint32(v), Weight: w})
		}
	}

	var out []*Bone
	for _, b := range bones {
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

// primitiveFaces expands a glTF index stream into faces. Strips, loops and
// fans become lists of lines or triangles.
func primitiveFaces(mode gltf.PrimitiveMode, idx []uint32) []Face {
	var faces []Face
	switch mode {
	case gltf.PrimitivePoints:
		for _, i := range idx {
			faces = append(faces, Face{i})
		}
	case gltf.PrimitiveLines:
		for i := 0; i+1 < len(idx); i += 2 {
			faces = append(faces, Face{idx[i], idx[i+1]})
		}
	case gltf.PrimitiveLineStrip, gltf.PrimitiveLineLoop:
		for i := 0; i+1 < len(idx); i++ {
			faces = append(faces, Face{idx[i], idx[i+1]})
		}
		if mode == gltf.PrimitiveLineLoop && len(idx) > 2 {
			faces = append(faces, Face{idx[len(idx)-1], idx[0]})
		}
	case gltf.PrimitiveTriangleStrip:
		for i := 0; i+2 < len(idx); i++ {
			if i%2 == 0 {
				faces = append(faces, Face{idx[i], idx[i+1], idx[i+2]})
			} else {
				faces = append(faces, Face{idx[i+1], idx[i], idx[i+2]})
			}
		}
	case gltf.PrimitiveTriangleFan:
		for i := 1; i+1 < len(idx); i++ {
			faces = append(faces, Face{idx[0], idx[i], idx[i+1]})
		}
	default:
		for i := 0; i+2 < len(idx); i += 3 {
			faces = append(faces, Face{idx[i], idx[i+1], idx[i+2]})
		}
	}
	return faces
}

func (c *gltfConverter) accessor(idx uint32) (*gltf.Accessor, error) {
	if int(idx) >= len(c.doc.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", ErrInvalidScene, idx)
	}
	acr := c.doc.Accessors[idx]
	if acr.BufferView != nil {
		bv := *acr.BufferView
		if int(bv) >= len(c.doc.BufferViews) {
			return nil, fmt.Errorf("%w: buffer view %d out of range", ErrInvalidScene, bv)
		}
		if b := c.doc.BufferViews[bv].Buffer; int(b) >= len(c.doc.Buffers) {
			return nil, fmt.Errorf("%w: buffer %d out of range", ErrInvalidScene, b)
		}
	}
	return acr, nil
}

// convertAnimation merges the glTF channels targeting the same node into one
// Channel. Channels appear in the order their node is first targeted.
// Morph weight channels have no node transform and are skipped.
func (c *gltfConverter) convertAnimation(idx int, a *gltf.Animation) (*Animation, error) {
	anim := &Animation{Name: a.Name, TicksPerSecond: gltfTicksPerSecond}
	if anim.Name == "" {
		anim.Name = fmt.Sprintf("animation_%d", idx)
	}

	byNode := make(map[uint32]*Channel)
	for ci, ch := range a.Channels {
		if ch.Target.Node == nil || ch.Target.Path == gltf.TRSWeights {
			continue
		}
		node := *ch.Target.Node
		if int(node) >= len(c.doc.Nodes) {
			return nil, fmt.Errorf("%w: animation %q channel %d targets node %d", ErrInvalidScene, anim.Name, ci, node)
		}
		if int(ch.Sampler) >= len(a.Samplers) {
			return nil, fmt.Errorf("%w: animation %q channel %d uses sampler %d of %d",
				ErrInvalidScene, anim.Name, ci, ch.Sampler, len(a.Samplers))
		}

		out, ok := byNode[node]
		if !ok {
			out = &Channel{NodeName: c.names[node]}
			byNode[node] = out
			anim.Channels = append(anim.Channels, out)
		}

		end, err := c.readSampler(a.Samplers[ch.Sampler], ch.Target.Path, out)
		if err != nil {
			return nil, fmt.Errorf("animation %q channel %d: %w", anim.Name, ci, err)
		}
		if end > anim.Duration {
			anim.Duration = end
		}
	}
	return anim, nil
}

// readSampler appends the sampler's keys to the matching key list of out
// and returns the last key time in ticks.
func (c *gltfConverter) readSampler(s *gltf.AnimationSampler, path gltf.TRSProperty, out *Channel) (float64, error) {
	inAcr, err := c.accessor(s.Input)
	if err != nil {
		return 0, err
	}
	outAcr, err := c.accessor(s.Output)
	if err != nil {
		return 0, err
	}

	in, err := modeler.ReadAccessor(c.doc, inAcr, nil)
	if err != nil {
		return 0, err
	}
	times, ok := in.([]float32)
	if !ok {
		return 0, fmt.Errorf("%w: sampler input is %T", ErrInvalidScene, in)
	}
	values, err := modeler.ReadAccessor(c.doc, outAcr, nil)
	if err != nil {
		return 0, err
	}

	// Cubic spline outputs store in-tangent, value, out-tangent per key.
	stride, offset := 1, 0
	if s.Interpolation == gltf.InterpolationCubicSpline {
		stride, offset = 3, 1
	}

	var end float64
	switch path {
	case gltf.TRSTranslation, gltf.TRSScale:
		vecs, ok := values.([][3]float32)
		if !ok {
			return 0, fmt.Errorf("%w: %v output is %T", ErrInvalidScene, path, values)
		}
		for k, t := range times {
			vi := k*stride + offset
			if vi >= len(vecs) {
				break
			}
			key := VectorKey{Time: float64(t) * gltfTicksPerSecond, Value: math.Vec3FromArray(vecs[vi])}
			end = key.Time
			if path == gltf.TRSTranslation {
				out.PositionKeys = append(out.PositionKeys, key)
			} else {
				out.ScalingKeys = append(out.ScalingKeys, key)
			}
		}
	case gltf.TRSRotation:
		quats, err := rotationValues(values)
		if err != nil {
			return 0, err
		}
		for k, t := range times {
			vi := k*stride + offset
			if vi >= len(quats) {
				break
			}
			key := QuatKey{Time: float64(t) * gltfTicksPerSecond, Value: quats[vi].Normalize()}
			end = key.Time
			out.RotationKeys = append(out.RotationKeys, key)
		}
	}
	return end, nil
}

// rotationValues converts float or normalized integer quaternions.
func rotationValues(values any) ([]math.Quat, error) {
	var out []math.Quat
	switch v := values.(type) {
	case [][4]float32:
		for _, q := range v {
			out = append(out, math.QuatFromArray(q))
		}
	case [][4]int8:
		for _, q := range v {
			out = append(out, math.Quat{X: snorm(float32(q[0]), 127), Y: snorm(float32(q[1]), 127), Z: snorm(float32(q[2]), 127), W: snorm(float32(q[3]), 127)})
		}
	case [][4]int16:
		for _, q := range v {
			out = append(out, math.Quat{X: snorm(float32(q[0]), 32767), Y: snorm(float32(q[1]), 32767), Z: snorm(float32(q[2]), 32767), W: snorm(float32(q[3]), 32767)})
		}
	case [][4]uint8:
		for _, q := range v {
			out = append(out, math.Quat{X: float32(q[0]) / 255, Y: float32(q[1]) / 255, Z: float32(q[2]) / 255, W: float32(q[3]) / 255})
		}
	case [][4]uint16:
		for _, q := range v {
			out = append(out, math.Quat{X: float32(q[0]) / 65535, Y: float32(q[1]) / 65535, Z: float32(q[2]) / 65535, W: float32(q[3]) / 65535})
		}
	default:
		return nil, fmt.Errorf("%w: rotation output is %T", ErrInvalidScene, values)
	}
	return out, nil
}

// snorm maps a signed normalized integer to [-1, 1].
func snorm(v, scale float32) float32 {
	if f := v / scale; f > -1 {
		return f
	}
	return -1
}
