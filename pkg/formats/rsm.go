// Package formats reads and writes RSM (Resource Model) files, the
// animated 3D model format found in Ragnarok Online GRF archives.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Faultbox/animchan/pkg/encoding"
)

// RSM format errors.
var (
	ErrInvalidRSMMagic       = errors.New("invalid RSM magic: expected 'GRSM'")
	ErrUnsupportedRSMVersion = errors.New("unsupported RSM version")
	ErrTruncatedRSMData      = errors.New("truncated RSM data")
	ErrInvalidNodeCount      = errors.New("invalid RSM node count")
	ErrInvalidElementCount   = errors.New("invalid RSM element count")
)

// Upper bounds for element counts; anything larger is treated as corruption.
const (
	maxRSMNodes     = 10000
	maxRSMTextures  = 1000
	maxRSMElements  = 100000
	maxRSMKeyframes = 10000
	maxRSMBoxes     = 1000
	rsmNameLength   = 40
)

// RSMVersion represents the RSM file version.
type RSMVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v RSMVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast returns true if version is >= major.minor.
func (v RSMVersion) AtLeast(major, minor uint8) bool {
	if v.Major > major {
		return true
	}
	return v.Major == major && v.Minor >= minor
}

// RSMShadingType represents the shading mode for rendering.
type RSMShadingType int32

const (
	RSMShadingNone   RSMShadingType = 0 // No shading
	RSMShadingFlat   RSMShadingType = 1 // Flat shading
	RSMShadingSmooth RSMShadingType = 2 // Smooth shading
)

// String returns a human-readable shading type name.
func (s RSMShadingType) String() string {
	switch s {
	case RSMShadingNone:
		return "None"
	case RSMShadingFlat:
		return "Flat"
	case RSMShadingSmooth:
		return "Smooth"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// RSMTexCoord represents a texture coordinate with optional vertex color.
type RSMTexCoord struct {
	Color [4]uint8 // RGBA vertex color (v1.2+)
	U, V  float32
}

// RSMFace represents a triangle face in a mesh.
type RSMFace struct {
	VertexIDs   [3]uint16 // Indices into vertex array
	TexCoordIDs [3]uint16 // Indices into texcoord array
	TextureID   uint16    // Index into node's texture array
	Padding     uint16
	TwoSide     int32 // Double-sided rendering flag
	SmoothGroup int32 // Smoothing group ID (v1.2+)
}

// RSMPosKeyframe represents a position animation keyframe.
type RSMPosKeyframe struct {
	Frame    int32
	Position [3]float32
}

// RSMRotKeyframe represents a rotation animation keyframe.
type RSMRotKeyframe struct {
	Frame      int32
	Quaternion [4]float32 // X, Y, Z, W
}

// RSMScaleKeyframe represents a scale animation keyframe.
type RSMScaleKeyframe struct {
	Frame int32
	Scale [3]float32
}

// RSMNode represents a node in the model hierarchy.
type RSMNode struct {
	Name       string
	Parent     string // Empty for root
	TextureIDs []int32

	Matrix   [9]float32 // 3x3 vertex matrix
	Offset   [3]float32 // Pivot point offset
	Position [3]float32
	RotAngle float32 // Radians
	RotAxis  [3]float32
	Scale    [3]float32

	Vertices  [][3]float32
	TexCoords []RSMTexCoord
	Faces     []RSMFace

	PosKeys   []RSMPosKeyframe   // v < 1.5
	RotKeys   []RSMRotKeyframe
	ScaleKeys []RSMScaleKeyframe // v >= 1.5
}

// HasKeys reports whether the node carries any animation keyframes.
func (n *RSMNode) HasKeys() bool {
	return len(n.PosKeys) > 0 || len(n.RotKeys) > 0 || len(n.ScaleKeys) > 0
}

// RSMVolumeBox represents a bounding volume box.
type RSMVolumeBox struct {
	Size     [3]float32
	Position [3]float32
	Rotation [3]float32 // Euler angles
	Flag     int32      // v1.3+
}

// RSM represents a parsed RSM (Resource Model) file.
type RSM struct {
	Version     RSMVersion
	AnimLength  int32 // Milliseconds
	Shading     RSMShadingType
	Alpha       float32 // 0-1
	Textures    []string
	RootNode    string
	Nodes       []RSMNode
	VolumeBoxes []RSMVolumeBox
}

// RSMOptions controls how names are decoded.
type RSMOptions struct {
	// DecodeNames converts EUC-KR node and texture names to UTF-8.
	// When false the raw bytes are kept.
	DecodeNames bool
}

// DefaultRSMOptions decodes names to UTF-8.
func DefaultRSMOptions() RSMOptions {
	return RSMOptions{DecodeNames: true}
}

// rsmReader wraps a bytes.Reader and remembers the first read error so the
// parser can read a whole record before checking.
type rsmReader struct {
	r    *bytes.Reader
	err  error
	opts RSMOptions
}

func (r *rsmReader) read(v any) {
	if r.err != nil {
		return
	}
	if err := binary.Read(r.r, binary.LittleEndian, v); err != nil {
		r.err = ErrTruncatedRSMData
	}
}

func (r *rsmReader) skip(n int64) {
	if r.err != nil {
		return
	}
	if int64(r.r.Len()) < n {
		r.err = ErrTruncatedRSMData
		return
	}
	r.r.Seek(n, io.SeekCurrent)
}

// count reads an int32 element count and validates it against limit.
func (r *rsmReader) count(what string, limit int32) int32 {
	var n int32
	r.read(&n)
	if r.err != nil {
		return 0
	}
	if n < 0 || n > limit {
		r.err = fmt.Errorf("%w: %d %s", ErrInvalidElementCount, n, what)
		return 0
	}
	return n
}

// name reads a fixed-length NUL-terminated name.
func (r *rsmReader) name() string {
	buf := make([]byte, rsmNameLength)
	r.read(buf)
	if r.err != nil {
		return ""
	}
	if r.opts.DecodeNames {
		return encoding.FixedStringToUTF8(buf)
	}
	return string(encoding.FixedString(buf))
}

// ParseRSM parses RSM data from a byte slice, decoding names to UTF-8.
func ParseRSM(data []byte) (*RSM, error) {
	return ParseRSMWithOptions(data, DefaultRSMOptions())
}

// ParseRSMWithOptions parses RSM data from a byte slice.
func ParseRSMWithOptions(data []byte, opts RSMOptions) (*RSM, error) {
	if len(data) < 14 {
		return nil, ErrTruncatedRSMData
	}

	if string(data[:4]) != "GRSM" {
		return nil, ErrInvalidRSMMagic
	}

	r := &rsmReader{r: bytes.NewReader(data[4:]), opts: opts}

	var verMajor, verMinor uint8
	r.read(&verMajor)
	r.read(&verMinor)

	rsm := &RSM{
		Version: RSMVersion{Major: verMajor, Minor: verMinor},
	}

	if rsm.Version.Major < 1 || rsm.Version.Major > 2 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRSMVersion, rsm.Version)
	}

	r.read(&rsm.AnimLength)
	r.read(&rsm.Shading)

	if rsm.Version.AtLeast(1, 4) {
		var alpha uint8
		r.read(&alpha)
		rsm.Alpha = float32(alpha) / 255.0
	} else {
		rsm.Alpha = 1.0
	}

	// Reserved
	r.skip(16)

	textureCount := r.count("textures", maxRSMTextures)
	rsm.Textures = make([]string, textureCount)
	for i := range rsm.Textures {
		rsm.Textures[i] = r.name()
	}

	rsm.RootNode = r.name()

	var nodeCount int32
	r.read(&nodeCount)
	if r.err != nil {
		return nil, r.err
	}
	if nodeCount < 0 || nodeCount > maxRSMNodes {
		return nil, ErrInvalidNodeCount
	}

	rsm.Nodes = make([]RSMNode, nodeCount)
	for i := range rsm.Nodes {
		parseRSMNode(r, rsm.Version, &rsm.Nodes[i])
		if r.err != nil {
			return nil, fmt.Errorf("parsing node %d: %w", i, r.err)
		}
	}

	// Volume boxes are optional trailing data.
	if r.r.Len() >= 4 {
		var boxCount int32
		r.read(&boxCount)

		if boxCount > 0 && boxCount < maxRSMBoxes {
			rsm.VolumeBoxes = make([]RSMVolumeBox, boxCount)
			for i := range rsm.VolumeBoxes {
				box := &rsm.VolumeBoxes[i]
				r.read(&box.Size)
				r.read(&box.Position)
				r.read(&box.Rotation)
				if rsm.Version.AtLeast(1, 3) {
					r.read(&box.Flag)
				}
			}
			if r.err != nil {
				return nil, fmt.Errorf("parsing volume boxes: %w", r.err)
			}
		}
	}

	return rsm, nil
}

// parseRSMNode parses a single node; errors are left in r.err.
func parseRSMNode(r *rsmReader, version RSMVersion, node *RSMNode) {
	node.Name = r.name()
	node.Parent = r.name()

	textureCount := r.count("node textures", maxRSMTextures)
	if textureCount > 0 {
		node.TextureIDs = make([]int32, textureCount)
		r.read(node.TextureIDs)
	}

	r.read(&node.Matrix)
	r.read(&node.Offset)
	r.read(&node.Position)
	r.read(&node.RotAngle)
	r.read(&node.RotAxis)
	r.read(&node.Scale)

	vertexCount := r.count("vertices", maxRSMElements)
	if vertexCount > 0 {
		node.Vertices = make([][3]float32, vertexCount)
		r.read(node.Vertices)
	}

	texCoordCount := r.count("texcoords", maxRSMElements)
	if texCoordCount > 0 {
		node.TexCoords = make([]RSMTexCoord, texCoordCount)
		for i := range node.TexCoords {
			tc := &node.TexCoords[i]
			if version.AtLeast(1, 2) {
				r.read(&tc.Color)
			} else {
				tc.Color = [4]uint8{255, 255, 255, 255}
			}
			r.read(&tc.U)
			r.read(&tc.V)
		}
	}

	faceCount := r.count("faces", maxRSMElements)
	if faceCount > 0 {
		node.Faces = make([]RSMFace, faceCount)
		for i := range node.Faces {
			face := &node.Faces[i]
			r.read(&face.VertexIDs)
			r.read(&face.TexCoordIDs)
			r.read(&face.TextureID)
			r.read(&face.Padding)
			r.read(&face.TwoSide)
			if version.AtLeast(1, 2) {
				r.read(&face.SmoothGroup)
			}
		}
	}

	if !version.AtLeast(1, 5) {
		posKeyCount := r.count("position keys", maxRSMKeyframes)
		if posKeyCount > 0 {
			node.PosKeys = make([]RSMPosKeyframe, posKeyCount)
			r.read(node.PosKeys)
		}
	}

	rotKeyCount := r.count("rotation keys", maxRSMKeyframes)
	if rotKeyCount > 0 {
		node.RotKeys = make([]RSMRotKeyframe, rotKeyCount)
		r.read(node.RotKeys)
	}

	if version.AtLeast(1, 5) {
		scaleKeyCount := r.count("scale keys", maxRSMKeyframes)
		if scaleKeyCount > 0 {
			node.ScaleKeys = make([]RSMScaleKeyframe, scaleKeyCount)
			r.read(node.ScaleKeys)
		}
	}
}

// GetNodeByName returns a node by its name, or nil if not found.
func (rsm *RSM) GetNodeByName(name string) *RSMNode {
	for i := range rsm.Nodes {
		if rsm.Nodes[i].Name == name {
			return &rsm.Nodes[i]
		}
	}
	return nil
}

// GetRootNode returns the root node (first node matching RootNode name).
func (rsm *RSM) GetRootNode() *RSMNode {
	return rsm.GetNodeByName(rsm.RootNode)
}

// GetChildNodes returns all nodes that have the given parent name.
// A node naming itself as parent is never its own child.
func (rsm *RSM) GetChildNodes(parentName string) []*RSMNode {
	var children []*RSMNode
	for i := range rsm.Nodes {
		n := &rsm.Nodes[i]
		if n.Parent == parentName && n.Name != parentName {
			children = append(children, n)
		}
	}
	return children
}

// HasAnimation returns true if the model has any animation keyframes.
func (rsm *RSM) HasAnimation() bool {
	for i := range rsm.Nodes {
		if rsm.Nodes[i].HasKeys() {
			return true
		}
	}
	return false
}
