// Package fixture encodes RSM models and GRF archives for tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/animchan/pkg/encoding"
	"github.com/Faultbox/animchan/pkg/formats"
)

// nameLength is the fixed size of RSM name fields.
const nameLength = 40

// RSM encodes m in the layout formats.ParseRSM reads. Names are written as
// EUC-KR. Version-dependent fields follow m.Version.
func RSM(m *formats.RSM) ([]byte, error) {
	v := m.Version
	if v.Major < 1 || v.Major > 2 {
		return nil, fmt.Errorf("%w: %s", formats.ErrUnsupportedRSMVersion, v)
	}

	var buf bytes.Buffer
	w := func(data any) {
		// Writes to a bytes.Buffer cannot fail.
		_ = binary.Write(&buf, binary.LittleEndian, data)
	}
	name := func(s string) {
		buf.Write(encoding.UTF8ToFixedString(s, nameLength))
	}

	buf.WriteString("GRSM")
	w(v.Major)
	w(v.Minor)
	w(m.AnimLength)
	w(m.Shading)
	if v.AtLeast(1, 4) {
		w(uint8(m.Alpha*255 + 0.5))
	}
	buf.Write(make([]byte, 16))

	w(int32(len(m.Textures)))
	for _, t := range m.Textures {
		name(t)
	}
	name(m.RootNode)

	w(int32(len(m.Nodes)))
	for i := range m.Nodes {
		n := &m.Nodes[i]
		name(n.Name)
		name(n.Parent)

		w(int32(len(n.TextureIDs)))
		w(n.TextureIDs)
		w(n.Matrix)
		w(n.Offset)
		w(n.Position)
		w(n.RotAngle)
		w(n.RotAxis)
		w(n.Scale)

		w(int32(len(n.Vertices)))
		w(n.Vertices)

		w(int32(len(n.TexCoords)))
		for _, tc := range n.TexCoords {
			if v.AtLeast(1, 2) {
				w(tc.Color)
			}
			w(tc.U)
			w(tc.V)
		}

		w(int32(len(n.Faces)))
		for _, f := range n.Faces {
			w(f.VertexIDs)
			w(f.TexCoordIDs)
			w(f.TextureID)
			w(f.Padding)
			w(f.TwoSide)
			if v.AtLeast(1, 2) {
				w(f.SmoothGroup)
			}
		}

		if !v.AtLeast(1, 5) {
			w(int32(len(n.PosKeys)))
			w(n.PosKeys)
		}
		w(int32(len(n.RotKeys)))
		w(n.RotKeys)
		if v.AtLeast(1, 5) {
			w(int32(len(n.ScaleKeys)))
			w(n.ScaleKeys)
		}
	}

	w(int32(len(m.VolumeBoxes)))
	for _, b := range m.VolumeBoxes {
		w(b.Size)
		w(b.Position)
		w(b.Rotation)
		if v.AtLeast(1, 3) {
			w(b.Flag)
		}
	}

	return buf.Bytes(), nil
}
