// Package report prints what an imported scene animates.
package report

import (
	"fmt"
	"io"

	"github.com/Faultbox/animchan/internal/scene"
)

// Source is the read-only view of a scene the channel report needs.
type Source interface {
	NumAnimations() int
	NumChannels(anim int) int
	ChannelNodeName(anim, channel int) string
}

// Channels writes one "channel: <node>" line per animation channel,
// animation by animation, in index order. It returns the first write error.
func Channels(w io.Writer, src Source) error {
	for i := 0; i < src.NumAnimations(); i++ {
		for j := 0; j < src.NumChannels(i); j++ {
			if _, err := fmt.Fprintf(w, "channel: %s\n", src.ChannelNodeName(i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Summary writes a scene line, one line per mesh with its vertex, face and
// skinning counts, then each animation's timing and the key counts of its
// channels.
func Summary(w io.Writer, s *scene.Scene) error {
	ew := &errWriter{w: w}
	ew.printf("scene %s: meshes=%d animations=%d\n", s.Name, len(s.Meshes), len(s.Animations))
	for i, m := range s.Meshes {
		ew.printf("mesh %d: %s vertices=%d faces=%d bones=%d weights=%d\n",
			i, m.Name, len(m.Positions), len(m.Faces), len(m.Bones), m.NumWeights())
	}
	for i, a := range s.Animations {
		ew.printf("animation %d: %s duration=%g tps=%g channels=%d\n",
			i, a.Name, a.Duration, a.TicksPerSecond, len(a.Channels))
		for _, ch := range a.Channels {
			ew.printf("  %s pos=%d rot=%d scale=%d\n",
				ch.NodeName, len(ch.PositionKeys), len(ch.RotationKeys), len(ch.ScalingKeys))
		}
	}
	return ew.err
}

// MissingNode is a channel whose node is not in the scene graph.
type MissingNode struct {
	Animation string
	Node      string
}

// MissingNodes lists channels naming nodes that FindNode cannot resolve, in
// report order.
func MissingNodes(s *scene.Scene) []MissingNode {
	known := make(map[string]bool)
	var missing []MissingNode
	for _, a := range s.Animations {
		for _, ch := range a.Channels {
			found, ok := known[ch.NodeName]
			if !ok {
				found = s.FindNode(ch.NodeName) != nil
				known[ch.NodeName] = found
			}
			if !found {
				missing = append(missing, MissingNode{Animation: a.Name, Node: ch.NodeName})
			}
		}
	}
	return missing
}

// errWriter stops writing after the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
