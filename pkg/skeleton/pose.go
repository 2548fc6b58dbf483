package skeleton

import (
	"fmt"

	"github.com/Faultbox/midgard-assets/pkg/math"
)

// LocalToGlobal recomputes every Global from the Local poses, root first.
func (s *Skeleton) LocalToGlobal() {
	for i := range s.joints {
		j := &s.joints[i]
		if j.Parent < 0 {
			j.Global = j.Local
			continue
		}
		j.Global = s.joints[j.Parent].Global.Mul(j.Local)
	}
}

// GlobalToLocal recomputes every Local from the Global poses.
// Poses are rigid or affine, so the parent is inverted with AffineInverse.
func (s *Skeleton) GlobalToLocal() {
	for i := range s.joints {
		j := &s.joints[i]
		if j.Parent < 0 {
			j.Local = j.Global
			continue
		}
		j.Local = s.joints[j.Parent].Global.AffineInverse().Mul(j.Global)
	}
}

// RebuildFromInverseBindPoses seeds the rest pose from the recorded bind poses:
// Global = inverse(InverseBindPose), then Local is derived from it.
// A joint without a bind pose keeps its authored Local and follows its parent.
func (s *Skeleton) RebuildFromInverseBindPoses() {
	for i := range s.joints {
		j := &s.joints[i]
		switch {
		case j.HasBindPose:
			j.Global = j.InverseBindPose.AffineInverse()
		case j.Parent < 0:
			j.Global = j.Local
		default:
			j.Global = s.joints[j.Parent].Global.Mul(j.Local)
		}
	}
	s.GlobalToLocal()
}

// BoneLength returns the distance between joint i and its parent in world space.
// The root has length 0.
func (s *Skeleton) BoneLength(i int) float32 {
	j := &s.joints[i]
	if j.Parent < 0 {
		return 0
	}
	return j.Global.Translation().Distance(s.joints[j.Parent].Global.Translation())
}

// DegenerateBones returns the joints whose bone to the parent is shorter than eps.
func (s *Skeleton) DegenerateBones(eps float32) []int {
	var out []int
	for i := 1; i < len(s.joints); i++ {
		if s.BoneLength(i) < eps {
			out = append(out, i)
		}
	}
	return out
}

// Palette builds the skinning matrices of a mesh: Global * InverseBindPose for each
// name in jointNames, in slot order.
func (s *Skeleton) Palette(jointNames []string) ([]math.Mat4, error) {
	out := make([]math.Mat4, len(jointNames))
	for slot, name := range jointNames {
		j, ok := s.JointByName(name)
		if !ok {
			return nil, fmt.Errorf("palette slot %d: unknown joint %q", slot, name)
		}
		out[slot] = j.Global.Mul(j.InverseBindPose)
	}
	return out, nil
}
