// Package skeleton holds a joint hierarchy stored as a flat, parent-first array and
// converts poses between parent-relative and world space.
package skeleton

import (
	"errors"
	"fmt"

	"github.com/tiendc/go-deepcopy"

	"github.com/Faultbox/midgard-assets/pkg/math"
)

// ErrMalformedHierarchy is returned when the joint array invariant cannot be established.
var ErrMalformedHierarchy = errors.New("malformed joint hierarchy")

// Joint is one element of a Skeleton.
type Joint struct {
	Name   string
	Parent int // -1 for the root, otherwise an earlier index

	InverseBindPose math.Mat4
	Local           math.Mat4 // Parent-relative pose
	Global          math.Mat4 // World pose

	// HasBindPose is set once an inverse bind pose has been recorded for the joint.
	HasBindPose bool
}

// Skeleton is an ordered joint array where every parent precedes its children.
// joints[0] is the only root.
type Skeleton struct {
	joints []Joint
	index  map[string]int
}

// New returns an empty skeleton.
func New() *Skeleton {
	return &Skeleton{index: make(map[string]int)}
}

// Add appends a joint and returns its index.
// The first joint must be the root (parent -1); every later joint must name an
// existing parent. Joint names are unique.
func (s *Skeleton) Add(name string, parent int, local math.Mat4) (int, error) {
	i := len(s.joints)
	switch {
	case i == 0 && parent != -1:
		return -1, fmt.Errorf("%w: first joint %q must be the root", ErrMalformedHierarchy, name)
	case i > 0 && parent == -1:
		return -1, fmt.Errorf("%w: joint %q is a second root", ErrMalformedHierarchy, name)
	case parent < -1 || parent >= i:
		return -1, fmt.Errorf("%w: joint %q has parent %d, want < %d", ErrMalformedHierarchy, name, parent, i)
	}
	if _, dup := s.index[name]; dup {
		return -1, fmt.Errorf("%w: duplicate joint name %q", ErrMalformedHierarchy, name)
	}

	global := local
	if parent >= 0 {
		global = s.joints[parent].Global.Mul(local)
	}

	s.joints = append(s.joints, Joint{
		Name:            name,
		Parent:          parent,
		InverseBindPose: math.Identity(),
		Local:           local,
		Global:          global,
	})
	s.index[name] = i
	return i, nil
}

// Len returns the number of joints.
func (s *Skeleton) Len() int {
	return len(s.joints)
}

// Joints returns the joint array. Callers may modify poses but must not reorder it.
func (s *Skeleton) Joints() []Joint {
	return s.joints
}

// Joint returns the joint at index i. It panics if i is out of range.
func (s *Skeleton) Joint(i int) *Joint {
	return &s.joints[i]
}

// JointByName returns the named joint.
func (s *Skeleton) JointByName(name string) (*Joint, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return &s.joints[i], true
}

// Index returns the index of the named joint.
func (s *Skeleton) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// ParentIndices returns the parent index of every joint.
func (s *Skeleton) ParentIndices() []int {
	parents := make([]int, len(s.joints))
	for i := range s.joints {
		parents[i] = s.joints[i].Parent
	}
	return parents
}

// SetInverseBindPose records the inverse bind pose of joint i.
func (s *Skeleton) SetInverseBindPose(i int, m math.Mat4) {
	s.joints[i].InverseBindPose = m
	s.joints[i].HasBindPose = true
}

// HasBindPoses reports whether any joint received an inverse bind pose.
func (s *Skeleton) HasBindPoses() bool {
	for i := range s.joints {
		if s.joints[i].HasBindPose {
			return true
		}
	}
	return false
}

// Clone returns an independent copy, e.g. for evaluating poses per instance.
func (s *Skeleton) Clone() (*Skeleton, error) {
	var joints []Joint
	if err := deepcopy.Copy(&joints, s.joints); err != nil {
		return nil, fmt.Errorf("copying joints: %w", err)
	}
	c := &Skeleton{joints: joints, index: make(map[string]int, len(joints))}
	for i := range joints {
		c.index[joints[i].Name] = i
	}
	return c, nil
}
