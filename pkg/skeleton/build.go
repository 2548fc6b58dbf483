package skeleton

import (
	"fmt"

	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
)

// Build walks the node tree in pre-order and appends every joint node, parented to the
// nearest joint among its ancestors. Joints are therefore topologically sorted by construction.
// Returns a nil skeleton and no error when the tree has no joints.
func Build(roots []*scenegraph.Node) (*Skeleton, error) {
	s := New()
	for _, n := range roots {
		if err := s.appendNode(n, -1); err != nil {
			return nil, err
		}
	}
	if s.Len() == 0 {
		return nil, nil
	}
	return s, nil
}

func (s *Skeleton) appendNode(n *scenegraph.Node, parent int) error {
	if n == nil {
		return nil
	}
	if n.Kind == scenegraph.KindJoint {
		if n.Joint == nil {
			return fmt.Errorf("%w: joint node %q has no joint attribute", ErrMalformedHierarchy, n.Name)
		}
		i, err := s.Add(n.Name, parent, n.Joint.Local)
		if err != nil {
			return err
		}
		parent = i
	}
	for _, c := range n.Children {
		if err := s.appendNode(c, parent); err != nil {
			return err
		}
	}
	return nil
}
