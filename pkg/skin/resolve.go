// Package skin turns skin clusters into capped, normalized per-vertex influence tables
// and records each joint's inverse bind pose into the skeleton.
package skin

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/Faultbox/midgard-assets/pkg/model"
	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
	"github.com/Faultbox/midgard-assets/pkg/skeleton"
)

var (
	ErrUnresolvedJoint   = errors.New("cluster references unknown joint")
	ErrControlPointRange = errors.New("control point index out of range")
	ErrTooManyClusters   = errors.New("too many skin clusters")
)

// Result holds the influences of one mesh.
type Result struct {
	// JointNames maps influence slots to joints, in cluster order.
	JointNames []string

	// Influences has one table per polygon-vertex.
	Influences []model.Influences

	// Degenerate counts control points that had clusters but zero total weight.
	// They resolve to an all-zero table and render rigid.
	Degenerate int
}

// Resolve computes the influence tables of mesh and writes the inverse bind pose of every
// cluster joint into skel. The mesh must carry a skin deformer. skel is only written once
// the whole mesh has resolved, so a failing mesh leaves it untouched.
func Resolve(mesh *scenegraph.MeshAttribute, skel *skeleton.Skeleton) (*Result, error) {
	if mesh.Skin == nil {
		return nil, errors.New("mesh has no skin deformer")
	}
	clusters := mesh.Skin.Clusters
	if len(clusters) > 1<<16 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyClusters, len(clusters))
	}

	cpCount := controlPointCount(mesh)
	n := mesh.PolygonVertexCount()
	if len(mesh.PolygonVertexControlPoints) != n {
		return nil, fmt.Errorf("%w: %d control point refs for %d polygon-vertices",
			model.ErrStreamLength, len(mesh.PolygonVertexControlPoints), n)
	}
	for pv, cp := range mesh.PolygonVertexControlPoints {
		if cp < 0 || cp >= cpCount {
			return nil, fmt.Errorf("%w: polygon-vertex %d references control point %d of %d",
				ErrControlPointRange, pv, cp, cpCount)
		}
	}

	contribs := make([][]model.Influence, cpCount)
	joints := make([]int, len(clusters))
	res := &Result{JointNames: make([]string, len(clusters))}

	for slot, c := range clusters {
		idx, ok := -1, false
		if skel != nil {
			idx, ok = skel.Index(c.Joint)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnresolvedJoint, c.Joint)
		}
		joints[slot] = idx
		res.JointNames[slot] = c.Joint

		for _, w := range c.Weights {
			if w.Index < 0 || w.Index >= cpCount {
				return nil, fmt.Errorf("%w: cluster %q weights control point %d of %d",
					ErrControlPointRange, c.Joint, w.Index, cpCount)
			}
			contribs[w.Index] = append(contribs[w.Index], model.Influence{Slot: uint16(slot), Weight: w.Weight})
		}
	}

	perCP := make([]model.Influences, cpCount)
	for cp, list := range contribs {
		perCP[cp] = Normalize(list)
		if len(list) > 0 && perCP[cp][0].Weight == 0 {
			res.Degenerate++
		}
	}

	res.Influences = make([]model.Influences, n)
	for pv, cp := range mesh.PolygonVertexControlPoints {
		res.Influences[pv] = perCP[cp]
	}

	for slot, c := range clusters {
		bind := c.Link.Mul(mesh.Skin.Geometry).Mul(c.Reference)
		skel.SetInverseBindPose(joints[slot], bind.AffineInverse())
	}
	return res, nil
}

// controlPointCount falls back to the highest referenced control point when the
// reader did not report a count.
func controlPointCount(mesh *scenegraph.MeshAttribute) int {
	if mesh.ControlPointCount > 0 {
		return mesh.ControlPointCount
	}
	n := 0
	for _, cp := range mesh.PolygonVertexControlPoints {
		n = max(n, cp+1)
	}
	return n
}

// Normalize keeps the MaxInfluences heaviest contributions in descending weight order,
// ties in input order, pads with (0, 0) and scales the kept weights to sum to 1.
// Negative and NaN weights count as 0. When the kept weights sum to 0 they stay 0.
func Normalize(contribs []model.Influence) model.Influences {
	sorted := slices.Clone(contribs)
	for i := range sorted {
		if !(sorted[i].Weight > 0) {
			sorted[i].Weight = 0
		}
	}
	slices.SortStableFunc(sorted, func(a, b model.Influence) int {
		return cmp.Compare(b.Weight, a.Weight)
	})

	var out model.Influences
	n := copy(out[:], sorted)

	var sum float32
	for i := 0; i < n; i++ {
		sum += out[i].Weight
	}
	if sum == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		out[i].Weight /= sum
	}
	return out
}
