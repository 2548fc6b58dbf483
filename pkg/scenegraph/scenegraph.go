// Package scenegraph defines the already-parsed scene description consumed by the importer.
//
// A format reader (glTF, RSM, FBX, ...) turns its file into a tree of Nodes. Mesh nodes carry
// one entry per polygon-vertex in each attribute stream, together with the polygon-vertex to
// control-point map and an optional skin deformer.
package scenegraph

import (
	"fmt"

	"github.com/Faultbox/midgard-assets/pkg/math"
)

// Kind tags what a node represents.
type Kind int

const (
	KindOther Kind = iota // Grouping or unsupported node
	KindJoint             // Skeletal joint
	KindMesh              // Mesh geometry
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindOther:
		return "Other"
	case KindJoint:
		return "Joint"
	case KindMesh:
		return "Mesh"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// SceneGraph is the input contract of the importer.
type SceneGraph interface {
	Roots() []*Node
}

// Node is one element of the imported node tree.
type Node struct {
	Name     string
	Kind     Kind
	Joint    *JointAttribute // Required when Kind is KindJoint
	Mesh     *MeshAttribute  // Required when Kind is KindMesh
	Children []*Node
}

// JointAttribute holds the data of a skeletal joint node.
type JointAttribute struct {
	Local math.Mat4 // Parent-relative rest transform
}

// MeshAttribute holds per-polygon-vertex geometry streams of a mesh node.
type MeshAttribute struct {
	Material string

	Positions [][3]float32 // One per polygon-vertex
	Normals   [][3]float32 // One per polygon-vertex
	TexCoords [][2]float32 // UV0; empty when the mesh has no UV set

	// PolygonVertexControlPoints maps every polygon-vertex to its control point.
	PolygonVertexControlPoints []int
	ControlPointCount          int

	Skin *SkinDeformer // nil for rigid meshes
}

// PolygonVertexCount returns the number of polygon-vertices of the mesh.
func (m *MeshAttribute) PolygonVertexCount() int {
	return len(m.Positions)
}

// SkinDeformer is the skin attached to a mesh.
type SkinDeformer struct {
	Geometry math.Mat4 // Mesh geometric transform at bind time
	Clusters []Cluster
}

// Cluster binds a set of control points to one joint.
type Cluster struct {
	Joint     string
	Weights   []ControlPointWeight
	Link      math.Mat4 // Joint world transform at bind time
	Reference math.Mat4 // Mesh world transform at bind time
}

// ControlPointWeight is the influence of a cluster on a single control point.
type ControlPointWeight struct {
	Index  int
	Weight float32
}

// Graph is a SceneGraph held in memory.
type Graph struct {
	Nodes []*Node
}

// Roots returns the top-level nodes.
func (g *Graph) Roots() []*Node {
	return g.Nodes
}

// Walk visits nodes in pre-order. Returning false from fn skips the node's children.
func Walk(roots []*Node, fn func(n *Node, depth int) bool) {
	for _, n := range roots {
		walk(n, 0, fn)
	}
}

func walk(n *Node, depth int, fn func(*Node, int) bool) {
	if n == nil {
		return
	}
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		walk(c, depth+1, fn)
	}
}

// Count returns the number of nodes of the given kind.
func Count(g SceneGraph, kind Kind) int {
	n := 0
	Walk(g.Roots(), func(node *Node, _ int) bool {
		if node.Kind == kind {
			n++
		}
		return true
	})
	return n
}
