// Package model holds the runtime mesh representation and the vertex deduplication
// that produces it.
package model

// MaxInfluences is the number of (joint slot, weight) pairs stored per vertex.
const MaxInfluences = 4

// Influence is one (joint slot, weight) pair of a vertex.
// Slot indexes the owning mesh's JointNames, not the skeleton.
type Influence struct {
	Slot   uint16
	Weight float32
}

// Influences is the fixed-size influence table of a vertex.
type Influences [MaxInfluences]Influence

// Vertex represents a mesh vertex with position, normal, texture coordinates and skin influences.
type Vertex struct {
	Position   [3]float32
	Normal     [3]float32
	TexCoord   [2]float32
	Influences Influences
}

// Mesh holds an indexed mesh ready for GPU upload.
type Mesh struct {
	Name     string // Owning node name
	Material string

	Vertices []Vertex // First-seen order
	Indices  []uint32 // One per source polygon-vertex

	JointNames []string // Influence slot -> joint name
	Skinned    bool

	Bounds Bounds
}

// Bounds holds an axis-aligned bounding box.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// emptyBounds returns inverted bounds that any point will expand.
func emptyBounds() Bounds {
	return Bounds{
		Min: [3]float32{1e10, 1e10, 1e10},
		Max: [3]float32{-1e10, -1e10, -1e10},
	}
}

func updateBounds(b *Bounds, p [3]float32) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// TriangleCount returns the number of triangles described by the index buffer.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}
