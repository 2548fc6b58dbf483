package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrStreamLength is returned when attribute streams do not have one entry per polygon-vertex.
var ErrStreamLength = errors.New("attribute stream length mismatch")

// Streams are the parallel per-polygon-vertex attribute arrays of one mesh.
// TexCoords and Influences may be empty, in which case zero values are used.
type Streams struct {
	Positions  [][3]float32
	Normals    [][3]float32
	TexCoords  [][2]float32
	Influences []Influences
}

// Optimized is the deduplicated vertex buffer and its index buffer.
type Optimized struct {
	Vertices []Vertex
	Indices  []uint32
	Bounds   Bounds
}

// vertexKey is the bit pattern of every Vertex field. Equal keys mean bit-identical vertices,
// so -0 and +0 stay distinct and NaN payloads compare by value.
type vertexKey [16]uint32

func keyOf(v *Vertex) vertexKey {
	var k vertexKey
	k[0] = math.Float32bits(v.Position[0])
	k[1] = math.Float32bits(v.Position[1])
	k[2] = math.Float32bits(v.Position[2])
	k[3] = math.Float32bits(v.Normal[0])
	k[4] = math.Float32bits(v.Normal[1])
	k[5] = math.Float32bits(v.Normal[2])
	k[6] = math.Float32bits(v.TexCoord[0])
	k[7] = math.Float32bits(v.TexCoord[1])
	for i, inf := range v.Influences {
		k[8+i*2] = uint32(inf.Slot)
		k[9+i*2] = math.Float32bits(inf.Weight)
	}
	return k
}

// Equal reports whether two vertices are bit-identical in every field.
func (v Vertex) Equal(other Vertex) bool {
	return keyOf(&v) == keyOf(&other)
}

// Validate checks that every non-empty stream has one entry per position.
func (s Streams) Validate() error {
	n := len(s.Positions)
	if len(s.Normals) != n {
		return fmt.Errorf("%w: %d normals for %d positions", ErrStreamLength, len(s.Normals), n)
	}
	if len(s.TexCoords) != 0 && len(s.TexCoords) != n {
		return fmt.Errorf("%w: %d uvs for %d positions", ErrStreamLength, len(s.TexCoords), n)
	}
	if len(s.Influences) != 0 && len(s.Influences) != n {
		return fmt.Errorf("%w: %d influence tables for %d positions", ErrStreamLength, len(s.Influences), n)
	}
	return nil
}

// Optimize merges bit-identical polygon-vertices into a shared vertex list.
// indices[i] addresses the vertex built from entry i of every stream; vertices keep
// the order in which they were first seen.
func Optimize(s Streams) (*Optimized, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	n := len(s.Positions)

	out := &Optimized{
		Indices: make([]uint32, n),
		Bounds:  emptyBounds(),
	}
	seen := make(map[vertexKey]uint32, n)

	for i := 0; i < n; i++ {
		v := Vertex{
			Position: s.Positions[i],
			Normal:   s.Normals[i],
		}
		if len(s.TexCoords) != 0 {
			v.TexCoord = s.TexCoords[i]
		}
		if len(s.Influences) != 0 {
			v.Influences = s.Influences[i]
		}

		k := keyOf(&v)
		idx, ok := seen[k]
		if !ok {
			idx = uint32(len(out.Vertices))
			seen[k] = idx
			out.Vertices = append(out.Vertices, v)
			updateBounds(&out.Bounds, v.Position)
		}
		out.Indices[i] = idx
	}

	if len(out.Vertices) == 0 {
		out.Bounds = Bounds{}
	}
	return out, nil
}

// NewMesh wraps an optimization result into a Mesh.
// A mesh is skinned when it carries at least one joint name.
func NewMesh(name, material string, opt *Optimized, jointNames []string) *Mesh {
	return &Mesh{
		Name:       name,
		Material:   material,
		Vertices:   opt.Vertices,
		Indices:    opt.Indices,
		JointNames: jointNames,
		Skinned:    len(jointNames) > 0,
		Bounds:     opt.Bounds,
	}
}
