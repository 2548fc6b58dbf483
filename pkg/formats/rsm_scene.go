package formats

import (
	"fmt"
	"slices"

	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/math"
	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
)

// RSMOptions controls how RSM faces are emitted.
type RSMOptions struct {
	ReverseWinding   bool // Emit front faces clockwise
	ForceAllTwoSided bool // Emit a back face for every face
}

// UntexturedMaterial names the material of faces whose texture index is out of range.
const UntexturedMaterial = "rsm:untextured"

// NewRSMScene converts a parsed RSM model into a static scene graph.
// Every RSM node becomes a group node whose children are the sub-nodes and one mesh node
// per texture. Vertex positions are baked into model space with Y pointing up.
func NewRSMScene(rsm *RSM, opts RSMOptions) (*Scene, error) {
	scene := newScene()
	b := &rsmSceneBuilder{
		rsm:      rsm,
		opts:     opts,
		scene:    scene,
		nodes:    make([]*scenegraph.Node, len(rsm.Nodes)),
		matrices: make([]math.Mat4, len(rsm.Nodes)),
		state:    make([]uint8, len(rsm.Nodes)),
		cyclic:   make([]bool, len(rsm.Nodes)),
	}

	byName := make(map[string]int, len(rsm.Nodes))
	for i := range rsm.Nodes {
		if _, dup := byName[rsm.Nodes[i].Name]; !dup {
			byName[rsm.Nodes[i].Name] = i
		}
		b.nodes[i] = &scenegraph.Node{Name: rsm.Nodes[i].Name, Kind: scenegraph.KindOther}
	}
	b.byName = byName

	for i := range rsm.Nodes {
		b.nodeMatrix(i)
	}

	for i := range rsm.Nodes {
		meshes, err := b.buildMeshes(i)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", rsm.Nodes[i].Name, err)
		}
		b.nodes[i].Children = append(b.nodes[i].Children, meshes...)
	}

	// Attach children in file order. A node whose parent chain loops is promoted to a root.
	for i := range rsm.Nodes {
		p := b.parentOf(i)
		if p < 0 {
			scene.Nodes = append(scene.Nodes, b.nodes[i])
			continue
		}
		b.nodes[p].Children = append(b.nodes[p].Children, b.nodes[i])
	}

	return scene, nil
}

type rsmSceneBuilder struct {
	rsm    *RSM
	opts   RSMOptions
	scene  *Scene
	byName map[string]int
	nodes  []*scenegraph.Node

	// matrices holds each node's hierarchy transform, without its Offset and Matrix.
	matrices []math.Mat4
	state    []uint8 // 0 pending, 1 in progress, 2 done
	cyclic   []bool
}

// parentOf returns the index of the parent of node i, or -1 for roots and nodes in a cycle.
func (b *rsmSceneBuilder) parentOf(i int) int {
	n := &b.rsm.Nodes[i]
	if n.Parent == "" || n.Parent == n.Name {
		return -1
	}
	p, ok := b.byName[n.Parent]
	if !ok || p == i || b.cyclic[i] {
		return -1
	}
	return p
}

// nodeMatrix computes parent * translate(Position) * rotation * scale for node i.
func (b *rsmSceneBuilder) nodeMatrix(i int) math.Mat4 {
	switch b.state[i] {
	case 2:
		return b.matrices[i]
	case 1:
		b.cyclic[i] = true
		return math.Identity()
	}
	b.state[i] = 1

	n := &b.rsm.Nodes[i]
	rot := math.QuatIdentity()
	if len(n.RotKeys) > 0 {
		rot = math.QuatFromArray(n.RotKeys[0].Quaternion)
	} else if axis := math.V3(n.RotAxis); n.RotAngle != 0 && axis.Length() > 1e-6 {
		rot = math.QuatFromAxisAngle(axis.Normalize(), n.RotAngle)
	}
	local := math.Compose(math.V3(n.Position), rot, math.V3(n.Scale))

	m := local
	if p := b.parentOf(i); p >= 0 {
		parent := b.nodeMatrix(p)
		if !b.cyclic[i] {
			m = parent.Mul(local)
		}
	}
	b.matrices[i] = m
	b.state[i] = 2
	return m
}

func (b *rsmSceneBuilder) buildMeshes(i int) ([]*scenegraph.Node, error) {
	n := &b.rsm.Nodes[i]
	meshMatrix := b.matrices[i].
		Mul(math.Translate(n.Offset[0], n.Offset[1], n.Offset[2])).
		Mul(math.FromMat3x3(n.Matrix))

	positions := make([][3]float32, len(n.Vertices))
	for vi, v := range n.Vertices {
		p := meshMatrix.TransformPoint(v)
		p[1] = -p[1]
		positions[vi] = p
	}

	groups := make(map[int]*scenegraph.MeshAttribute)
	for fi := range n.Faces {
		f := &n.Faces[fi]
		if int(f.VertexIDs[0]) >= len(positions) || int(f.VertexIDs[1]) >= len(positions) || int(f.VertexIDs[2]) >= len(positions) {
			return nil, fmt.Errorf("%w: face %d references vertex beyond %d", ErrTruncatedRSMData, fi, len(positions))
		}

		tex := -1
		if int(f.TextureID) < len(n.TextureIDs) {
			tex = int(n.TextureIDs[f.TextureID])
		}
		mat := b.material(tex)
		twoSided := f.TwoSide != 0 || b.opts.ForceAllTwoSided
		if twoSided {
			m := b.scene.Materials[mat]
			m.DoubleSided = true
			b.scene.Materials[mat] = m
		}

		g := groups[tex]
		if g == nil {
			g = &scenegraph.MeshAttribute{
				Material:          mat,
				ControlPointCount: len(n.Vertices),
			}
			groups[tex] = g
		}

		order := [3]int{0, 1, 2}
		if b.opts.ReverseWinding {
			order = [3]int{2, 1, 0}
		}
		emitFace(g, n, f, positions, order)
		if twoSided {
			emitFace(g, n, f, positions, [3]int{order[2], order[1], order[0]})
		}
	}

	keys := make([]int, 0, len(groups))
	for tex := range groups {
		keys = append(keys, tex)
	}
	slices.Sort(keys)

	out := make([]*scenegraph.Node, 0, len(keys))
	for _, tex := range keys {
		g := groups[tex]
		if len(g.Positions) == 0 {
			continue
		}
		out = append(out, &scenegraph.Node{
			Name: fmt.Sprintf("%s#%d", n.Name, len(out)),
			Kind: scenegraph.KindMesh,
			Mesh: g,
		})
	}
	return out, nil
}

// emitFace appends one triangle in the given corner order with a flat normal.
// Degenerate triangles are dropped.
func emitFace(attr *scenegraph.MeshAttribute, n *RSMNode, f *RSMFace, positions [][3]float32, order [3]int) {
	p0 := math.V3(positions[f.VertexIDs[order[0]]])
	p1 := math.V3(positions[f.VertexIDs[order[1]]])
	p2 := math.V3(positions[f.VertexIDs[order[2]]])
	normal := p1.Sub(p0).Cross(p2.Sub(p0))
	if normal.Length() < 1e-5 {
		return
	}
	nrm := normal.Normalize().Array()

	for _, c := range order {
		vid := f.VertexIDs[c]
		var uv [2]float32
		if tid := int(f.TexCoordIDs[c]); tid < len(n.TexCoords) {
			uv = [2]float32{n.TexCoords[tid].U, n.TexCoords[tid].V}
		}
		attr.Positions = append(attr.Positions, positions[vid])
		attr.Normals = append(attr.Normals, nrm)
		attr.TexCoords = append(attr.TexCoords, uv)
		attr.PolygonVertexControlPoints = append(attr.PolygonVertexControlPoints, int(vid))
	}
}

// material registers and returns the material name of global texture index tex.
func (b *rsmSceneBuilder) material(tex int) string {
	name, texture := UntexturedMaterial, ""
	if tex >= 0 && tex < len(b.rsm.Textures) {
		texture = b.rsm.Textures[tex]
		name = encoding.NormalizeAssetPath(texture)
	}
	if _, ok := b.scene.Materials[name]; !ok {
		b.scene.Materials.Add(scenegraph.Material{
			Name:           name,
			OpacityEnabled: b.rsm.Alpha < 1,
			DiffuseTexture: texture,
		})
	}
	return name
}
