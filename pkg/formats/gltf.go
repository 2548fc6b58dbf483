package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/midgard-assets/pkg/math"
	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
)

// ErrInvalidGLTFSkin is returned when skin data references joints or matrices that do not exist.
var ErrInvalidGLTFSkin = errors.New("invalid glTF skin")

// DefaultGLTFMaterial names the material of primitives without one.
const DefaultGLTFMaterial = "gltf:default"

// LoadGLTF opens a .gltf or .glb file and converts it into a scene graph.
func LoadGLTF(path string) (*Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening glTF: %w", err)
	}
	return NewGLTFScene(doc)
}

// NewGLTFScene converts a glTF document.
//
// Skin joints become joint nodes carrying their local TRS. Every primitive becomes a mesh node
// under its glTF node, with indexed streams expanded to one entry per corner; the glTF vertex
// index is the control point. Rigid primitives are baked into world space. Skinned primitives
// stay in bind space and get one cluster per skin joint, so influence slots match glTF joint indices.
func NewGLTFScene(doc *gltf.Document) (*Scene, error) {
	b := &gltfSceneBuilder{
		doc:       doc,
		scene:     newScene(),
		names:     make([]string, len(doc.Nodes)),
		isJoint:   make([]bool, len(doc.Nodes)),
		materials: make([]string, len(doc.Materials)),
		bindPoses: make(map[int][]math.Mat4),
	}

	b.nameNodes()
	b.addMaterials()
	for _, s := range doc.Skins {
		for _, j := range s.Joints {
			if int(j) < 0 || int(j) >= len(doc.Nodes) {
				return nil, fmt.Errorf("%w: joint node %d of %d", ErrInvalidGLTFSkin, j, len(doc.Nodes))
			}
			b.isJoint[int(j)] = true
		}
	}

	for _, root := range b.rootNodes() {
		n, err := b.convertNode(root, math.Identity(), 0)
		if err != nil {
			return nil, err
		}
		b.scene.Nodes = append(b.scene.Nodes, n)
	}
	return b.scene, nil
}

type gltfSceneBuilder struct {
	doc       *gltf.Document
	scene     *Scene
	names     []string // Unique node names
	isJoint   []bool
	materials []string // glTF material index -> material name
	bindPoses map[int][]math.Mat4
}

func (b *gltfSceneBuilder) nameNodes() {
	used := make(map[string]bool, len(b.doc.Nodes))
	for i, n := range b.doc.Nodes {
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("node_%d", i)
		}
		if used[name] {
			name = fmt.Sprintf("%s_%d", name, i)
		}
		used[name] = true
		b.names[i] = name
	}
}

func (b *gltfSceneBuilder) addMaterials() {
	for i, m := range b.doc.Materials {
		name := m.Name
		if name == "" {
			name = fmt.Sprintf("material_%d", i)
		}
		if _, dup := b.scene.Materials[name]; dup {
			name = fmt.Sprintf("%s_%d", name, i)
		}
		b.materials[i] = name
		b.scene.Materials.Add(scenegraph.Material{
			Name:           name,
			OpacityEnabled: m.AlphaMode == gltf.AlphaBlend,
			DoubleSided:    m.DoubleSided,
			DiffuseTexture: b.baseColorImage(m),
		})
	}
}

func (b *gltfSceneBuilder) baseColorImage(m *gltf.Material) string {
	if m.PBRMetallicRoughness == nil || m.PBRMetallicRoughness.BaseColorTexture == nil {
		return ""
	}
	ti := int(m.PBRMetallicRoughness.BaseColorTexture.Index)
	if ti < 0 || ti >= len(b.doc.Textures) || b.doc.Textures[ti].Source == nil {
		return ""
	}
	ii := int(*b.doc.Textures[ti].Source)
	if ii < 0 || ii >= len(b.doc.Images) {
		return ""
	}
	img := b.doc.Images[ii]
	if img.URI != "" && !img.IsEmbeddedResource() {
		return img.URI
	}
	return img.Name
}

// rootNodes returns the nodes of the default scene, or every node without a parent.
func (b *gltfSceneBuilder) rootNodes() []int {
	if b.doc.Scene != nil && int(*b.doc.Scene) < len(b.doc.Scenes) {
		var roots []int
		for _, n := range b.doc.Scenes[int(*b.doc.Scene)].Nodes {
			roots = append(roots, int(n))
		}
		return roots
	}

	hasParent := make([]bool, len(b.doc.Nodes))
	for _, n := range b.doc.Nodes {
		for _, c := range n.Children {
			if int(c) < len(hasParent) {
				hasParent[int(c)] = true
			}
		}
	}
	var roots []int
	for i := range b.doc.Nodes {
		if !hasParent[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

// localMatrix returns the node's matrix, or T * R * S when no matrix is set.
func localMatrix(n *gltf.Node) math.Mat4 {
	if m := n.MatrixOrDefault(); m != gltf.DefaultMatrix {
		var out math.Mat4
		for i := range out {
			out[i] = float32(m[i])
		}
		return out
	}

	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	rot := mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}.Normalize()
	m := mgl32.Translate3D(float32(t[0]), float32(t[1]), float32(t[2])).
		Mul4(rot.Mat4()).
		Mul4(mgl32.Scale3D(float32(s[0]), float32(s[1]), float32(s[2])))
	return math.Mat4(m)
}

func (b *gltfSceneBuilder) convertNode(idx int, parentWorld math.Mat4, depth int) (*scenegraph.Node, error) {
	if idx < 0 || idx >= len(b.doc.Nodes) || depth > len(b.doc.Nodes) {
		return nil, fmt.Errorf("invalid glTF node reference %d", idx)
	}
	src := b.doc.Nodes[idx]
	local := localMatrix(src)
	world := parentWorld.Mul(local)

	n := &scenegraph.Node{Name: b.names[idx], Kind: scenegraph.KindOther}
	if b.isJoint[idx] {
		n.Kind = scenegraph.KindJoint
		n.Joint = &scenegraph.JointAttribute{Local: local}
	}

	if src.Mesh != nil {
		meshes, err := b.convertMesh(idx, world)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		n.Children = append(n.Children, meshes...)
	}

	for _, c := range src.Children {
		child, err := b.convertNode(int(c), world, depth+1)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

func (b *gltfSceneBuilder) convertMesh(nodeIdx int, world math.Mat4) ([]*scenegraph.Node, error) {
	src := b.doc.Nodes[nodeIdx]
	mi := int(*src.Mesh)
	if mi < 0 || mi >= len(b.doc.Meshes) {
		return nil, fmt.Errorf("mesh %d out of range", mi)
	}
	mesh := b.doc.Meshes[mi]

	var skin *gltf.Skin
	if src.Skin != nil {
		si := int(*src.Skin)
		if si < 0 || si >= len(b.doc.Skins) {
			return nil, fmt.Errorf("%w: skin %d out of range", ErrInvalidGLTFSkin, si)
		}
		skin = b.doc.Skins[si]
	}

	name := mesh.Name
	if name == "" {
		name = b.names[nodeIdx]
	}

	var out []*scenegraph.Node
	for pi, prim := range mesh.Primitives {
		attr, err := b.convertPrimitive(prim, skin, src.Skin, world)
		if err != nil {
			return nil, fmt.Errorf("primitive %d of mesh %q: %w", pi, name, err)
		}
		out = append(out, &scenegraph.Node{
			Name: fmt.Sprintf("%s#%d", name, pi),
			Kind: scenegraph.KindMesh,
			Mesh: attr,
		})
	}
	return out, nil
}

func (b *gltfSceneBuilder) accessor(attrs map[string]int, key string) *gltf.Accessor {
	i, ok := attrs[key]
	if !ok || i < 0 || i >= len(b.doc.Accessors) {
		return nil
	}
	return b.doc.Accessors[i]
}

func (b *gltfSceneBuilder) convertPrimitive(prim *gltf.Primitive, skin *gltf.Skin, skinIdx *int, world math.Mat4) (*scenegraph.MeshAttribute, error) {
	if prim.Mode != gltf.PrimitiveTriangles {
		return nil, fmt.Errorf("%w: mode %v", ErrUnsupportedPrimitive, prim.Mode)
	}

	attrs := make(map[string]int, len(prim.Attributes))
	for k, v := range prim.Attributes {
		attrs[k] = int(v)
	}

	posAcr := b.accessor(attrs, gltf.POSITION)
	if posAcr == nil {
		return nil, fmt.Errorf("%w: no POSITION attribute", ErrUnsupportedPrimitive)
	}
	positions, err := modeler.ReadPosition(b.doc, posAcr, nil)
	if err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}
	var normals [][3]float32
	if acr := b.accessor(attrs, gltf.NORMAL); acr != nil {
		if normals, err = modeler.ReadNormal(b.doc, acr, nil); err != nil {
			return nil, fmt.Errorf("reading normals: %w", err)
		}
	}
	var uvs [][2]float32
	if acr := b.accessor(attrs, gltf.TEXCOORD_0); acr != nil {
		if uvs, err = modeler.ReadTextureCoord(b.doc, acr, nil); err != nil {
			return nil, fmt.Errorf("reading texture coordinates: %w", err)
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		ii := int(*prim.Indices)
		if ii < 0 || ii >= len(b.doc.Accessors) {
			return nil, fmt.Errorf("%w: index accessor %d out of range", ErrUnsupportedPrimitive, ii)
		}
		if indices, err = modeler.ReadIndices(b.doc, b.doc.Accessors[ii], nil); err != nil {
			return nil, fmt.Errorf("reading indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices is not a triangle list", ErrUnsupportedPrimitive, len(indices))
	}

	attr := &scenegraph.MeshAttribute{
		Material:                   b.primitiveMaterial(prim),
		ControlPointCount:          len(positions),
		Positions:                  make([][3]float32, len(indices)),
		Normals:                    make([][3]float32, len(indices)),
		PolygonVertexControlPoints: make([]int, len(indices)),
	}
	if uvs != nil {
		attr.TexCoords = make([][2]float32, len(indices))
	}

	// Rigid primitives are baked into world space; skinned ones stay in bind space.
	xf, nxf := world, world.NormalMatrix()
	if skin != nil {
		xf, nxf = math.Identity(), math.Identity()
	}

	for i, vi := range indices {
		v := int(vi)
		if v >= len(positions) {
			return nil, fmt.Errorf("%w: index %d beyond %d vertices", ErrUnsupportedPrimitive, v, len(positions))
		}
		attr.PolygonVertexControlPoints[i] = v
		attr.Positions[i] = xf.TransformPoint(positions[v])
		if v < len(normals) {
			attr.Normals[i] = math.V3(nxf.TransformDirection(normals[v])).Normalize().Array()
		}
		if v < len(uvs) {
			attr.TexCoords[i] = uvs[v]
		}
	}
	if normals == nil {
		flatNormals(attr)
	}

	if skin != nil {
		if attr.Skin, err = b.skinDeformer(prim, attrs, skin, int(*skinIdx), len(positions)); err != nil {
			return nil, err
		}
	}
	return attr, nil
}

func (b *gltfSceneBuilder) primitiveMaterial(prim *gltf.Primitive) string {
	if prim.Material != nil {
		if mi := int(*prim.Material); mi >= 0 && mi < len(b.materials) {
			return b.materials[mi]
		}
	}
	if _, ok := b.scene.Materials[DefaultGLTFMaterial]; !ok {
		b.scene.Materials.Add(scenegraph.Material{Name: DefaultGLTFMaterial})
	}
	return DefaultGLTFMaterial
}

// flatNormals fills the normals of a primitive that has none with per-triangle normals.
func flatNormals(attr *scenegraph.MeshAttribute) {
	for i := 0; i+2 < len(attr.Positions); i += 3 {
		p0 := math.V3(attr.Positions[i])
		n := math.V3(attr.Positions[i+1]).Sub(p0).Cross(math.V3(attr.Positions[i+2]).Sub(p0)).Normalize().Array()
		attr.Normals[i], attr.Normals[i+1], attr.Normals[i+2] = n, n, n
	}
}

func (b *gltfSceneBuilder) skinDeformer(prim *gltf.Primitive, attrs map[string]int, skin *gltf.Skin, skinIdx, vertexCount int) (*scenegraph.SkinDeformer, error) {
	ibms, err := b.inverseBindMatrices(skin, skinIdx)
	if err != nil {
		return nil, err
	}

	def := &scenegraph.SkinDeformer{
		Geometry: math.Identity(),
		Clusters: make([]scenegraph.Cluster, len(skin.Joints)),
	}
	for slot, j := range skin.Joints {
		def.Clusters[slot] = scenegraph.Cluster{
			Joint:     b.names[int(j)],
			Link:      ibms[slot].AffineInverse(),
			Reference: math.Identity(),
		}
	}

	jAcr := b.accessor(attrs, gltf.JOINTS_0)
	wAcr := b.accessor(attrs, gltf.WEIGHTS_0)
	if jAcr == nil || wAcr == nil {
		return def, nil
	}
	joints, err := modeler.ReadJoints(b.doc, jAcr, nil)
	if err != nil {
		return nil, fmt.Errorf("reading joints: %w", err)
	}
	weights, err := modeler.ReadWeights(b.doc, wAcr, nil)
	if err != nil {
		return nil, fmt.Errorf("reading weights: %w", err)
	}
	if len(joints) != vertexCount || len(weights) != vertexCount {
		return nil, fmt.Errorf("%w: %d joint and %d weight entries for %d vertices",
			ErrInvalidGLTFSkin, len(joints), len(weights), vertexCount)
	}

	for v := range joints {
		for k := 0; k < 4; k++ {
			w := weights[v][k]
			if w == 0 {
				continue
			}
			slot := int(joints[v][k])
			if slot >= len(def.Clusters) {
				return nil, fmt.Errorf("%w: vertex %d uses joint %d of %d", ErrInvalidGLTFSkin, v, slot, len(def.Clusters))
			}
			def.Clusters[slot].Weights = append(def.Clusters[slot].Weights, scenegraph.ControlPointWeight{Index: v, Weight: w})
		}
	}
	return def, nil
}

// inverseBindMatrices reads the skin's MAT4 float accessor. A skin without one uses identity
// matrices.
func (b *gltfSceneBuilder) inverseBindMatrices(skin *gltf.Skin, skinIdx int) ([]math.Mat4, error) {
	if m, ok := b.bindPoses[skinIdx]; ok {
		return m, nil
	}

	out := make([]math.Mat4, len(skin.Joints))
	for i := range out {
		out[i] = math.Identity()
	}
	if skin.InverseBindMatrices == nil {
		b.bindPoses[skinIdx] = out
		return out, nil
	}

	ai := int(*skin.InverseBindMatrices)
	if ai < 0 || ai >= len(b.doc.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", ErrInvalidGLTFSkin, ai)
	}
	acr := b.doc.Accessors[ai]
	if acr.BufferView == nil || acr.Type != gltf.AccessorMat4 || acr.ComponentType != gltf.ComponentFloat {
		return nil, fmt.Errorf("%w: inverse bind matrices must be a float MAT4 buffer view", ErrInvalidGLTFSkin)
	}
	if int(acr.Count) < len(skin.Joints) {
		return nil, fmt.Errorf("%w: %d inverse bind matrices for %d joints", ErrInvalidGLTFSkin, acr.Count, len(skin.Joints))
	}

	vi := int(*acr.BufferView)
	if vi < 0 || vi >= len(b.doc.BufferViews) {
		return nil, fmt.Errorf("%w: buffer view %d out of range", ErrInvalidGLTFSkin, vi)
	}
	bv := b.doc.BufferViews[vi]
	if bi := int(bv.Buffer); bi < 0 || bi >= len(b.doc.Buffers) {
		return nil, fmt.Errorf("%w: buffer %d out of range", ErrInvalidGLTFSkin, bi)
	}
	data := b.doc.Buffers[int(bv.Buffer)].Data
	stride := int(bv.ByteStride)
	if stride == 0 {
		stride = 64
	}
	base := int(bv.ByteOffset) + int(acr.ByteOffset)
	for i := range out {
		off := base + i*stride
		if off+64 > len(data) {
			return nil, fmt.Errorf("%w: inverse bind matrix %d beyond buffer end", ErrInvalidGLTFSkin, i)
		}
		out[i] = readMatrix(data[off : off+64])
	}
	b.bindPoses[skinIdx] = out
	return out, nil
}

func readMatrix(data []byte) math.Mat4 {
	var m math.Mat4
	for i := range m {
		m[i] = gomath.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return m
}
