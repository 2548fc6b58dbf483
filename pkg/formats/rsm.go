// Package formats reads model files into scene graphs the importer can assemble.
package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	gomath "math"
	"os"

	"github.com/Faultbox/midgard-assets/pkg/encoding"
)

// RSM format errors.
var (
	ErrInvalidRSMMagic       = errors.New("invalid RSM magic: expected 'GRSM'")
	ErrUnsupportedRSMVersion = errors.New("unsupported RSM version")
	ErrTruncatedRSMData      = errors.New("truncated RSM data")
	ErrInvalidNodeCount      = errors.New("invalid RSM node count")
)

const (
	rsmNameSize    = 40
	rsmMaxNodes    = 10000
	rsmMaxTextures = 1000
)

// RSMVersion represents the RSM file version.
type RSMVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v RSMVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast returns true if version is >= major.minor.
func (v RSMVersion) AtLeast(major, minor uint8) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// RSMShadingType represents the shading mode for rendering.
type RSMShadingType int32

const (
	RSMShadingNone   RSMShadingType = 0
	RSMShadingFlat   RSMShadingType = 1
	RSMShadingSmooth RSMShadingType = 2
)

// String returns a human-readable shading type name.
func (s RSMShadingType) String() string {
	switch s {
	case RSMShadingNone:
		return "None"
	case RSMShadingFlat:
		return "Flat"
	case RSMShadingSmooth:
		return "Smooth"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// RSMTexCoord represents a texture coordinate with its vertex color.
type RSMTexCoord struct {
	Color [4]uint8 // RGBA, white before v1.2
	U, V  float32
}

// RSMFace represents a triangle.
type RSMFace struct {
	VertexIDs   [3]uint16
	TexCoordIDs [3]uint16
	TextureID   uint16 // Index into the node's TextureIDs
	TwoSide     int32
	SmoothGroup int32 // v1.2+
}

// RSMRotKeyframe represents a rotation keyframe. The importer uses the first one as the rest pose.
type RSMRotKeyframe struct {
	Frame      int32
	Quaternion [4]float32 // X, Y, Z, W
}

// RSMNode represents a node of the model hierarchy.
type RSMNode struct {
	Name       string
	Parent     string // Empty or equal to Name for the root
	TextureIDs []int32

	Matrix   [9]float32 // 3x3 mesh transform, applied before Offset
	Offset   [3]float32
	Position [3]float32
	RotAngle float32
	RotAxis  [3]float32
	Scale    [3]float32

	Vertices  [][3]float32
	TexCoords []RSMTexCoord
	Faces     []RSMFace

	RotKeys []RSMRotKeyframe

	// Position and scale keyframes are skipped; only their counts are kept.
	PosKeyCount   int
	ScaleKeyCount int
}

// RSMVolumeBox represents a collision volume.
type RSMVolumeBox struct {
	Size     [3]float32
	Position [3]float32
	Rotation [3]float32
	Flag     int32 // v1.3+
}

// RSM represents a parsed RSM (Resource Model) file.
type RSM struct {
	Version     RSMVersion
	AnimLength  int32 // Milliseconds
	Shading     RSMShadingType
	Alpha       float32 // 0-1, 1 before v1.4
	Textures    []string
	RootNode    string
	Nodes       []RSMNode
	VolumeBoxes []RSMVolumeBox
}

// rsmReader decodes little-endian fields. The first short read is sticky: later reads
// return zero values and err reports where decoding stopped.
type rsmReader struct {
	data []byte
	off  int
	err  error
}

func (r *rsmReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedRSMData, n, r.off, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *rsmReader) remaining() int {
	return len(r.data) - r.off
}

func (r *rsmReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *rsmReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *rsmReader) i32() int32 {
	if b := r.take(4); b != nil {
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (r *rsmReader) f32() float32 {
	if b := r.take(4); b != nil {
		return gomath.Float32frombits(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (r *rsmReader) vec3() [3]float32 {
	return [3]float32{r.f32(), r.f32(), r.f32()}
}

// name reads a fixed-size EUC-KR string.
func (r *rsmReader) name() string {
	if b := r.take(rsmNameSize); b != nil {
		return encoding.FixedStringToUTF8(b)
	}
	return ""
}

// count reads an element count and checks that count elements of elemSize bytes fit
// in the remaining data.
func (r *rsmReader) count(elemSize int) int {
	n := r.i32()
	if r.err != nil {
		return 0
	}
	if n < 0 || int64(n)*int64(elemSize) > int64(r.remaining()) {
		r.err = fmt.Errorf("%w: %d elements of %d bytes at offset %d", ErrTruncatedRSMData, n, elemSize, r.off-4)
		return 0
	}
	return int(n)
}

// ParseRSM parses RSM data from a byte slice. Versions 1.1 through 1.5 are supported.
func ParseRSM(data []byte) (*RSM, error) {
	r := &rsmReader{data: data}

	magic := r.take(4)
	if r.err != nil {
		return nil, r.err
	}
	if string(magic) != "GRSM" {
		return nil, ErrInvalidRSMMagic
	}

	rsm := &RSM{Version: RSMVersion{Major: r.u8(), Minor: r.u8()}}
	if r.err != nil {
		return nil, r.err
	}
	if rsm.Version.Major != 1 || rsm.Version.Minor < 1 || rsm.Version.Minor > 5 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRSMVersion, rsm.Version)
	}

	rsm.AnimLength = r.i32()
	rsm.Shading = RSMShadingType(r.i32())
	rsm.Alpha = 1
	if rsm.Version.AtLeast(1, 4) {
		rsm.Alpha = float32(r.u8()) / 255
	}
	r.take(16) // reserved

	textureCount := r.count(rsmNameSize)
	if textureCount > rsmMaxTextures {
		return nil, fmt.Errorf("%w: %d textures", ErrTruncatedRSMData, textureCount)
	}
	rsm.Textures = make([]string, textureCount)
	for i := range rsm.Textures {
		rsm.Textures[i] = r.name()
	}

	rsm.RootNode = r.name()

	nodeCount := r.i32()
	if r.err != nil {
		return nil, r.err
	}
	if nodeCount < 0 || nodeCount > rsmMaxNodes {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNodeCount, nodeCount)
	}

	rsm.Nodes = make([]RSMNode, nodeCount)
	for i := range rsm.Nodes {
		readRSMNode(r, rsm.Version, &rsm.Nodes[i])
		if r.err != nil {
			return nil, fmt.Errorf("parsing node %d: %w", i, r.err)
		}
	}

	// Volume boxes are optional trailing data.
	if r.remaining() >= 4 {
		boxSize := 36
		if rsm.Version.AtLeast(1, 3) {
			boxSize += 4
		}
		n := r.count(boxSize)
		rsm.VolumeBoxes = make([]RSMVolumeBox, n)
		for i := range rsm.VolumeBoxes {
			box := &rsm.VolumeBoxes[i]
			box.Size = r.vec3()
			box.Position = r.vec3()
			box.Rotation = r.vec3()
			if rsm.Version.AtLeast(1, 3) {
				box.Flag = r.i32()
			}
		}
		if r.err != nil {
			return nil, fmt.Errorf("parsing volume boxes: %w", r.err)
		}
	}

	return rsm, nil
}

func readRSMNode(r *rsmReader, version RSMVersion, node *RSMNode) {
	node.Name = r.name()
	node.Parent = r.name()

	node.TextureIDs = make([]int32, r.count(4))
	for i := range node.TextureIDs {
		node.TextureIDs[i] = r.i32()
	}

	for i := range node.Matrix {
		node.Matrix[i] = r.f32()
	}
	node.Offset = r.vec3()
	node.Position = r.vec3()
	node.RotAngle = r.f32()
	node.RotAxis = r.vec3()
	node.Scale = r.vec3()

	node.Vertices = make([][3]float32, r.count(12))
	for i := range node.Vertices {
		node.Vertices[i] = r.vec3()
	}

	tcSize := 8
	if version.AtLeast(1, 2) {
		tcSize += 4
	}
	node.TexCoords = make([]RSMTexCoord, r.count(tcSize))
	for i := range node.TexCoords {
		tc := &node.TexCoords[i]
		tc.Color = [4]uint8{255, 255, 255, 255}
		if version.AtLeast(1, 2) {
			tc.Color = [4]uint8{r.u8(), r.u8(), r.u8(), r.u8()}
		}
		tc.U = r.f32()
		tc.V = r.f32()
	}

	faceSize := 20
	if version.AtLeast(1, 2) {
		faceSize += 4
	}
	node.Faces = make([]RSMFace, r.count(faceSize))
	for i := range node.Faces {
		f := &node.Faces[i]
		f.VertexIDs = [3]uint16{r.u16(), r.u16(), r.u16()}
		f.TexCoordIDs = [3]uint16{r.u16(), r.u16(), r.u16()}
		f.TextureID = r.u16()
		r.u16() // padding
		f.TwoSide = r.i32()
		if version.AtLeast(1, 2) {
			f.SmoothGroup = r.i32()
		}
	}

	if !version.AtLeast(1, 5) {
		node.PosKeyCount = r.count(16)
		r.take(node.PosKeyCount * 16)
	}

	node.RotKeys = make([]RSMRotKeyframe, r.count(20))
	for i := range node.RotKeys {
		k := &node.RotKeys[i]
		k.Frame = r.i32()
		k.Quaternion = [4]float32{r.f32(), r.f32(), r.f32(), r.f32()}
	}

	if version.AtLeast(1, 5) {
		node.ScaleKeyCount = r.count(20)
		r.take(node.ScaleKeyCount * 20)
	}
}

// ParseRSMFile parses an RSM file from disk.
func ParseRSMFile(path string) (*RSM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading RSM file: %w", err)
	}
	return ParseRSM(data)
}

// TotalVertexCount returns the number of vertices across all nodes.
func (rsm *RSM) TotalVertexCount() int {
	total := 0
	for i := range rsm.Nodes {
		total += len(rsm.Nodes[i].Vertices)
	}
	return total
}

// TotalFaceCount returns the number of faces across all nodes.
func (rsm *RSM) TotalFaceCount() int {
	total := 0
	for i := range rsm.Nodes {
		total += len(rsm.Nodes[i].Faces)
	}
	return total
}

// NodeByName returns the named node, or nil.
func (rsm *RSM) NodeByName(name string) *RSMNode {
	for i := range rsm.Nodes {
		if rsm.Nodes[i].Name == name {
			return &rsm.Nodes[i]
		}
	}
	return nil
}

// IsRoot reports whether n has no parent inside the model.
func (rsm *RSM) IsRoot(n *RSMNode) bool {
	return n.Parent == "" || n.Parent == n.Name || rsm.NodeByName(n.Parent) == nil
}
