package scenegraph

// Material is the part of a material description the importer needs to sort meshes
// into draw lists.
type Material struct {
	Name           string
	OpacityEnabled bool   // Alpha blending required
	DoubleSided    bool   // Back faces are not culled
	DiffuseTexture string // Empty when the material has no diffuse map
}

// MaterialLookup resolves material names referenced by mesh nodes.
type MaterialLookup interface {
	Material(name string) (Material, bool)
}

// MaterialTable is a MaterialLookup backed by a map.
type MaterialTable map[string]Material

// Material returns the named material.
func (t MaterialTable) Material(name string) (Material, bool) {
	m, ok := t[name]
	return m, ok
}

// Add registers m under its own name.
func (t MaterialTable) Add(m Material) {
	t[m.Name] = m
}
