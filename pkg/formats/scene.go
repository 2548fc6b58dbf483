package formats

import (
	"errors"

	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
)

// ErrUnsupportedPrimitive is returned for mesh primitives that are not triangle lists.
var ErrUnsupportedPrimitive = errors.New("unsupported primitive")

// Scene is a scene graph read from a model file together with the materials it references.
type Scene struct {
	scenegraph.Graph
	Materials scenegraph.MaterialTable
}

func newScene() *Scene {
	return &Scene{Materials: scenegraph.MaterialTable{}}
}
