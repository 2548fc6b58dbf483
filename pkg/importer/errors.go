package importer

import (
	"errors"
	"fmt"
)

// ErrUnresolvedMaterial is returned when a mesh references a material the lookup does not know.
var ErrUnresolvedMaterial = errors.New("unresolved material")

// MeshError reports a mesh that was dropped from the import.
type MeshError struct {
	Mesh string
	Err  error
}

func (e *MeshError) Error() string {
	return fmt.Sprintf("mesh %q: %v", e.Mesh, e.Err)
}

func (e *MeshError) Unwrap() error {
	return e.Err
}
