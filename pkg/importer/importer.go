// Package importer assembles a scene graph into skinned or rigid runtime meshes and a skeleton.
package importer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-assets/pkg/model"
	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
	"github.com/Faultbox/midgard-assets/pkg/skeleton"
	"github.com/Faultbox/midgard-assets/pkg/skin"
)

// Result is the output of Import.
type Result struct {
	// Meshes holds every imported mesh in scene pre-order.
	// Opaque and Transparent partition it by material opacity.
	Meshes      []*model.Mesh
	Opaque      []*model.Mesh
	Transparent []*model.Mesh

	// Skeleton is nil when the scene has no joints.
	Skeleton *skeleton.Skeleton

	// Authored is the skeleton as the scene posed it, before the rest pose was rebuilt
	// from bind poses. nil when no mesh recorded a bind pose.
	Authored *skeleton.Skeleton

	// Warnings holds one *MeshError per dropped mesh.
	Warnings []error
}

// Option configures Import.
type Option func(*options)

type options struct {
	log    *zap.Logger
	noSkin bool
}

// WithLogger sets the logger used for progress and warnings.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithoutSkinning imports every mesh as rigid and ignores skin deformers.
func WithoutSkinning() Option {
	return func(o *options) {
		o.noSkin = true
	}
}

// Import builds the skeleton of scene, then converts every mesh node.
// A malformed joint hierarchy fails the whole import. Any other problem drops only the
// affected mesh and is reported in Result.Warnings.
func Import(scene scenegraph.SceneGraph, materials scenegraph.MaterialLookup, opts ...Option) (*Result, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	roots := scene.Roots()
	skel, err := skeleton.Build(roots)
	if err != nil {
		return nil, fmt.Errorf("building skeleton: %w", err)
	}

	res := &Result{Skeleton: skel}
	if skel != nil {
		o.log.Debug("Skeleton built", zap.Int("joints", skel.Len()))
	}

	scenegraph.Walk(roots, func(n *scenegraph.Node, _ int) bool {
		if n.Kind != scenegraph.KindMesh {
			return true
		}
		if n.Mesh == nil {
			res.warn(o.log, n.Name, fmt.Errorf("%w: mesh node has no mesh attribute", model.ErrStreamLength))
			return true
		}

		mat, ok := materials.Material(n.Mesh.Material)
		if !ok {
			res.warn(o.log, n.Name, fmt.Errorf("%w: %q", ErrUnresolvedMaterial, n.Mesh.Material))
			return true
		}

		mesh, err := buildMesh(n, skel, &o)
		if err != nil {
			res.warn(o.log, n.Name, err)
			return true
		}

		res.Meshes = append(res.Meshes, mesh)
		if mat.OpacityEnabled {
			res.Transparent = append(res.Transparent, mesh)
		} else {
			res.Opaque = append(res.Opaque, mesh)
		}
		o.log.Debug("Mesh imported",
			zap.String("mesh", mesh.Name),
			zap.String("material", mesh.Material),
			zap.Int("vertices", len(mesh.Vertices)),
			zap.Int("indices", len(mesh.Indices)),
			zap.Bool("skinned", mesh.Skinned))
		return true
	})

	if skel != nil && skel.HasBindPoses() {
		authored, err := skel.Clone()
		if err != nil {
			return nil, fmt.Errorf("copying authored skeleton: %w", err)
		}
		res.Authored = authored
		skel.RebuildFromInverseBindPoses()
	}

	o.log.Info("Scene imported",
		zap.Int("opaque", len(res.Opaque)),
		zap.Int("transparent", len(res.Transparent)),
		zap.Int("dropped", len(res.Warnings)))
	return res, nil
}

func buildMesh(n *scenegraph.Node, skel *skeleton.Skeleton, o *options) (*model.Mesh, error) {
	attr := n.Mesh
	streams := model.Streams{
		Positions: attr.Positions,
		Normals:   attr.Normals,
		TexCoords: attr.TexCoords,
	}

	// Skin resolution writes bind poses into the shared skeleton, so the mesh must not
	// fail after it.
	if err := streams.Validate(); err != nil {
		return nil, err
	}

	var jointNames []string
	if attr.Skin != nil && !o.noSkin {
		sk, err := skin.Resolve(attr, skel)
		if err != nil {
			return nil, err
		}
		if sk.Degenerate > 0 {
			o.log.Debug("Control points with zero cluster weight render rigid",
				zap.String("mesh", n.Name),
				zap.Int("count", sk.Degenerate))
		}
		streams.Influences = sk.Influences
		jointNames = sk.JointNames
	}

	opt, err := model.Optimize(streams)
	if err != nil {
		return nil, err
	}
	return model.NewMesh(n.Name, attr.Material, opt, jointNames), nil
}

func (r *Result) warn(log *zap.Logger, mesh string, err error) {
	log.Warn("Mesh skipped", zap.String("mesh", mesh), zap.Error(err))
	r.Warnings = append(r.Warnings, &MeshError{Mesh: mesh, Err: err})
}
