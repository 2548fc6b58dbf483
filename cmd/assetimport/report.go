package main

import (
	"errors"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-assets/internal/config"
	"github.com/Faultbox/midgard-assets/pkg/importer"
	"github.com/Faultbox/midgard-assets/pkg/math"
	"github.com/Faultbox/midgard-assets/pkg/model"
	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
	"github.com/Faultbox/midgard-assets/pkg/skeleton"
)

const reboundEpsilon = 1e-4

// Report summarizes one import.
type Report struct {
	Source      string          `yaml:"source"`
	Opaque      []MeshReport    `yaml:"opaque"`
	Transparent []MeshReport    `yaml:"transparent"`
	Materials   []MaterialEntry `yaml:"materials,omitempty"`
	Skeleton    *SkeletonReport `yaml:"skeleton,omitempty"`
	Warnings    []WarningEntry  `yaml:"warnings,omitempty"`
	Dropped     int             `yaml:"dropped"`
}

// MeshReport describes one imported mesh.
type MeshReport struct {
	Name      string   `yaml:"name"`
	Material  string   `yaml:"material"`
	Vertices  int      `yaml:"vertices"`
	Triangles int      `yaml:"triangles"`
	Skinned   bool     `yaml:"skinned"`
	Joints    []string `yaml:"joints,omitempty"`

	// RestPaletteError is the largest deviation of the rest-pose palette from
	// identity. Nonzero means the mesh deforms when the skeleton is at rest.
	RestPaletteError float32 `yaml:"rest_palette_error,omitempty"`

	Min [3]float32 `yaml:"min,flow"`
	Max [3]float32 `yaml:"max,flow"`
}

// MaterialEntry describes one material referenced by the scene.
type MaterialEntry struct {
	Name        string `yaml:"name"`
	Texture     string `yaml:"texture,omitempty"`
	Transparent bool   `yaml:"transparent"`
	DoubleSided bool   `yaml:"double_sided"`
}

// SkeletonReport describes the imported joint hierarchy.
type SkeletonReport struct {
	JointCount int          `yaml:"joint_count"`
	Joints     []JointEntry `yaml:"joints,omitempty"`
	Degenerate []string     `yaml:"degenerate_bones,omitempty"`

	// Rebound lists joints whose rest pose was moved to match the bind poses.
	Rebound []string `yaml:"rebound_joints,omitempty"`
}

// JointEntry is one joint with its parent.
type JointEntry struct {
	Name   string     `yaml:"name"`
	Parent string     `yaml:"parent,omitempty"`
	Origin [3]float32 `yaml:"origin,flow"`
}

// WarningEntry is one dropped mesh.
type WarningEntry struct {
	Mesh  string `yaml:"mesh"`
	Error string `yaml:"error"`
}

func buildReport(source string, res *importer.Result, materials scenegraph.MaterialTable, cfg *config.Config) *Report {
	r := &Report{
		Source:      source,
		Opaque:      meshReports(res.Opaque, res.Skeleton),
		Transparent: meshReports(res.Transparent, res.Skeleton),
		Dropped:     len(res.Warnings),
	}

	for _, name := range sortedMaterialNames(materials) {
		m := materials[name]
		r.Materials = append(r.Materials, MaterialEntry{
			Name:        name,
			Texture:     m.DiffuseTexture,
			Transparent: m.OpacityEnabled,
			DoubleSided: m.DoubleSided,
		})
	}

	if skel := res.Skeleton; skel != nil {
		sr := &SkeletonReport{JointCount: skel.Len()}
		parents := skel.ParentIndices()
		if cfg.Output.ListJoints {
			for i, parent := range parents {
				j := skel.Joint(i)
				origin := j.Global.Translation()
				e := JointEntry{Name: j.Name, Origin: [3]float32{origin.X, origin.Y, origin.Z}}
				if parent >= 0 {
					e.Parent = skel.Joint(parent).Name
				}
				sr.Joints = append(sr.Joints, e)
			}
		}
		for _, i := range skel.DegenerateBones(cfg.Import.DegenerateBoneEpsilon) {
			sr.Degenerate = append(sr.Degenerate, skel.Joint(i).Name)
		}
		if res.Authored != nil {
			for i := range parents {
				j := skel.Joint(i)
				if a, ok := res.Authored.JointByName(j.Name); ok && !a.Global.ApproxEqual(j.Global, reboundEpsilon) {
					sr.Rebound = append(sr.Rebound, j.Name)
				}
			}
		}
		r.Skeleton = sr
	}

	if cfg.Output.ListWarnings {
		for _, w := range res.Warnings {
			e := WarningEntry{Error: w.Error()}
			var me *importer.MeshError
			if errors.As(w, &me) {
				e.Mesh = me.Mesh
				e.Error = me.Err.Error()
			}
			r.Warnings = append(r.Warnings, e)
		}
	}
	return r
}

func meshReports(meshes []*model.Mesh, skel *skeleton.Skeleton) []MeshReport {
	out := make([]MeshReport, 0, len(meshes))
	for _, m := range meshes {
		mr := MeshReport{
			Name:      m.Name,
			Material:  m.Material,
			Vertices:  len(m.Vertices),
			Triangles: m.TriangleCount(),
			Skinned:   m.Skinned,
			Joints:    m.JointNames,
			Min:       m.Bounds.Min,
			Max:       m.Bounds.Max,
		}
		if m.Skinned && skel != nil {
			mr.RestPaletteError = restPaletteError(skel, m.JointNames)
		}
		out = append(out, mr)
	}
	return out
}

// restPaletteError returns the largest element-wise distance between the palette of
// jointNames and the identity matrix. Unknown joints count as -1.
func restPaletteError(skel *skeleton.Skeleton, jointNames []string) float32 {
	palette, err := skel.Palette(jointNames)
	if err != nil {
		return -1
	}
	id := math.Identity()
	var worst float32
	for _, m := range palette {
		for i := range m {
			d := m[i] - id[i]
			if d < 0 {
				d = -d
			}
			if d > worst {
				worst = d
			}
		}
	}
	return worst
}

func sortedMaterialNames(t scenegraph.MaterialTable) []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeReport(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
