package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-assets/internal/config"
	"github.com/Faultbox/midgard-assets/internal/logger"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/grf"
	"github.com/Faultbox/midgard-assets/pkg/importer"
	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
)

func cmdInspect(args []string, stdout, stderr io.Writer) int {
	c := newCommand("inspect", stderr)
	if err := c.parse(args, 1, "<file>"); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	scene, rsm, err := loadScene(c.fs.Arg(0), c.cfg.Import)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if rsm != nil {
		printRSMSummary(stdout, rsm)
	}
	fmt.Fprintf(stdout, "Scene: %d joints, %d meshes, %d materials\n\n",
		scenegraph.Count(scene, scenegraph.KindJoint),
		scenegraph.Count(scene, scenegraph.KindMesh),
		len(scene.Materials))
	printTree(stdout, scene)
	return 0
}

func printRSMSummary(w io.Writer, rsm *formats.RSM) {
	fmt.Fprintf(w, "RSM %s, %d nodes, %d vertices, %d faces, %d textures, alpha %.2f\n",
		rsm.Version, len(rsm.Nodes), rsm.TotalVertexCount(), rsm.TotalFaceCount(), len(rsm.Textures), rsm.Alpha)

	var roots []string
	for i := range rsm.Nodes {
		if rsm.IsRoot(&rsm.Nodes[i]) {
			roots = append(roots, rsm.Nodes[i].Name)
		}
	}
	fmt.Fprintf(w, "Roots: %s\n", strings.Join(roots, ", "))
}

func printTree(w io.Writer, scene *formats.Scene) {
	scenegraph.Walk(scene.Roots(), func(n *scenegraph.Node, depth int) bool {
		indent := strings.Repeat("  ", depth)
		switch {
		case n.Mesh != nil:
			skinned := ""
			if n.Mesh.Skin != nil {
				skinned = fmt.Sprintf(", %d clusters", len(n.Mesh.Skin.Clusters))
			}
			fmt.Fprintf(w, "%s%s [%s] %d vertices, material %q%s\n",
				indent, n.Name, n.Kind, n.Mesh.PolygonVertexCount(), n.Mesh.Material, skinned)
		default:
			fmt.Fprintf(w, "%s%s [%s]\n", indent, n.Name, n.Kind)
		}
		return true
	})

	names := sortedMaterialNames(scene.Materials)
	if len(names) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Materials:")
	for _, name := range names {
		m := scene.Materials[name]
		fmt.Fprintf(w, "  %-30s texture=%q transparent=%t double-sided=%t\n",
			name, m.DiffuseTexture, m.OpacityEnabled, m.DoubleSided)
	}
}

func cmdImport(args []string, stdout, stderr io.Writer) int {
	c := newCommand("import", stderr)
	if err := c.parse(args, 1, "<file>"); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	cfg, src := c.cfg, c.fs.Arg(0)

	scene, _, err := loadScene(src, cfg.Import)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	opts := []importer.Option{importer.WithLogger(logger.Log.Named("import"))}
	if !cfg.Import.Skinning {
		opts = append(opts, importer.WithoutSkinning())
	}
	res, err := importer.Import(scene, scene.Materials, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	report := buildReport(src, res, scene.Materials, cfg)
	out := stdout
	if cfg.Output.ReportPath != "" {
		f, err := os.Create(cfg.Output.ReportPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if err := writeReport(out, report); err != nil {
		fmt.Fprintf(stderr, "Error: writing report: %v\n", err)
		return 1
	}
	if cfg.Output.ReportPath != "" {
		logger.Sugar.Infof("Report for %s written to %s", src, cfg.Output.ReportPath)
	}
	return 0
}

// cmdList prints the archive entries whose full path or base name matches a pattern.
func cmdList(args []string, stdout, stderr io.Writer) int {
	c := newCommand("list", stderr)
	if err := c.parse(args, 0, "[pattern]"); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if c.cfg.Import.Archive == "" {
		fmt.Fprintln(stderr, "Error: list needs an archive (-grf or import.archive)")
		return 1
	}
	pattern := "*.rsm"
	if c.fs.NArg() > 0 {
		pattern = strings.ToLower(filepath.ToSlash(c.fs.Arg(0)))
	}
	if _, err := path.Match(pattern, ""); err != nil {
		fmt.Fprintf(stderr, "Error: bad pattern %q: %v\n", pattern, err)
		return 1
	}

	archive, err := grf.Open(c.cfg.Import.Archive)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer archive.Close()

	matched := 0
	for _, name := range archive.List() {
		full, _ := path.Match(pattern, name)
		base, _ := path.Match(pattern, path.Base(name))
		if full || base {
			fmt.Fprintln(stdout, name)
			matched++
		}
	}
	fmt.Fprintf(stdout, "\n%d of %d files match %s\n", matched, archive.Len(), pattern)
	return 0
}

// cmdConfig prints the effective configuration, or writes it to -config (or the
// user config directory) with -write.
func cmdConfig(args []string, stdout, stderr io.Writer) int {
	c := newCommand("config", stderr)
	write := c.fs.Bool("write", false, "Save the effective config instead of printing it")
	if err := c.parse(args, 0, ""); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if !*write {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		err := enc.Encode(c.cfg)
		if err == nil {
			err = enc.Close()
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	target := c.flags.Config
	var err error
	if target == "" {
		target = filepath.Join(config.ConfigDir(), "config.yaml")
		err = c.cfg.Save()
	} else {
		err = c.cfg.SaveTo(target)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: saving config: %v\n", err)
		return 1
	}
	logger.Sugar.Infof("Config written to %s", target)
	return 0
}
