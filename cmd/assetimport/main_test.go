package main

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"golang.org/x/text/encoding/korean"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-assets/internal/config"
	"github.com/Faultbox/midgard-assets/internal/logger"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/grf"
	"github.com/Faultbox/midgard-assets/pkg/importer"
	"github.com/Faultbox/midgard-assets/pkg/math"
	"github.com/Faultbox/midgard-assets/pkg/model"
	"github.com/Faultbox/midgard-assets/pkg/scenegraph"
	"github.com/Faultbox/midgard-assets/pkg/skeleton"
)

// writeModel saves a glTF binary with an opaque quad and a blended triangle.
func writeModel(t *testing.T, dir string) string {
	t.Helper()
	doc := gltf.NewDocument()
	quadPos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}})
	quadIdx := modeler.WriteIndices(doc, []uint16{0, 1, 2, 0, 2, 3})
	triPos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})

	doc.Materials = []*gltf.Material{
		{Name: "stone"},
		{Name: "glass", AlphaMode: gltf.AlphaBlend},
	}
	doc.Meshes = []*gltf.Mesh{
		{Name: "wall", Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(quadIdx),
			Attributes: map[string]int{gltf.POSITION: quadPos},
			Material:   gltf.Index(0),
		}}},
		{Name: "window", Primitives: []*gltf.Primitive{{
			Attributes: map[string]int{gltf.POSITION: triPos},
			Material:   gltf.Index(1),
		}}},
	}
	doc.Nodes = []*gltf.Node{
		{Name: "wall", Mesh: gltf.Index(0)},
		{Name: "window", Mesh: gltf.Index(1), Translation: [3]float64{0, 0, 1}},
	}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0, 1)

	path := filepath.Join(dir, "house.glb")
	if err := gltf.SaveBinary(doc, path); err != nil {
		t.Fatalf("SaveBinary failed: %v", err)
	}
	return path
}

// emptyConfig keeps config discovery away from the developer's own files.
func emptyConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func deflate(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

// writeArchive saves a GRF archive holding one small file per name.
func writeArchive(t *testing.T, dir string, names ...string) string {
	t.Helper()
	var body, table bytes.Buffer
	for _, name := range names {
		payload := deflate([]byte(name))
		encoded, err := korean.EUCKR.NewEncoder().Bytes([]byte(name))
		if err != nil {
			t.Fatal(err)
		}
		table.Write(encoded)
		table.WriteByte(0)
		binary.Write(&table, binary.LittleEndian, uint32(len(payload)))
		binary.Write(&table, binary.LittleEndian, uint32(len(payload)))
		binary.Write(&table, binary.LittleEndian, uint32(len(name)))
		table.WriteByte(0x01)
		binary.Write(&table, binary.LittleEndian, uint32(body.Len()))
		body.Write(payload)
	}

	var out bytes.Buffer
	h := grf.Header{TableOffset: uint32(body.Len()), FileCount: uint32(len(names) + 7), Version: 0x200}
	copy(h.Magic[:], "Master of Magic")
	binary.Write(&out, binary.LittleEndian, h)
	out.Write(body.Bytes())
	packed := deflate(table.Bytes())
	binary.Write(&out, binary.LittleEndian, uint32(len(packed)))
	binary.Write(&out, binary.LittleEndian, uint32(table.Len()))
	out.Write(packed)

	path := filepath.Join(dir, "data.grf")
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 1},
		{"help", []string{"help"}, 0},
		{"unknown", []string{"convert"}, 1},
		{"missing file", []string{"import"}, 1},
		{"list without archive", []string{"list"}, 1},
		{"config extra flag", []string{"config", "-bogus"}, 1},
		{"bad flag", []string{"import", "-bogus", "x.glb"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.code {
				t.Errorf("exit code = %d, want %d (stderr %q)", code, tt.code, stderr.String())
			}
		})
	}
}

func TestRunImport(t *testing.T) {
	dir := t.TempDir()
	src := writeModel(t, dir)
	out := filepath.Join(dir, "report.yaml")

	var stdout, stderr bytes.Buffer
	args := []string{"import", "-config", emptyConfig(t, dir), "-out", out, src}
	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		t.Fatalf("report is not valid YAML: %v", err)
	}

	if len(r.Opaque) != 1 || r.Opaque[0].Name != "wall#0" || r.Opaque[0].Triangles != 2 {
		t.Errorf("opaque = %+v", r.Opaque)
	}
	if r.Opaque[0].Vertices != 4 {
		t.Errorf("wall vertices = %d, want 4", r.Opaque[0].Vertices)
	}
	if len(r.Transparent) != 1 || r.Transparent[0].Material != "glass" {
		t.Errorf("transparent = %+v", r.Transparent)
	}
	if r.Transparent[0].Min[2] != 1 || r.Transparent[0].Max[2] != 1 {
		t.Errorf("window bounds = %v..%v, want z=1", r.Transparent[0].Min, r.Transparent[0].Max)
	}
	if r.Skeleton != nil || r.Dropped != 0 {
		t.Errorf("unexpected skeleton %+v or dropped %d", r.Skeleton, r.Dropped)
	}
}

func TestRunImportStdout(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	args := []string{"import", "-config", emptyConfig(t, dir), writeModel(t, dir)}
	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "source:") {
		t.Errorf("report missing from stdout: %q", stdout.String())
	}
}

func TestRunInspect(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	args := []string{"inspect", "-config", emptyConfig(t, dir), writeModel(t, dir)}
	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}

	got := stdout.String()
	for _, want := range []string{"Scene: 0 joints, 2 meshes, 2 materials", "wall [Other]", "  wall#0 [Mesh] 6 vertices", "Materials:", "glass"} {
		if !strings.Contains(got, want) {
			t.Errorf("inspect output missing %q:\n%s", want, got)
		}
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := emptyConfig(t, dir)
	badRSM := filepath.Join(dir, "broken.rsm")
	if err := os.WriteFile(badRSM, []byte("GRSM"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"unknown extension", []string{filepath.Join(dir, "model.fbx")}},
		{"missing file", []string{filepath.Join(dir, "missing.glb")}},
		{"truncated rsm", []string{badRSM}},
		{"missing archive", []string{"-grf", filepath.Join(dir, "data.grf"), "model/fountain.rsm"}},
		{"gltf in archive", []string{"-grf", filepath.Join(dir, "data.grf"), "model/hero.glb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(append([]string{"import", "-config", cfg}, tt.args...), &stdout, &stderr); code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.HasPrefix(stderr.String(), "Error:") {
				t.Errorf("stderr = %q", stderr.String())
			}
		})
	}
}

func TestBuildReport(t *testing.T) {
	skel := skeleton.New()
	root, _ := skel.Add("root", -1, math.Identity())
	_, _ = skel.Add("tip", root, math.Identity())
	skel.LocalToGlobal()

	mesh := &model.Mesh{
		Name:       "body",
		Material:   "skin",
		Vertices:   make([]model.Vertex, 3),
		Indices:    []uint32{0, 1, 2},
		JointNames: []string{"root"},
		Skinned:    true,
	}
	res := &importer.Result{
		Meshes:   []*model.Mesh{mesh},
		Opaque:   []*model.Mesh{mesh},
		Skeleton: skel,
		Warnings: []error{&importer.MeshError{Mesh: "cape", Err: importer.ErrUnresolvedMaterial}},
	}
	materials := scenegraph.MaterialTable{}
	materials.Add(scenegraph.Material{Name: "skin", DiffuseTexture: "skin.png"})

	cfg := config.Default()
	r := buildReport("hero.glb", res, materials, cfg)

	if len(r.Opaque) != 1 || r.Opaque[0].Triangles != 1 || !r.Opaque[0].Skinned {
		t.Errorf("opaque = %+v", r.Opaque)
	}
	if r.Transparent == nil || len(r.Transparent) != 0 {
		t.Errorf("transparent = %v, want empty", r.Transparent)
	}
	if len(r.Materials) != 1 || r.Materials[0].Texture != "skin.png" {
		t.Errorf("materials = %+v", r.Materials)
	}
	if r.Skeleton == nil || r.Skeleton.JointCount != 2 || len(r.Skeleton.Joints) != 2 {
		t.Fatalf("skeleton = %+v", r.Skeleton)
	}
	if r.Skeleton.Joints[1].Parent != "root" {
		t.Errorf("tip parent = %q, want root", r.Skeleton.Joints[1].Parent)
	}
	if len(r.Skeleton.Degenerate) != 1 || r.Skeleton.Degenerate[0] != "tip" {
		t.Errorf("degenerate bones = %v, want [tip]", r.Skeleton.Degenerate)
	}
	if r.Dropped != 1 || len(r.Warnings) != 1 || r.Warnings[0].Mesh != "cape" {
		t.Errorf("warnings = %+v, dropped %d", r.Warnings, r.Dropped)
	}

	cfg.Output.ListJoints = false
	cfg.Output.ListWarnings = false
	r = buildReport("hero.glb", res, materials, cfg)
	if len(r.Skeleton.Joints) != 0 || len(r.Warnings) != 0 {
		t.Errorf("lists should be omitted: joints %v, warnings %v", r.Skeleton.Joints, r.Warnings)
	}
	if r.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", r.Dropped)
	}
}

func TestRunList(t *testing.T) {
	dir := t.TempDir()
	cfg := emptyConfig(t, dir)
	archive := writeArchive(t, dir,
		`data\model\프론테라\fountain.rsm`,
		`data\model\alberta\ship.rsm`,
		`data\texture\stone.bmp`,
	)

	tests := []struct {
		name    string
		pattern []string
		want    []string
		summary string
	}{
		{"default pattern", nil, []string{"model/alberta/ship.rsm", "model/프론테라/fountain.rsm"}, "2 of 3 files match *.rsm"},
		{"full path", []string{"model/프론테라/*"}, []string{"model/프론테라/fountain.rsm"}, "1 of 3 files match"},
		{"base name", []string{"STONE.bmp"}, []string{"texture/stone.bmp"}, "1 of 3 files match stone.bmp"},
		{"no match", []string{"*.gnd"}, nil, "0 of 3 files match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"list", "-config", cfg, "-grf", archive}, tt.pattern...)
			if code := run(args, &stdout, &stderr); code != 0 {
				t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
			}

			got := stdout.String()
			lines := strings.Split(strings.TrimSpace(got), "\n")
			listed := lines[:len(lines)-1]
			if len(tt.want) == 0 {
				listed = nil
			} else {
				listed = listed[:len(listed)-1] // blank separator
			}
			if strings.Join(listed, ",") != strings.Join(tt.want, ",") {
				t.Errorf("listed %q, want %q", listed, tt.want)
			}
			if !strings.Contains(got, tt.summary) {
				t.Errorf("summary missing %q:\n%s", tt.summary, got)
			}
		})
	}
}

func TestRunListErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := emptyConfig(t, dir)
	notArchive := filepath.Join(dir, "data.grf")
	if err := os.WriteFile(notArchive, []byte("not an archive"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no archive", nil},
		{"bad archive", []string{"-grf", notArchive}},
		{"missing archive", []string{"-grf", filepath.Join(dir, "missing.grf")}},
		{"bad pattern", []string{"-grf", notArchive, "model/["}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(append([]string{"list", "-config", cfg}, tt.args...), &stdout, &stderr); code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.HasPrefix(stderr.String(), "Error:") {
				t.Errorf("stderr = %q", stderr.String())
			}
		})
	}
}

func TestRunConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := emptyConfig(t, dir)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"config", "-config", cfg, "-no-skin"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	var printed config.Config
	if err := yaml.Unmarshal(stdout.Bytes(), &printed); err != nil {
		t.Fatalf("printed config is not valid YAML: %v", err)
	}
	if printed.Import.Skinning {
		t.Error("printed config should reflect -no-skin")
	}
	if data, _ := os.ReadFile(cfg); len(data) != 0 {
		t.Errorf("config file changed without -write: %q", data)
	}

	stdout.Reset()
	if code := run([]string{"config", "-config", cfg, "-no-skin", "-write"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("-write should not print the config: %q", stdout.String())
	}
	saved, err := config.Load(&config.Flags{Config: cfg})
	if err != nil {
		t.Fatalf("reloading saved config: %v", err)
	}
	if saved.Import.Skinning {
		t.Error("saved config should keep -no-skin")
	}
}

func TestPrintRSMSummary(t *testing.T) {
	rsm := &formats.RSM{
		Version:  formats.RSMVersion{Major: 1, Minor: 4},
		Alpha:    0.5,
		Textures: []string{"stone.bmp"},
		Nodes: []formats.RSMNode{
			{Name: "base", Vertices: make([][3]float32, 4), Faces: make([]formats.RSMFace, 2)},
			{Name: "spout", Parent: "base", Vertices: make([][3]float32, 3), Faces: make([]formats.RSMFace, 1)},
			{Name: "loose", Parent: "missing"},
		},
	}

	var out bytes.Buffer
	printRSMSummary(&out, rsm)

	got := out.String()
	for _, want := range []string{"RSM 1.4, 3 nodes, 7 vertices, 3 faces, 1 textures, alpha 0.50", "Roots: base, loose"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestReportSkinnedRestPose(t *testing.T) {
	skel := skeleton.New()
	root, _ := skel.Add("root", -1, math.Identity())
	arm, _ := skel.Add("arm", root, math.Translate(1, 0, 0))
	skel.SetInverseBindPose(root, math.Identity())
	skel.SetInverseBindPose(arm, math.Translate(-1, 0, 0))

	authored, err := skel.Clone()
	if err != nil {
		t.Fatal(err)
	}
	skel.RebuildFromInverseBindPoses()

	tests := []struct {
		name      string
		authored  *skeleton.Skeleton
		joints    []string
		wantErr   float32
		wantMoved []string
	}{
		{"rest pose matches bind pose", authored, []string{"root", "arm"}, 0, nil},
		{"unknown palette joint", authored, []string{"root", "leg"}, -1, nil},
		{"no authored pose", nil, []string{"arm"}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mesh := &model.Mesh{Name: "body", JointNames: tt.joints, Skinned: true}
			res := &importer.Result{Opaque: []*model.Mesh{mesh}, Skeleton: skel, Authored: tt.authored}
			r := buildReport("hero.glb", res, scenegraph.MaterialTable{}, config.Default())

			if got := r.Opaque[0].RestPaletteError; got != tt.wantErr {
				t.Errorf("rest palette error = %v, want %v", got, tt.wantErr)
			}
			if strings.Join(r.Skeleton.Rebound, ",") != strings.Join(tt.wantMoved, ",") {
				t.Errorf("rebound = %v, want %v", r.Skeleton.Rebound, tt.wantMoved)
			}
		})
	}

	// An arm authored away from its bind pose is moved by the rebuild.
	skel2 := skeleton.New()
	root, _ = skel2.Add("root", -1, math.Identity())
	arm, _ = skel2.Add("arm", root, math.Translate(3, 0, 0))
	skel2.SetInverseBindPose(arm, math.Translate(-1, 0, 0))
	before, err := skel2.Clone()
	if err != nil {
		t.Fatal(err)
	}
	skel2.RebuildFromInverseBindPoses()

	mesh := &model.Mesh{Name: "body", JointNames: []string{"arm"}, Skinned: true}
	res := &importer.Result{Opaque: []*model.Mesh{mesh}, Skeleton: skel2, Authored: before}
	r := buildReport("hero.glb", res, scenegraph.MaterialTable{}, config.Default())
	if len(r.Skeleton.Rebound) != 1 || r.Skeleton.Rebound[0] != "arm" {
		t.Errorf("rebound = %v, want [arm]", r.Skeleton.Rebound)
	}
	if r.Opaque[0].RestPaletteError != 0 {
		t.Errorf("rest palette error after rebuild = %v, want 0", r.Opaque[0].RestPaletteError)
	}
}

func TestLogFileConfig(t *testing.T) {
	tests := []struct {
		name    string
		logging config.LoggingConfig
		want    logger.FileConfig
	}{
		{"no file", config.LoggingConfig{MaxSizeMB: 10}, logger.FileConfig{}},
		{"defaults", config.LoggingConfig{LogFile: "import.log"},
			logger.FileConfig{Path: "import.log", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7}},
		{"overrides", config.LoggingConfig{LogFile: "import.log", MaxSizeMB: 5, MaxBackups: 1, MaxAgeDays: 2, Compress: true},
			logger.FileConfig{Path: "import.log", MaxSizeMB: 5, MaxBackups: 1, MaxAgeDays: 2, Compress: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := logFileConfig(tt.logging); got != tt.want {
				t.Errorf("logFileConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
