// assetimport converts RSM and glTF models into runtime meshes and reports the result.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-assets/internal/config"
	"github.com/Faultbox/midgard-assets/internal/logger"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/grf"
)

var errUnknownFormat = errors.New("unknown model format")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command := args[0]
	args = args[1:]

	switch command {
	case "inspect", "tree":
		return cmdInspect(args, stdout, stderr)
	case "import":
		return cmdImport(args, stdout, stderr)
	case "list", "ls":
		return cmdList(args, stdout, stderr)
	case "config":
		return cmdConfig(args, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `assetimport - model import tool

Usage:
  assetimport <command> [options] <file>

Commands:
  inspect <file>          Print the scene tree and materials of a model
  import <file>           Import a model and write a YAML report
  list -grf <archive> [pattern]
                          List archive entries (default pattern *.rsm)
  config [-write]         Print the effective config, or save it

Supported formats: .rsm, .gltf, .glb

Examples:
  assetimport inspect data/model/prontera/fountain.rsm
  assetimport import -out report.yaml hero.glb
  assetimport import -no-skin -log-file import.log hero.gltf
  assetimport import -grf data.grf data/model/prontera/fountain.rsm
  assetimport list -grf data.grf "model/프론테라/*"
  assetimport config -debug -write`)
}

// command is one parsed subcommand invocation.
type command struct {
	name  string
	fs    *flag.FlagSet
	flags *config.Flags
	cfg   *config.Config
}

func newCommand(name string, stderr io.Writer) *command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return &command{name: name, fs: fs, flags: config.RegisterFlags(fs)}
}

// parse parses args, loads the configuration and initializes logging.
// usage describes the positional arguments; minArgs of them are required.
func (c *command) parse(args []string, minArgs int, usage string) error {
	if err := c.fs.Parse(args); err != nil {
		return err
	}
	if c.fs.NArg() < minArgs {
		return fmt.Errorf("usage: assetimport %s [options] %s", c.name, usage)
	}

	cfg, err := config.Load(c.flags)
	if err != nil {
		return err
	}
	c.cfg = cfg
	logger.Init(cfg.Logging.Level, logFileConfig(cfg.Logging))
	return nil
}

// logFileConfig fills unset rotation limits from the logger defaults.
func logFileConfig(l config.LoggingConfig) logger.FileConfig {
	if l.LogFile == "" {
		return logger.FileConfig{}
	}
	file := logger.DefaultFileConfig(l.LogFile)
	if l.MaxSizeMB > 0 {
		file.MaxSizeMB = l.MaxSizeMB
	}
	if l.MaxBackups > 0 {
		file.MaxBackups = l.MaxBackups
	}
	if l.MaxAgeDays > 0 {
		file.MaxAgeDays = l.MaxAgeDays
	}
	file.Compress = l.Compress
	return file
}

// loadScene picks a reader by file extension. With an archive configured, path names an
// entry of that archive instead of a file on disk. The parsed RSM is returned for RSM input.
func loadScene(path string, opts config.ImportConfig) (*formats.Scene, *formats.RSM, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if opts.Archive != "" && ext != ".rsm" {
		return nil, nil, fmt.Errorf("%w in archive: %s", errUnknownFormat, ext)
	}

	switch ext {
	case ".rsm":
		rsm, err := loadRSM(path, opts.Archive)
		if err != nil {
			return nil, nil, err
		}
		logger.Log.Debug("RSM parsed",
			zap.String("version", rsm.Version.String()),
			zap.Int("nodes", len(rsm.Nodes)),
			zap.Int("textures", len(rsm.Textures)))
		scene, err := formats.NewRSMScene(rsm, formats.RSMOptions{
			ReverseWinding:   opts.ReverseWinding,
			ForceAllTwoSided: opts.ForceAllTwoSided,
		})
		return scene, rsm, err
	case ".gltf", ".glb":
		scene, err := formats.LoadGLTF(path)
		return scene, nil, err
	default:
		return nil, nil, fmt.Errorf("%w: %s", errUnknownFormat, ext)
	}
}

func loadRSM(path, archivePath string) (*formats.RSM, error) {
	if archivePath == "" {
		return formats.ParseRSMFile(path)
	}

	archive, err := grf.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	data, err := archive.Read(path)
	if err != nil {
		return nil, err
	}
	rsm, err := formats.ParseRSM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rsm, nil
}
