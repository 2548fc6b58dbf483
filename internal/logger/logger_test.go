package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogRotation(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "import.log")

	log := New(Options{
		Level: "debug",
		File: FileConfig{
			Path:       logFile,
			MaxSizeMB:  1, // smallest lumberjack allows
			MaxBackups: 2,
			MaxAgeDays: 1,
		},
	})

	// ~15000 lines of ~250 bytes exceed 1MB.
	longMessage := strings.Repeat("x", 200)
	for i := 0; i < 15000; i++ {
		log.Sugar().Infof("mesh %d: %s", i, longMessage)
	}
	_ = log.Sync()

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("main log file does not exist")
	}

	files, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("failed to read temp dir: %v", err)
	}
	var rotated []string
	for _, f := range files {
		name := f.Name()
		if name != "import.log" && strings.HasPrefix(name, "import-") && strings.HasSuffix(name, ".log") {
			rotated = append(rotated, name)
		}
	}
	if len(rotated) == 0 {
		t.Errorf("no rotated files found in %v", files)
	}
	for _, name := range rotated {
		if !strings.Contains(name, "-20") {
			t.Errorf("rotated file %s doesn't have expected timestamp format", name)
		}
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    string
		expected []string
		excluded []string
	}{
		{"error", []string{"ERROR"}, []string{"WARN", "INFO", "DEBUG"}},
		{"warn", []string{"ERROR", "WARN"}, []string{"INFO", "DEBUG"}},
		{"info", []string{"ERROR", "WARN", "INFO"}, []string{"DEBUG"}},
		{"debug", []string{"ERROR", "WARN", "INFO", "DEBUG"}, nil},
		{"bogus", []string{"ERROR", "WARN", "INFO"}, []string{"DEBUG"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logFile := filepath.Join(t.TempDir(), tt.level+".log")
			log := New(Options{Level: tt.level, File: FileConfig{Path: logFile, MaxSizeMB: 10}})

			log.Debug("debug message")
			log.Info("info message")
			log.Warn("warn message")
			log.Error("error message")
			_ = log.Sync()

			content, err := os.ReadFile(logFile)
			if err != nil {
				t.Fatalf("failed to read log file: %v", err)
			}
			out := string(content)

			for _, exp := range tt.expected {
				if !strings.Contains(out, exp) {
					t.Errorf("expected %s in log output", exp)
				}
			}
			for _, exc := range tt.excluded {
				if strings.Contains(out, exc) {
					t.Errorf("unexpected %s in log output for level %s", exc, tt.level)
				}
			}
		})
	}
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "info", Console: &buf})
	log.Info("scene imported")
	_ = log.Sync()

	if !strings.Contains(buf.String(), "scene imported") {
		t.Errorf("console output missing message: %q", buf.String())
	}
}

func TestNoOutputs(t *testing.T) {
	log := New(Options{Level: "debug"})
	if log.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger without outputs should be a no-op")
	}
}

func TestInit(t *testing.T) {
	old := Log
	defer func() {
		Log = old
		Sugar = old.Sugar()
	}()

	logFile := filepath.Join(t.TempDir(), "init.log")
	Init("warn", DefaultFileConfig(logFile))
	Sugar.Warnf("dropped %d meshes", 2)
	Sync()

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "dropped 2 meshes") {
		t.Errorf("log file missing entry: %q", content)
	}
}

func TestDefaultFileConfig(t *testing.T) {
	cfg := DefaultFileConfig("/tmp/test.log")

	if cfg.Path != "/tmp/test.log" {
		t.Errorf("expected path /tmp/test.log, got %s", cfg.Path)
	}
	if cfg.MaxSizeMB != 50 || cfg.MaxBackups != 3 || cfg.MaxAgeDays != 7 {
		t.Errorf("unexpected rotation settings: %+v", cfg)
	}
	if !cfg.Compress {
		t.Error("expected Compress to be true")
	}
}
