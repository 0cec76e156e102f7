package slogutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"", 0},
		{"invalid", 0},
		{"100", 100},
		{"100B", 100},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"10MB", 10 * 1000 * 1000},
		{"10MiB", 10 * 1024 * 1024},
		{" 1.5 MB ", 1500000},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseSize(tt.input); got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestRotatingFile_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tangle.log")

	rf, err := OpenRotatingFile(path, 50, 2)
	if err != nil {
		t.Fatalf("OpenRotatingFile() error = %v", err)
	}
	line := []byte(strings.Repeat("a", 29) + "\n")
	for i := 0; i < 5; i++ {
		if _, err := rf.Write(line); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := rf.Close(); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		info, err := os.Stat(p)
		if err != nil {
			t.Errorf("%s missing: %v", filepath.Base(p), err)
			continue
		}
		if info.Size() != int64(len(line)) {
			t.Errorf("%s size = %d, want %d", filepath.Base(p), info.Size(), len(line))
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("only two backups should be kept")
	}
}

func TestRotatingFile_NoBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tangle.log")
	rf, err := OpenRotatingFile(path, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = rf.Write([]byte("0123456789"))
	_, _ = rf.Write([]byte("abc\n"))
	_ = rf.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc\n" {
		t.Errorf("content = %q, want only the last write", data)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup expected")
	}
}

func TestRotatingFile_FailedRotationKeepsWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tangle.log")
	// A non-empty directory where the backup belongs blocks the rename.
	if err := os.MkdirAll(filepath.Join(path+".1", "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	rf, err := OpenRotatingFile(path, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, chunk := range []string{"0123456789", "abc\n", "def\n"} {
		if _, err := rf.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write(%q) error = %v", chunk, err)
		}
	}
	if err := rf.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "0123456789abc\ndef\n" {
		t.Errorf("content = %q, want every write in the current file", data)
	}
}

func TestNewFileLoggerWithRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tangle.log")
	logger, closer, err := NewFileLoggerWithRotation(path, slog.LevelDebug, "1MB", 3)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("Analysis complete", "files", 2)
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[info] Analysis complete | files=2") {
		t.Errorf("log = %q", data)
	}
}
