package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks output paths that are written zstd-compressed.
const CompressedSuffix = ".zst"

// WriteFile renders the report and writes it to path. The directory is
// created as needed. A ".zst" suffix compresses the output.
func WriteFile(r *Report, format Format, path string) error {
	data, err := Render(r, format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := writeData(f, data, strings.HasSuffix(path, CompressedSuffix)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Write renders the report to w without compression.
func Write(w io.Writer, r *Report, format Format) error {
	data, err := Render(r, format)
	if err != nil {
		return err
	}
	return writeData(w, data, false)
}

func writeData(w io.Writer, data []byte, compress bool) error {
	if !compress {
		_, err := w.Write(data)
		return err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to compress report: %w", err)
	}
	return enc.Close()
}

// ReadFile reads a report file written by WriteFile, decompressing ".zst"
// files.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.HasSuffix(path, CompressedSuffix) {
		return io.ReadAll(f)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
