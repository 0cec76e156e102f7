package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"tangle/internal/baseline"
	"tangle/internal/config"
	"tangle/internal/duplicates"
	tgerrors "tangle/internal/errors"
	"tangle/internal/slogutil"
	"tangle/internal/source"
)

// ScanBlocks finds every marked duplicate block under root without parsing
// or scoring, with tolerance, normalized content and hash resolved. Files
// that cannot be read are logged and skipped.
func ScanBlocks(ctx context.Context, cfg *config.Config, root string, logger *slog.Logger) ([]duplicates.Block, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, tgerrors.New(tgerrors.ConfigError, "invalid root", err)
	}
	loader := NewLoader(cfg, root, logger)

	var blocks []duplicates.Block
	for file, err := range loader.Files(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx)
			}
			var skip *source.Skip
			if !errors.As(err, &skip) {
				logger.Warn("Skipping file", "error", err)
			}
			continue
		}
		found, warnings := duplicates.ScanMarkers(file.Path, file.Content)
		for _, w := range warnings {
			logger.Warn("Marker warning", "path", w.Path, "line", w.Line, "message", w.Message)
		}
		blocks = append(blocks, found...)
	}

	detector := duplicates.NewDetector(DetectorOptions(cfg, 0), nil, logger)
	return detector.Prepare(blocks), nil
}

// RegisterBaseline records blocks as the approved versions and saves the
// registry. Copies of a block that disagree are reported as conflicts and
// left unregistered.
func RegisterBaseline(root, override string, cfg *config.Config, blocks []duplicates.Block, logger *slog.Logger) (baseline.RegisterResult, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return baseline.RegisterResult{}, tgerrors.New(tgerrors.ConfigError, "invalid root", err)
	}
	store, err := baseline.Open(BaselinePath(root, override, cfg), logger)
	if err != nil {
		return baseline.RegisterResult{}, err
	}
	reg, err := store.Load()
	if err != nil {
		return baseline.RegisterResult{}, err
	}
	res := reg.Register(blocks)
	if err := store.Save(reg); err != nil {
		return res, err
	}
	logger.Info("Baseline saved",
		"path", store.Path(),
		"added", len(res.Added),
		"updated", len(res.Updated),
		"conflicts", len(res.Conflicts))
	return res, nil
}

// LoadBaseline opens and reads the registry used by root.
func LoadBaseline(root, override string, cfg *config.Config, logger *slog.Logger) (*baseline.Registry, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, tgerrors.New(tgerrors.ConfigError, "invalid root", err)
	}
	return loadBaseline(root, override, cfg, logger)
}

// RemoveBaseline drops one approved block and saves the registry. It reports
// whether the block was registered.
func RemoveBaseline(root, override string, cfg *config.Config, id, version string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return false, tgerrors.New(tgerrors.ConfigError, "invalid root", err)
	}
	store, err := baseline.Open(BaselinePath(root, override, cfg), logger)
	if err != nil {
		return false, err
	}
	reg, err := store.Load()
	if err != nil {
		return false, err
	}
	if !reg.Remove(id, version) {
		return false, nil
	}
	if err := store.Save(reg); err != nil {
		return true, err
	}
	logger.Info("Baseline entry removed", "id", id, "version", version, "path", store.Path())
	return true, nil
}
