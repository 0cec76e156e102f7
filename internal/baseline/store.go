package baseline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tangle/internal/duplicates"
	tgerrors "tangle/internal/errors"
	"tangle/internal/slogutil"
	"tangle/internal/storage"
)

// Store persists a registry.
type Store interface {
	Load() (*Registry, error)
	Save(r *Registry) error
	Path() string
}

// fileDocument is the on-disk layout shared by the YAML, JSON and TOML stores.
type fileDocument struct {
	Version int                        `json:"version" yaml:"version" toml:"version"`
	Updated string                     `json:"updated,omitempty" yaml:"updated,omitempty" toml:"updated,omitempty"`
	Blocks  []duplicates.BaselineEntry `json:"blocks" yaml:"blocks" toml:"blocks"`
}

type codec struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

var codecs = map[string]codec{
	".yaml": {marshal: yaml.Marshal, unmarshal: yaml.Unmarshal},
	".yml":  {marshal: yaml.Marshal, unmarshal: yaml.Unmarshal},
	".json": {
		marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
		unmarshal: json.Unmarshal,
	},
	".toml": {
		marshal: func(v any) ([]byte, error) {
			var buf bytes.Buffer
			err := toml.NewEncoder(&buf).Encode(v)
			return buf.Bytes(), err
		},
		unmarshal: toml.Unmarshal,
	},
}

// Open picks a store by the file extension of path: .yaml/.yml, .json,
// .toml, or .db/.sqlite for SQLite.
func Open(path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".db" || ext == ".sqlite" {
		return &sqlStore{path: path, logger: logger}, nil
	}
	c, ok := codecs[ext]
	if !ok {
		return nil, tgerrors.NewConfigError("duplicates.baseline", fmt.Sprintf("unsupported baseline format %q", ext))
	}
	return &fileStore{path: path, codec: c}, nil
}

type fileStore struct {
	path  string
	codec codec
}

func (s *fileStore) Path() string { return s.path }

// Load returns an empty registry when the file does not exist yet.
func (s *fileStore) Load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, tgerrors.NewIOError(s.path, err)
	}

	var doc fileDocument
	if err := s.codec.unmarshal(data, &doc); err != nil {
		return nil, tgerrors.New(tgerrors.ConfigError, fmt.Sprintf("baseline %s is malformed", s.path), err)
	}
	if doc.Version > FormatVersion {
		return nil, tgerrors.NewConfigError("duplicates.baseline", fmt.Sprintf("baseline format version %d is newer than supported %d", doc.Version, FormatVersion))
	}

	r := New()
	for _, e := range doc.Blocks {
		r.Put(e)
	}
	if doc.Updated != "" {
		r.updated, _ = time.Parse(time.RFC3339, doc.Updated)
	}
	return r, nil
}

// Save writes atomically through a temporary file in the same directory.
func (s *fileStore) Save(r *Registry) error {
	doc := fileDocument{Version: FormatVersion, Blocks: r.Entries()}
	if !r.updated.IsZero() {
		doc.Updated = r.updated.Format(time.RFC3339)
	}
	data, err := s.codec.marshal(doc)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return tgerrors.NewIOError(s.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".baseline-*")
	if err != nil {
		return tgerrors.NewIOError(s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return tgerrors.NewIOError(s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return tgerrors.NewIOError(s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return tgerrors.NewIOError(s.path, err)
	}
	return nil
}

type sqlStore struct {
	path   string
	logger *slog.Logger
}

func (s *sqlStore) Path() string { return s.path }

func (s *sqlStore) Load() (*Registry, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	db, err := storage.Open(s.path, s.logger)
	if err != nil {
		return nil, tgerrors.NewIOError(s.path, err)
	}
	defer db.Close()

	entries, err := db.BaselineEntries()
	if err != nil {
		return nil, tgerrors.NewIOError(s.path, err)
	}
	r := New()
	for _, e := range entries {
		r.Put(e)
	}
	return r, nil
}

func (s *sqlStore) Save(r *Registry) error {
	db, err := storage.Open(s.path, s.logger)
	if err != nil {
		return tgerrors.NewIOError(s.path, err)
	}
	defer db.Close()
	if err := db.ReplaceBaseline(r.Entries()); err != nil {
		return tgerrors.NewIOError(s.path, err)
	}
	return nil
}
