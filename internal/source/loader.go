// Package source discovers and reads candidate files under an analysis root.
package source

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/crypto/blake2b"

	tgerrors "tangle/internal/errors"
)

// TextLanguage tags files that have no grammar but take part in text-mode duplicate detection.
const TextLanguage = "text"

// File is one loaded source file. It is never modified after Load returns.
type File struct {
	Path     string `json:"path"` // root-relative, forward slashes
	AbsPath  string `json:"-"`
	Hash     string `json:"hash"`
	Language string `json:"language"`
	Lines    int    `json:"lines"`
	Content  []byte `json:"-"`
}

// Classifier maps a path to a language tag; ok is false for unknown extensions.
type Classifier func(path string) (lang string, ok bool)

// Rules controls which files are candidates and how they are read.
type Rules struct {
	Exclude          []string
	IncludeText      []string
	MaxLines         int
	MaxBytes         int64
	RespectGitignore bool
	ReadTimeout      time.Duration
}

// Skip marks a discovered file that was deliberately not loaded.
type Skip struct {
	Path   string
	Reason string
}

func (s *Skip) Error() string {
	return fmt.Sprintf("skipped %s: %s", s.Path, s.Reason)
}

var skipDirs = map[string]struct{}{
	"__pycache__":  {},
	"node_modules": {},
	".git":         {},
	".hg":          {},
	".svn":         {},
	".tangle":      {},
	"venv":         {},
	".venv":        {},
	"vendor":       {},
	"build":        {},
	"dist":         {},
	"target":       {},
	".tox":         {},
	".mypy_cache":  {},
}

var generatedSuffixes = []string{".pb.go", "_generated.go", ".gen.go", ".min.js", ".min.css", ".d.ts"}

var generatedMarkers = [][]byte{
	[]byte("Code generated"),
	[]byte("@generated"),
	[]byte("DO NOT EDIT"),
}

// Loader discovers and reads files under a root directory.
type Loader struct {
	root     string
	rules    Rules
	classify Classifier
	text     map[string]struct{}
	ignores  []*ignore.GitIgnore
	logger   *slog.Logger

	// readFile is swapped in tests to simulate slow or failing reads.
	readFile func(path string, limit int64) ([]byte, error)
}

// NewLoader creates a loader for root.
func NewLoader(root string, rules Rules, classify Classifier, logger *slog.Logger) *Loader {
	if rules.ReadTimeout <= 0 {
		rules.ReadTimeout = 5 * time.Second
	}
	text := make(map[string]struct{}, len(rules.IncludeText))
	for _, ext := range rules.IncludeText {
		text[strings.ToLower(ext)] = struct{}{}
	}
	l := &Loader{
		root:     root,
		rules:    rules,
		classify: classify,
		text:     text,
		logger:   logger,
		readFile: readLimited,
	}
	if rules.RespectGitignore {
		for _, name := range []string{".gitignore", ".tangleignore"} {
			if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, name)); err == nil {
				l.ignores = append(l.ignores, gi)
			}
		}
	}
	return l
}

// Root returns the absolute analysis root.
func (l *Loader) Root() string {
	return l.root
}

// Language returns the language tag for rel, or "" when the file is not a candidate.
func (l *Loader) Language(rel string) string {
	if l.classify != nil {
		if lang, ok := l.classify(rel); ok {
			return lang
		}
	}
	if _, ok := l.text[strings.ToLower(filepath.Ext(rel))]; ok {
		return TextLanguage
	}
	return ""
}

// Discover walks the root and returns candidate paths in lexical order.
// It may be called any number of times; each call rescans the tree.
func (l *Loader) Discover(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == l.root {
				return err
			}
			l.logger.Warn("Cannot walk path", "path", path, "error", err)
			return nil
		}

		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == l.root {
				return nil
			}
			if !l.Candidate(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 || !l.Candidate(rel, false) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, tgerrors.NewIOError(l.root, err)
	}
	return paths, nil
}

// Candidate applies Discover's rules to one root-relative path: whether a
// directory is descended into, or whether a file is analyzed.
func (l *Loader) Candidate(rel string, dir bool) bool {
	name := path.Base(rel)
	if dir {
		if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
			return false
		}
		return !l.ignored(rel, true)
	}
	if strings.HasPrefix(name, ".") || isGeneratedName(name) || l.ignored(rel, false) {
		return false
	}
	return l.Language(rel) != ""
}

func (l *Loader) ignored(rel string, dir bool) bool {
	for _, pattern := range l.rules.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if dir {
			if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
				return true
			}
		}
	}
	for _, gi := range l.ignores {
		if gi.MatchesPath(rel) || (dir && gi.MatchesPath(rel+"/")) {
			return true
		}
	}
	return false
}

func isGeneratedName(name string) bool {
	for _, suffix := range generatedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Load reads one candidate file. Unreadable or timed-out files yield a coded
// IO_ERROR or TIMEOUT; files excluded by content rules yield a *Skip.
func (l *Loader) Load(ctx context.Context, rel string) (*File, error) {
	abs := filepath.Join(l.root, filepath.FromSlash(rel))
	content, err := l.read(ctx, abs, rel)
	if err != nil {
		return nil, err
	}

	head := content
	if len(head) > 8192 {
		head = head[:8192]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, &Skip{Path: rel, Reason: "binary content"}
	}
	if hasGeneratedHeader(head) {
		return nil, &Skip{Path: rel, Reason: "generated file"}
	}

	lines := CountLines(content)
	if l.rules.MaxLines > 0 && lines > l.rules.MaxLines {
		return nil, &Skip{Path: rel, Reason: fmt.Sprintf("%d lines exceeds limit of %d", lines, l.rules.MaxLines)}
	}

	return &File{
		Path:     rel,
		AbsPath:  abs,
		Hash:     Hash(content),
		Language: l.Language(rel),
		Lines:    lines,
		Content:  content,
	}, nil
}

func (l *Loader) read(ctx context.Context, abs, rel string) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, l.rules.ReadTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := l.readFile(abs, l.rules.MaxBytes)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var skip *Skip
			if errors.As(r.err, &skip) {
				skip.Path = rel
				return nil, skip
			}
			return nil, tgerrors.NewIOError(rel, r.err)
		}
		return r.data, nil
	case <-readCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tgerrors.NewTimeoutError(rel, readCtx.Err())
	}
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if limit > 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if info.Size() > limit {
			return nil, &Skip{Reason: fmt.Sprintf("%d bytes exceeds limit of %d", info.Size(), limit)}
		}
	}
	return io.ReadAll(f)
}

func hasGeneratedHeader(head []byte) bool {
	// Only the leading comment block counts.
	if len(head) > 1024 {
		head = head[:1024]
	}
	matches := 0
	for _, marker := range generatedMarkers {
		if bytes.Contains(head, marker) {
			matches++
		}
	}
	return matches >= 2 || bytes.Contains(head, []byte("@generated"))
}

// Files yields every loadable file under the root, lazily and in lexical order.
// Per-file failures are yielded as errors and iteration continues; a discovery
// failure is yielded once and ends the sequence.
func (l *Loader) Files(ctx context.Context) iter.Seq2[*File, error] {
	return func(yield func(*File, error) bool) {
		paths, err := l.Discover(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, rel := range paths {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			f, err := l.Load(ctx, rel)
			if !yield(f, err) {
				return
			}
		}
	}
}

// Hash returns the BLAKE2b-256 hex digest of content.
func Hash(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CountLines counts lines the way editors do: a trailing newline does not start a new line.
func CountLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
