package graph

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"

	"tangle/internal/parse"
)

// ReadModulePath returns the Go module path declared in root/go.mod, or ""
// when there is none.
func ReadModulePath(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}

type funcRef struct {
	path string
	name string // qualified
}

// resolver maps unresolved imports and calls onto analyzed files. It is
// read-only once built, so pass 2 can share it across goroutines.
type resolver struct {
	modulePath string
	units      map[string]*parse.Unit
	stems      map[string][]string // path without extension
	suffixes   map[string][]string // every trailing run of stem segments
	dirs       map[string][]string
	packages   map[string][]string // declared package (Java, Kotlin, Go)
	funcs      map[string][]funcRef
}

func newResolver(units []*parse.Unit, modulePath string) *resolver {
	r := &resolver{
		modulePath: modulePath,
		units:      make(map[string]*parse.Unit, len(units)),
		stems:      make(map[string][]string),
		suffixes:   make(map[string][]string),
		dirs:       make(map[string][]string),
		packages:   make(map[string][]string),
		funcs:      make(map[string][]funcRef),
	}
	for _, u := range units {
		r.units[u.Path] = u
		stem := strings.TrimSuffix(u.Path, path.Ext(u.Path))
		r.stems[stem] = append(r.stems[stem], u.Path)

		segs := strings.Split(stem, "/")
		for i := range segs {
			key := strings.Join(segs[i:], "/")
			r.suffixes[key] = append(r.suffixes[key], u.Path)
		}

		if !strings.HasSuffix(u.Path, "_test.go") {
			dir := path.Dir(u.Path)
			r.dirs[dir] = append(r.dirs[dir], u.Path)
		}
		if u.Package != "" {
			r.packages[u.Package] = append(r.packages[u.Package], u.Path)
		}
		for _, fn := range u.Functions {
			bare := bareName(fn.Name)
			r.funcs[bare] = append(r.funcs[bare], funcRef{path: u.Path, name: fn.Name})
		}
	}
	for _, m := range []map[string][]string{r.stems, r.suffixes, r.dirs, r.packages} {
		for k := range m {
			sort.Strings(m[k])
		}
	}
	return r
}

// bareName strips the type qualifier and duplicate suffix from a function name.
func bareName(qualified string) string {
	if i := strings.IndexByte(qualified, '#'); i >= 0 {
		qualified = qualified[:i]
	}
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		qualified = qualified[i+1:]
	}
	return qualified
}

func family(lang parse.Language) string {
	switch lang {
	case parse.LangJavaScript, parse.LangTypeScript, parse.LangTSX:
		return "js"
	case parse.LangJava, parse.LangKotlin:
		return "jvm"
	default:
		return string(lang)
	}
}

// sameFamily keeps candidates written in a language compatible with from.
func (r *resolver) sameFamily(from *parse.Unit, paths []string) []string {
	var out []string
	for _, p := range paths {
		if p == from.Path {
			continue
		}
		if u := r.units[p]; u != nil && family(u.Language) == family(from.Language) {
			out = append(out, p)
		}
	}
	return out
}

// lookupStem finds the file for a module stem: exact match first, then a
// unique suffix match, then the suffix match closest to from.
func (r *resolver) lookupStem(from *parse.Unit, stem string) []string {
	stem = strings.Trim(path.Clean(stem), "/")
	if stem == "" || stem == "." {
		return nil
	}
	if hits := r.sameFamily(from, r.stems[stem]); len(hits) > 0 {
		return hits[:1]
	}
	hits := r.sameFamily(from, r.suffixes[stem])
	switch len(hits) {
	case 0:
		return nil
	case 1:
		return hits
	}
	best, bestLen := hits[0], -1
	for _, h := range hits {
		if n := commonPrefix(h, from.Path); n > bestLen {
			best, bestLen = h, n
		}
	}
	return []string{best}
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// resolveImport returns the analyzed files an import refers to.
func (r *resolver) resolveImport(from *parse.Unit, imp parse.Import) []string {
	var hits []string
	switch family(from.Language) {
	case "go":
		hits = r.resolveGo(from, imp.Target)
	case "js":
		hits = r.resolveJS(from, imp.Target)
	case "python":
		hits = r.resolvePython(from, imp)
	case "rust":
		hits = r.resolveRust(from, imp.Target)
	case "jvm":
		hits = r.resolveJVM(from, imp.Target)
	}
	if len(hits) == 0 {
		hits = r.resolveByName(from, imp.Target)
	}
	return hits
}

func (r *resolver) resolveGo(from *parse.Unit, target string) []string {
	if strings.HasPrefix(target, ".") {
		return r.sameFamily(from, r.dirs[path.Clean(path.Join(path.Dir(from.Path), target))])
	}
	if r.modulePath == "" {
		return nil
	}
	var dir string
	switch {
	case target == r.modulePath:
		dir = "."
	case strings.HasPrefix(target, r.modulePath+"/"):
		dir = strings.TrimPrefix(target, r.modulePath+"/")
	default:
		return nil
	}
	return r.sameFamily(from, r.dirs[dir])
}

var jsIndexStems = []string{"", "/index"}

func (r *resolver) resolveJS(from *parse.Unit, target string) []string {
	if !strings.HasPrefix(target, ".") {
		return nil
	}
	base := path.Join(path.Dir(from.Path), target)
	if _, ok := r.units[base]; ok && base != from.Path {
		return []string{base}
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	for _, suffix := range jsIndexStems {
		if hits := r.sameFamily(from, r.stems[base+suffix]); len(hits) > 0 {
			return hits[:1]
		}
	}
	return nil
}

func (r *resolver) resolvePython(from *parse.Unit, imp parse.Import) []string {
	target := imp.Target
	var candidates []string
	if strings.HasPrefix(target, ".") {
		dots := len(target) - len(strings.TrimLeft(target, "."))
		dir := path.Dir(from.Path)
		for i := 1; i < dots; i++ {
			dir = path.Dir(dir)
		}
		rest := strings.ReplaceAll(target[dots:], ".", "/")
		base := path.Join(dir, rest)
		for _, name := range imp.Names {
			candidates = append(candidates, path.Join(base, name))
		}
		candidates = append(candidates, base, path.Join(base, "__init__"))
		for _, c := range candidates {
			if hits := r.sameFamily(from, r.stems[path.Clean(c)]); len(hits) > 0 {
				return hits[:1]
			}
		}
		return nil
	}

	mod := strings.ReplaceAll(target, ".", "/")
	for _, name := range imp.Names {
		candidates = append(candidates, mod+"/"+name)
	}
	candidates = append(candidates, mod, mod+"/__init__")
	for _, c := range candidates {
		if hits := r.lookupStem(from, c); len(hits) > 0 {
			return hits
		}
	}
	return nil
}

func (r *resolver) resolveRust(from *parse.Unit, target string) []string {
	segs := strings.Split(target, "::")
	if len(segs) < 2 {
		return nil
	}
	var base string
	switch segs[0] {
	case "crate":
		base = r.crateRoot(from.Path)
	case "self":
		base = rustModuleDir(from.Path)
	case "super":
		base = path.Dir(rustModuleDir(from.Path))
	default:
		return nil
	}
	segs = segs[1:]
	// The tail may name an item rather than a module; drop segments until a
	// file matches.
	for n := len(segs); n > 0; n-- {
		stem := path.Join(append([]string{base}, segs[:n]...)...)
		for _, c := range []string{stem, stem + "/mod"} {
			if hits := r.sameFamily(from, r.stems[path.Clean(c)]); len(hits) > 0 {
				return hits[:1]
			}
		}
	}
	return nil
}

// crateRoot is the nearest ancestor directory holding lib.rs or main.rs.
func (r *resolver) crateRoot(file string) string {
	dir := path.Dir(file)
	for {
		for _, root := range []string{"lib.rs", "main.rs"} {
			if _, ok := r.units[path.Join(dir, root)]; ok {
				return dir
			}
		}
		if dir == "." || dir == "/" {
			return path.Dir(file)
		}
		dir = path.Dir(dir)
	}
}

// rustModuleDir is where a file's child modules live.
func rustModuleDir(file string) string {
	switch path.Base(file) {
	case "mod.rs", "lib.rs", "main.rs":
		return path.Dir(file)
	}
	return strings.TrimSuffix(file, ".rs")
}

func (r *resolver) resolveJVM(from *parse.Unit, target string) []string {
	if hits := r.lookupStem(from, strings.ReplaceAll(target, ".", "/")); len(hits) > 0 {
		return hits
	}
	if hits := r.sameFamily(from, r.packages[target]); len(hits) > 0 {
		return hits
	}
	i := strings.LastIndexByte(target, '.')
	if i < 0 {
		return nil
	}
	pkg, name := target[:i], target[i+1:]
	var hits []string
	for _, p := range r.sameFamily(from, r.packages[pkg]) {
		if strings.TrimSuffix(path.Base(p), path.Ext(p)) == name {
			return []string{p}
		}
		hits = append(hits, p)
	}
	// Member imports (functions, constants) depend on the whole package.
	return hits
}

// resolveByName is the last resort: the final segment of the target names
// exactly one analyzed file of the same language family.
func (r *resolver) resolveByName(from *parse.Unit, target string) []string {
	name := target
	if i := strings.LastIndexAny(name, "/.:"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return nil
	}
	hits := r.sameFamily(from, r.suffixes[name])
	if len(hits) == 1 {
		return hits
	}
	return nil
}

// resolveCall finds the function a call refers to: a function of the same
// file first, then a uniquely identified function elsewhere.
func (r *resolver) resolveCall(from *parse.Unit, c parse.Call) (funcRef, bool) {
	local := c.Qualifier == "" || isReceiver(c.Qualifier)
	if local {
		for _, fn := range from.Functions {
			if bareName(fn.Name) == c.Callee && fn.Name != c.Caller {
				return funcRef{path: from.Path, name: fn.Name}, true
			}
		}
		if c.Qualifier != "" {
			return funcRef{}, false
		}
	}

	var candidates []funcRef
	for _, ref := range r.funcs[c.Callee] {
		if ref.path == from.Path {
			continue
		}
		if u := r.units[ref.path]; u == nil || family(u.Language) != family(from.Language) {
			continue
		}
		candidates = append(candidates, ref)
	}
	if len(candidates) > 1 && c.Qualifier != "" {
		var narrowed []funcRef
		for _, ref := range candidates {
			if qualifierMatches(ref, c.Qualifier) {
				narrowed = append(narrowed, ref)
			}
		}
		candidates = narrowed
	}
	if len(candidates) != 1 {
		return funcRef{}, false
	}
	return candidates[0], true
}

func isReceiver(q string) bool {
	switch q {
	case "self", "this", "super", "Self", "cls":
		return true
	}
	return false
}

// qualifierMatches reports whether the object a call goes through plausibly
// names the candidate: its type, its file, or its package directory.
func qualifierMatches(ref funcRef, qualifier string) bool {
	if i := strings.LastIndexByte(ref.name, '.'); i >= 0 && ref.name[:i] == qualifier {
		return true
	}
	stem := strings.TrimSuffix(path.Base(ref.path), path.Ext(ref.path))
	return stem == qualifier || path.Base(path.Dir(ref.path)) == qualifier
}
