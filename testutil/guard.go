// Package testutil provides shared test helpers: a controllable clock and
// guards that keep package import boundaries honest.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// PersistenceImport matches import paths of the concrete error store drivers.
func PersistenceImport(path string) bool {
	return strings.Contains(path, "/internal/infra/persistence")
}

// InternalImport matches any import path containing /internal/.
func InternalImport(path string) bool {
	return strings.Contains(path, "/internal/")
}

// AssertNoDirectImports parses every non-test .go file in dir and fails when an
// import satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// AssertOnlyImporters loads pattern and fails when a package outside the
// allowed prefixes imports anything satisfying target. Packages that are
// themselves targets are skipped.
func AssertOnlyImporters(t testing.TB, pattern string, target func(importPath string) bool, allowed []string, reason string) {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	viols := importerViolations(pkgs, target, allowed)
	if len(viols) > 0 {
		t.Fatalf("unexpected importers (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

func importerViolations(pkgs []*packages.Package, target func(string) bool, allowed []string) []string {
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if target(pkg.PkgPath) || hasAnyPrefix(pkg.PkgPath, allowed) {
			continue
		}
		for ip := range pkg.Imports {
			if target(ip) {
				seen[pkg.PkgPath+" -> "+ip] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func directImportViolations(dir string, forbidden func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			ip := strings.Trim(imp.Path.Value, `"`)
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}
