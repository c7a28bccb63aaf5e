// Command sqllint checks that every SQL constant starts with a unique
// "--sql <uuid>" marker, the key SQLRunner logs queries under.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	looksLikeSQL = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	validMarker  = regexp.MustCompile(`^--sql [0-9a-f]{8}(-[0-9a-f]{4}){3}-[0-9a-f]{12}$`)
)

type finding struct {
	pos   token.Position
	name  string
	msg   string
}

func (f finding) String() string {
	return fmt.Sprintf("%s:%d %s: %s", f.pos.Filename, f.pos.Line, f.name, f.msg)
}

type linter struct {
	fset     *token.FileSet
	owners   map[string]finding
	findings []finding
}

func newLinter() *linter {
	return &linter{fset: token.NewFileSet(), owners: map[string]finding{}}
}

func main() {
	flag.Parse()
	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"internal/sqlinline"}
	}

	l := newLinter()
	for _, root := range roots {
		if err := l.walk(root); err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
	}
	if len(l.findings) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "sqllint: %d problem(s)\n", len(l.findings))
	for _, f := range l.findings {
		fmt.Fprintln(os.Stderr, "  "+f.String())
	}
	os.Exit(1)
}

func (l *linter) walk(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "vendor"):
			return filepath.SkipDir
		case d.IsDir() || filepath.Ext(path) != ".go":
			return nil
		}
		return l.file(path)
	})
}

func (l *linter) file(path string) error {
	parsed, err := parser.ParseFile(l.fset, path, nil, 0)
	if err != nil {
		return err
	}
	for _, decl := range parsed.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || (gen.Tok != token.CONST && gen.Tok != token.VAR) {
			continue
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			for i, value := range vs.Values {
				lit, ok := value.(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING || i >= len(vs.Names) {
					continue
				}
				l.check(vs.Names[i].Name, lit)
			}
		}
	}
	return nil
}

func (l *linter) check(name string, lit *ast.BasicLit) {
	text, err := strconv.Unquote(lit.Value)
	if err != nil || !looksLikeSQL.MatchString(text) {
		return
	}
	here := finding{pos: l.fset.Position(lit.Pos()), name: name}
	head, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	head = strings.TrimSpace(head)
	if !validMarker.MatchString(head) {
		here.msg = "missing or malformed --sql <uuid> marker"
		l.findings = append(l.findings, here)
		return
	}
	if first, dup := l.owners[head]; dup {
		here.msg = fmt.Sprintf("marker reused from %s (%s:%d)", first.name, first.pos.Filename, first.pos.Line)
		l.findings = append(l.findings, here)
		return
	}
	l.owners[head] = here
}
