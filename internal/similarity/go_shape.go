package similarity

import (
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"path"
	"reflect"
	"strconv"
)

// goShape returns the AST node-type counts and identifier set of Go source.
// Identifiers come from the scanner so that they survive a failed parse.
func goShape(filename, src string) (map[string]int, map[string]struct{}, error) {
	idents := goIdentifiers(src)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, idents, err
	}

	counts := make(map[string]int)
	ast.Inspect(file, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		t := reflect.TypeOf(n)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		counts[t.Name()]++
		return true
	})
	return counts, idents, nil
}

// goIdentifiers collects identifiers not preceded by '.', minus predeclared names,
// the package name and the names of imported packages.
func goIdentifiers(src string) map[string]struct{} {
	fset := token.NewFileSet()
	body := []byte(src)
	file := fset.AddFile("", fset.Base(), len(body))

	var s scanner.Scanner
	s.Init(file, body, func(token.Position, string) {}, 0)

	idents := make(map[string]struct{})
	excluded := make(map[string]bool)

	var (
		prev      token.Token
		inImport  bool
		importPar bool
	)
	for {
		_, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		switch {
		case tok == token.IMPORT:
			inImport = true
		case inImport && tok == token.LPAREN:
			importPar = true
		case inImport && tok == token.STRING:
			if p, err := strconv.Unquote(lit); err == nil {
				excluded[path.Base(p)] = true
			}
			if !importPar {
				inImport = false
			}
		case inImport && importPar && tok == token.RPAREN:
			inImport, importPar = false, false
		case tok == token.IDENT:
			switch {
			case prev == token.PACKAGE:
				excluded[lit] = true
			case inImport:
				// import alias
				excluded[lit] = true
			case prev != token.PERIOD && !goPredeclared[lit]:
				idents[lit] = struct{}{}
			}
		}
		prev = tok
	}

	for name := range excluded {
		delete(idents, name)
	}
	return idents
}
