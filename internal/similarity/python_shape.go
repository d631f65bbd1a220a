package similarity

import (
	"errors"
	"fmt"
)

// pythonShape returns the syntax-category counts and identifier set of Python source.
// Identifiers are collected even when the source does not parse.
func pythonShape(src string) (map[string]int, map[string]struct{}, error) {
	toks, lexErr := lexPython(src)
	idents := pythonIdentifiers(toks)
	if lexErr != nil {
		return nil, idents, lexErr
	}
	lines, err := pyLogicalLines(toks)
	if err != nil {
		return nil, idents, err
	}

	counts := map[string]int{"Module": 1}
	for _, line := range lines {
		classifyPyStatement(line, counts)
	}
	return counts, idents, nil
}

func pythonIdentifiers(toks []pyToken) map[string]struct{} {
	idents := make(map[string]struct{})
	for i, tok := range toks {
		if tok.kind != pyName || pyKeywords[tok.text] || pyBuiltins[tok.text] {
			continue
		}
		if i > 0 && toks[i-1].kind == pyOp && toks[i-1].text == "." {
			continue
		}
		idents[tok.text] = struct{}{}
	}
	return idents
}

// pyLogicalLines splits tokens into logical lines and checks block structure:
// a line ending in ':' opens an indented block, and only such a line may.
func pyLogicalLines(toks []pyToken) ([][]pyToken, error) {
	var (
		lines        [][]pyToken
		cur          []pyToken
		expectIndent bool
		expectLine   int
	)
	for _, tok := range toks {
		switch tok.kind {
		case pyNewline:
			if len(cur) == 0 {
				continue
			}
			lines = append(lines, cur)
			last := cur[len(cur)-1]
			expectIndent = last.kind == pyOp && last.text == ":"
			expectLine = last.line
			cur = nil
		case pyIndent:
			if !expectIndent {
				return nil, fmt.Errorf("line %d: unexpected indent", tok.line)
			}
			expectIndent = false
		case pyDedent:
			if expectIndent {
				return nil, fmt.Errorf("line %d: expected an indented block", expectLine)
			}
		default:
			if expectIndent {
				return nil, fmt.Errorf("line %d: expected an indented block", expectLine)
			}
			cur = append(cur, tok)
		}
	}
	if expectIndent {
		return nil, fmt.Errorf("line %d: expected an indented block", expectLine)
	}
	if len(cur) > 0 {
		return nil, errors.New("unterminated logical line")
	}
	return lines, nil
}

var pyCompound = map[string]string{
	"def":     "FunctionDef",
	"class":   "ClassDef",
	"if":      "If",
	"elif":    "If",
	"while":   "While",
	"for":     "For",
	"try":     "Try",
	"except":  "ExceptHandler",
	"with":    "With",
	"else":    "",
	"finally": "",
}

var pySimple = map[string]string{
	"return":   "Return",
	"import":   "Import",
	"from":     "ImportFrom",
	"raise":    "Raise",
	"pass":     "Pass",
	"break":    "Break",
	"continue": "Continue",
	"global":   "Global",
	"nonlocal": "Nonlocal",
	"del":      "Delete",
	"assert":   "Assert",
}

var pyAugOps = map[string]bool{
	"+=": true, "-=": true, "*=": true, "/=": true, "//=": true, "%=": true, "**=": true,
	"@=": true, "&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

var pyBinOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "//": true, "%": true, "**": true,
	"@": true, "<<": true, ">>": true, "&": true, "|": true, "^": true,
}

var pyCompareOps = map[string]bool{
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
}

func classifyPyStatement(toks []pyToken, counts map[string]int) {
	if len(toks) == 0 {
		return
	}
	base := toks[0].depth

	if parts := splitTopLevel(toks, base, ";"); len(parts) > 1 {
		for _, p := range parts {
			classifyPyStatement(p, counts)
		}
		return
	}

	first := toks[0]
	if first.kind == pyOp && first.text == "@" {
		counts["decorator"]++
		classifyPyExpr(toks[1:], counts, pyExprMode{paramDepth: -1})
		return
	}

	if first.kind == pyName {
		kw, rest := first.text, toks[1:]
		if kw == "async" && len(rest) > 0 && rest[0].kind == pyName {
			counts["Async"]++
			kw, rest = rest[0].text, rest[1:]
		}

		if cat, ok := pyCompound[kw]; ok {
			if cat != "" {
				counts[cat]++
			}
			header, body := splitHeader(rest, base)
			switch kw {
			case "def":
				classifyPyDef(header, counts)
			case "class":
				if len(header) > 0 {
					classifyPyExpr(header[1:], counts, pyExprMode{paramDepth: -1, bases: true})
				}
			case "for":
				classifyPyExpr(header, counts, pyExprMode{paramDepth: -1, forHeader: true})
			default:
				classifyPyExpr(header, counts, pyExprMode{paramDepth: -1})
			}
			classifyPyStatement(body, counts)
			return
		}

		if cat, ok := pySimple[kw]; ok {
			counts[cat]++
			if kw == "import" || kw == "from" {
				for _, t := range rest {
					if t.kind == pyName && t.text != "import" && t.text != "as" {
						counts["alias"]++
					}
				}
				return
			}
			classifyPyExpr(rest, counts, pyExprMode{paramDepth: -1})
			return
		}
	}

	switch {
	case hasTopLevel(toks, base, "="):
		counts["Assign"]++
	case hasTopLevelFunc(toks, base, func(t pyToken) bool { return t.kind == pyOp && pyAugOps[t.text] }):
		counts["AugAssign"]++
	case first.kind == pyName && len(toks) > 1 && toks[1].kind == pyOp && toks[1].text == ":":
		counts["AnnAssign"]++
	default:
		counts["Expr"]++
	}
	classifyPyExpr(toks, counts, pyExprMode{paramDepth: -1})
}

// classifyPyDef handles "name(params) [-> ann]" of a function header.
func classifyPyDef(header []pyToken, counts map[string]int) {
	if len(header) < 2 || header[1].text != "(" {
		classifyPyExpr(header, counts, pyExprMode{paramDepth: -1})
		return
	}
	counts["arguments"]++
	classifyPyExpr(header[1:], counts, pyExprMode{paramDepth: header[1].depth + 1, params: true})
}

type pyExprMode struct {
	paramDepth int  // depth of parameter names when params is set
	params     bool // tokens start with the parameter list of a def
	forHeader  bool // first top-level "in" belongs to a for statement
	bases      bool // tokens start with the base list of a class
}

func classifyPyExpr(toks []pyToken, counts map[string]int, mode pyExprMode) {
	if len(toks) == 0 {
		return
	}
	skipIn := make(map[int]bool)
	forSeen := make(map[int]bool)
	if mode.forHeader {
		skipIn[toks[0].depth] = true
	}

	for i, tok := range toks {
		var prev *pyToken
		if i > 0 {
			prev = &toks[i-1]
		}

		switch tok.kind {
		case pyNumber:
			counts["Constant"]++
		case pyString:
			if prev != nil && prev.kind == pyString {
				continue
			}
			if tok.fstr {
				counts["JoinedStr"]++
			} else {
				counts["Constant"]++
			}
		case pyName:
			if pyKeywords[tok.text] {
				classifyPyKeyword(toks, i, counts, skipIn, forSeen)
				continue
			}
			switch {
			case prev != nil && prev.kind == pyOp && prev.text == ".":
				counts["Attribute"]++
			case mode.params && tok.depth == mode.paramDepth && (prev == nil || isOneOf(*prev, "(", ",", "*", "**", "/")):
				counts["arg"]++
			default:
				counts["Name"]++
			}
		case pyOp:
			if (mode.params || mode.bases) && i == 0 && tok.text == "(" {
				continue
			}
			classifyPyOp(toks, i, prev, counts, mode)
		}
	}
}

func classifyPyKeyword(toks []pyToken, i int, counts map[string]int, skipIn, forSeen map[int]bool) {
	tok := toks[i]
	switch tok.text {
	case "True", "False", "None":
		counts["Constant"]++
	case "and", "or":
		counts["BoolOp"]++
	case "not":
		if i+1 < len(toks) && toks[i+1].text == "in" {
			return
		}
		if i > 0 && toks[i-1].text == "is" {
			return
		}
		counts["UnaryOp"]++
	case "in":
		if skipIn[tok.depth] {
			delete(skipIn, tok.depth)
			return
		}
		counts["Compare"]++
	case "is":
		counts["Compare"]++
	case "lambda":
		counts["Lambda"]++
	case "await":
		counts["Await"]++
	case "yield":
		counts["Yield"]++
	case "for":
		counts["comprehension"]++
		skipIn[tok.depth] = true
		forSeen[tok.depth] = true
	case "if":
		if !forSeen[tok.depth] {
			counts["IfExp"]++
		}
	}
}

func classifyPyOp(toks []pyToken, i int, prev *pyToken, counts map[string]int, mode pyExprMode) {
	tok := toks[i]
	switch {
	case tok.text == "(":
		switch {
		case isCallable(prev):
			counts["Call"]++
		case groupHas(toks, i, func(t pyToken) bool { return t.kind == pyName && t.text == "for" }):
			counts["GeneratorExp"]++
		case groupHas(toks, i, func(t pyToken) bool { return t.kind == pyOp && t.text == "," }):
			counts["Tuple"]++
		}
	case tok.text == "[":
		hasFor := groupHas(toks, i, func(t pyToken) bool { return t.kind == pyName && t.text == "for" })
		switch {
		case isCallable(prev):
			counts["Subscript"]++
			if groupHas(toks, i, func(t pyToken) bool { return t.kind == pyOp && t.text == ":" }) {
				counts["Slice"]++
			}
		case hasFor:
			counts["ListComp"]++
		default:
			counts["List"]++
		}
	case tok.text == "{":
		hasFor := groupHas(toks, i, func(t pyToken) bool { return t.kind == pyName && t.text == "for" })
		isDict := groupEmpty(toks, i) || groupHas(toks, i, func(t pyToken) bool {
			return t.kind == pyOp && (t.text == ":" || t.text == "**")
		})
		switch {
		case hasFor && isDict:
			counts["DictComp"]++
		case hasFor:
			counts["SetComp"]++
		case isDict:
			counts["Dict"]++
		default:
			counts["Set"]++
		}
	case tok.text == "~":
		counts["UnaryOp"]++
	case pyBinOps[tok.text]:
		if !unaryContext(prev) {
			counts["BinOp"]++
			return
		}
		switch tok.text {
		case "-", "+":
			counts["UnaryOp"]++
		case "*":
			if !mode.params {
				counts["Starred"]++
			}
		}
	case pyCompareOps[tok.text]:
		counts["Compare"]++
	case tok.text == ":=":
		counts["NamedExpr"]++
	case tok.text == "=":
		if !mode.params && len(toks) > 0 && tok.depth > toks[0].depth {
			counts["keyword"]++
		}
	}
}

func isCallable(prev *pyToken) bool {
	if prev == nil {
		return false
	}
	switch prev.kind {
	case pyName:
		return !pyKeywords[prev.text] || prev.text == "None" || prev.text == "True" || prev.text == "False"
	case pyString:
		return true
	case pyOp:
		return prev.text == ")" || prev.text == "]"
	}
	return false
}

func unaryContext(prev *pyToken) bool {
	if prev == nil {
		return true
	}
	switch prev.kind {
	case pyOp:
		return prev.text != ")" && prev.text != "]" && prev.text != "}"
	case pyName:
		return pyKeywords[prev.text] && prev.text != "True" && prev.text != "False" && prev.text != "None"
	}
	return false
}

func isOneOf(tok pyToken, texts ...string) bool {
	if tok.kind != pyOp {
		return false
	}
	for _, t := range texts {
		if tok.text == t {
			return true
		}
	}
	return false
}

// groupHas reports whether a direct child of the bracket group opened at toks[open] matches.
func groupHas(toks []pyToken, open int, match func(pyToken) bool) bool {
	depth := toks[open].depth
	for j := open + 1; j < len(toks) && toks[j].depth > depth; j++ {
		if toks[j].depth == depth+1 && match(toks[j]) {
			return true
		}
	}
	return false
}

func groupEmpty(toks []pyToken, open int) bool {
	return open+1 >= len(toks) || toks[open+1].depth == toks[open].depth
}

// splitHeader splits a compound statement at the ':' that ends its header.
func splitHeader(toks []pyToken, depth int) ([]pyToken, []pyToken) {
	for i, t := range toks {
		if t.depth == depth && t.kind == pyOp && t.text == ":" {
			return toks[:i], toks[i+1:]
		}
	}
	return toks, nil
}

func splitTopLevel(toks []pyToken, depth int, sep string) [][]pyToken {
	var parts [][]pyToken
	start := 0
	for i, t := range toks {
		if t.depth == depth && t.kind == pyOp && t.text == sep {
			if i > start {
				parts = append(parts, toks[start:i])
			}
			start = i + 1
		}
	}
	if start < len(toks) {
		parts = append(parts, toks[start:])
	}
	return parts
}

func hasTopLevel(toks []pyToken, depth int, text string) bool {
	return hasTopLevelFunc(toks, depth, func(t pyToken) bool { return t.kind == pyOp && t.text == text })
}

func hasTopLevelFunc(toks []pyToken, depth int, match func(pyToken) bool) bool {
	for _, t := range toks {
		if t.depth == depth && match(t) {
			return true
		}
	}
	return false
}
