package similarity

import (
	"fmt"
	"strings"
	"unicode"
)

type pyKind int

const (
	pyName pyKind = iota
	pyNumber
	pyString
	pyOp
	pyNewline
	pyIndent
	pyDedent
)

type pyToken struct {
	kind  pyKind
	text  string
	line  int
	fstr  bool // f-string literal
	depth int  // bracket depth before the token
}

// pyLexer tokenizes Python source the way the language's own tokenizer does for the
// purposes of shape comparison: names, numbers, strings, operators and the
// NEWLINE/INDENT/DEDENT structure. It keeps going after the first error so that
// identifiers can still be collected from malformed files.
type pyLexer struct {
	src     []rune
	pos     int
	line    int
	indents []int
	parens  []rune
	tokens  []pyToken
	err     error
}

func lexPython(src string) ([]pyToken, error) {
	lx := &pyLexer{
		src:     []rune(src),
		line:    1,
		indents: []int{0},
	}
	lx.run()
	return lx.tokens, lx.err
}

func (lx *pyLexer) fail(format string, args ...interface{}) {
	if lx.err == nil {
		lx.err = fmt.Errorf("line %d: %s", lx.line, fmt.Sprintf(format, args...))
	}
}

func (lx *pyLexer) emit(kind pyKind, text string) {
	lx.tokens = append(lx.tokens, pyToken{kind: kind, text: text, line: lx.line, depth: len(lx.parens)})
}

func (lx *pyLexer) peek(offset int) rune {
	if i := lx.pos + offset; i < len(lx.src) {
		return lx.src[i]
	}
	return 0
}

func (lx *pyLexer) run() {
	atLineStart := true
	for lx.pos < len(lx.src) {
		if atLineStart && len(lx.parens) == 0 {
			if !lx.indentation() {
				continue
			}
			atLineStart = false
		}

		ch := lx.src[lx.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\f' || ch == '\r':
			lx.pos++
		case ch == '\n':
			if len(lx.parens) == 0 {
				lx.newline()
				atLineStart = true
			}
			lx.pos++
			lx.line++
		case ch == '#':
			lx.skipComment()
		case ch == '\\':
			lx.pos++
			if lx.peek(0) == '\r' {
				lx.pos++
			}
			if lx.peek(0) != '\n' {
				lx.fail("unexpected character after line continuation")
				continue
			}
			lx.pos++
			lx.line++
		case ch == '"' || ch == '\'':
			lx.str("")
		case ch == '_' || unicode.IsLetter(ch):
			lx.name()
		case unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(lx.peek(1))):
			lx.number()
		default:
			lx.operator()
		}
	}

	if len(lx.parens) > 0 {
		lx.fail("unexpected EOF: unclosed %q", lx.parens[len(lx.parens)-1])
	}
	lx.newline()
	for len(lx.indents) > 1 {
		lx.indents = lx.indents[:len(lx.indents)-1]
		lx.emit(pyDedent, "")
	}
}

// indentation measures the indent of a new line and emits INDENT/DEDENT tokens.
// It returns false for blank and comment-only lines, which it consumes.
func (lx *pyLexer) indentation() bool {
	col := 0
measure:
	for lx.pos < len(lx.src) {
		switch lx.src[lx.pos] {
		case ' ':
			col++
		case '\t':
			col = (col/8 + 1) * 8
		case '\f':
			col = 0
		default:
			break measure
		}
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return false
	}
	switch lx.src[lx.pos] {
	case '#':
		lx.skipComment()
		return false
	case '\r':
		lx.pos++
		return false
	case '\n':
		lx.pos++
		lx.line++
		return false
	}

	top := lx.indents[len(lx.indents)-1]
	switch {
	case col > top:
		lx.indents = append(lx.indents, col)
		lx.emit(pyIndent, "")
	case col < top:
		for len(lx.indents) > 1 && lx.indents[len(lx.indents)-1] > col {
			lx.indents = lx.indents[:len(lx.indents)-1]
			lx.emit(pyDedent, "")
		}
		if lx.indents[len(lx.indents)-1] != col {
			lx.fail("unindent does not match any outer indentation level")
		}
	}
	return true
}

func (lx *pyLexer) newline() {
	if n := len(lx.tokens); n > 0 {
		switch lx.tokens[n-1].kind {
		case pyNewline, pyIndent, pyDedent:
			return
		}
		lx.emit(pyNewline, "")
	}
}

func (lx *pyLexer) skipComment() {
	for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
		lx.pos++
	}
}

func (lx *pyLexer) name() {
	start := lx.pos
	for lx.pos < len(lx.src) {
		ch := lx.src[lx.pos]
		if ch != '_' && !unicode.IsLetter(ch) && !unicode.IsDigit(ch) {
			break
		}
		lx.pos++
	}
	word := string(lx.src[start:lx.pos])
	if q := lx.peek(0); (q == '"' || q == '\'') && isStringPrefix(word) {
		lx.str(word)
		return
	}
	lx.emit(pyName, word)
}

func isStringPrefix(p string) bool {
	switch strings.ToLower(p) {
	case "r", "u", "b", "f", "br", "rb", "fr", "rf":
		return true
	}
	return false
}

func (lx *pyLexer) number() {
	start := lx.pos
	for lx.pos < len(lx.src) {
		ch := lx.src[lx.pos]
		if ch == '_' || ch == '.' || unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			lx.pos++
			continue
		}
		// exponent sign, e.g. 1e-5
		if (ch == '+' || ch == '-') && lx.pos > start {
			prev := lx.src[lx.pos-1]
			if (prev == 'e' || prev == 'E') && !strings.HasPrefix(strings.ToLower(string(lx.src[start:lx.pos])), "0x") {
				lx.pos++
				continue
			}
		}
		break
	}
	lx.emit(pyNumber, string(lx.src[start:lx.pos]))
}

func (lx *pyLexer) str(prefix string) {
	startLine := lx.line
	quote := lx.src[lx.pos]
	triple := lx.peek(1) == quote && lx.peek(2) == quote
	if triple {
		lx.pos += 3
	} else {
		lx.pos++
	}

	var b strings.Builder
	for {
		if lx.pos >= len(lx.src) {
			lx.fail("unterminated string literal starting on line %d", startLine)
			break
		}
		ch := lx.src[lx.pos]
		if ch == '\\' {
			b.WriteRune(ch)
			lx.pos++
			if lx.pos < len(lx.src) {
				if lx.src[lx.pos] == '\n' {
					lx.line++
				}
				b.WriteRune(lx.src[lx.pos])
				lx.pos++
			}
			continue
		}
		if ch == quote {
			if !triple {
				lx.pos++
				break
			}
			if lx.peek(1) == quote && lx.peek(2) == quote {
				lx.pos += 3
				break
			}
		}
		if ch == '\n' {
			if !triple {
				lx.fail("unterminated string literal")
				break
			}
			lx.line++
		}
		b.WriteRune(ch)
		lx.pos++
	}

	lx.emit(pyString, b.String())
	lx.tokens[len(lx.tokens)-1].fstr = strings.ContainsAny(prefix, "fF")
}

var pyOperators = []string{
	"**=", "//=", ">>=", "<<=", "...",
	"**", "//", "==", "!=", "<=", ">=", "->", "+=", "-=", "*=", "/=", "%=",
	"&=", "|=", "^=", "@=", "<<", ">>", ":=",
	"+", "-", "*", "/", "%", "@", "&", "|", "^", "~", "<", ">", "=", ".", ",", ":", ";",
	"(", ")", "[", "]", "{", "}",
}

var pyClosers = map[rune]rune{')': '(', ']': '[', '}': '{'}

func (lx *pyLexer) operator() {
	rest := string(lx.src[lx.pos:min(lx.pos+3, len(lx.src))])
	for _, op := range pyOperators {
		if !strings.HasPrefix(rest, op) {
			continue
		}
		ch := []rune(op)[0]
		switch ch {
		case '(', '[', '{':
			lx.emit(pyOp, op)
			lx.parens = append(lx.parens, ch)
		case ')', ']', '}':
			if len(lx.parens) == 0 || lx.parens[len(lx.parens)-1] != pyClosers[ch] {
				lx.fail("unmatched %q", ch)
			} else {
				lx.parens = lx.parens[:len(lx.parens)-1]
			}
			lx.emit(pyOp, op)
		default:
			lx.emit(pyOp, op)
		}
		lx.pos += len([]rune(op))
		return
	}
	lx.fail("invalid character %q", lx.src[lx.pos])
	lx.pos++
}
