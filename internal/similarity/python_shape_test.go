package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPythonShape_Categories(t *testing.T) {
	counts, idents, err := pythonShape("squares = [x * x for x in range(10) if x % 2]\n")
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"Module":        1,
		"Assign":        1,
		"Name":          6,
		"ListComp":      1,
		"BinOp":         2,
		"comprehension": 1,
		"Call":          1,
		"Constant":      2,
	}, counts)
	assert.Equal(t, map[string]struct{}{"squares": {}, "x": {}}, idents)
}

func TestPythonShape_Statements(t *testing.T) {
	src := `import os
from math import sqrt as root

def area(r, *, unit="cm"):
    """Docstring."""
    if r < 0 and not unit:
        raise ValueError(f"bad {r}")
    elif r == 0: return 0
    else:
        pass
    return root(r) ** 2

while True:
    break
`
	counts, idents, err := pythonShape(src)
	require.NoError(t, err)

	assert.Equal(t, 1, counts["Import"])
	assert.Equal(t, 1, counts["ImportFrom"])
	assert.Equal(t, 1, counts["FunctionDef"])
	assert.Equal(t, 2, counts["arg"])
	assert.Equal(t, 2, counts["If"])
	assert.Equal(t, 2, counts["Return"])
	assert.Equal(t, 1, counts["Raise"])
	assert.Equal(t, 1, counts["JoinedStr"])
	assert.Equal(t, 1, counts["BoolOp"])
	assert.Equal(t, 1, counts["UnaryOp"])
	assert.Equal(t, 2, counts["Compare"])
	assert.Equal(t, 1, counts["While"])
	assert.Equal(t, 1, counts["Break"])
	assert.Equal(t, 1, counts["Pass"])

	assert.Contains(t, idents, "area")
	assert.Contains(t, idents, "unit")
	assert.Contains(t, idents, "root")
	assert.NotContains(t, idents, "ValueError")
}

func TestPythonShape_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "unclosed bracket", src: "print((1, 2)\n"},
		{name: "unmatched closer", src: "x = 1)\n"},
		{name: "unterminated string", src: "s = 'abc\n"},
		{name: "unterminated triple string", src: "s = \"\"\"abc\n"},
		{name: "unexpected indent", src: "x = 1\n    y = 2\n"},
		{name: "missing block", src: "if x:\nprint(1)\n"},
		{name: "block at end of file", src: "def f():\n"},
		{name: "bad dedent", src: "if x:\n        a = 1\n    b = 2\n"},
		{name: "invalid character", src: "x = 1 $ 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := pythonShape(tt.src)
			assert.Error(t, err)
		})
	}
}

func TestPythonShape_IdentifiersSurviveErrors(t *testing.T) {
	_, idents, err := pythonShape("def helper(value:\n    return value\n")
	require.Error(t, err)
	assert.Equal(t, map[string]struct{}{"helper": {}, "value": {}}, idents)
}

func TestPythonShape_ContinuationsAndComments(t *testing.T) {
	src := "total = 1 + \\\n    2  # trailing\n# comment only\n\nvalues = [\n    1,\n  2,\n]\n"
	counts, _, err := pythonShape(src)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["Assign"])
	assert.Equal(t, 1, counts["List"])
}
