package similarity

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var pyKeywords = setOf(
	"False", "None", "True", "and", "as", "assert", "async", "await", "break", "class",
	"continue", "def", "del", "elif", "else", "except", "finally", "for", "from", "global",
	"if", "import", "in", "is", "lambda", "nonlocal", "not", "or", "pass", "raise",
	"return", "try", "while", "with", "yield",
)

// pyBuiltins also holds the conventional receiver names, which carry no authorship signal.
var pyBuiltins = setOf(
	"abs", "all", "any", "ascii", "bin", "bool", "breakpoint", "bytearray", "bytes",
	"callable", "chr", "classmethod", "compile", "complex", "delattr", "dict", "dir",
	"divmod", "enumerate", "eval", "exec", "filter", "float", "format", "frozenset",
	"getattr", "globals", "hasattr", "hash", "help", "hex", "id", "input", "int",
	"isinstance", "issubclass", "iter", "len", "list", "locals", "map", "max",
	"memoryview", "min", "next", "object", "oct", "open", "ord", "pow", "print",
	"property", "range", "repr", "reversed", "round", "set", "setattr", "slice",
	"sorted", "staticmethod", "str", "sum", "super", "tuple", "type", "vars", "zip",
	"__name__", "__main__", "__init__", "__file__", "__doc__",
	"Exception", "BaseException", "ValueError", "TypeError", "KeyError", "IndexError",
	"AttributeError", "RuntimeError", "StopIteration", "ZeroDivisionError",
	"NotImplementedError", "FileNotFoundError", "OSError", "IOError", "ImportError",
	"NameError", "AssertionError", "ArithmeticError", "LookupError", "OverflowError",
	"RecursionError", "UnicodeDecodeError", "UnicodeEncodeError", "KeyboardInterrupt",
	"NotImplemented", "Ellipsis",
	"self", "cls",
)

var goPredeclared = setOf(
	"bool", "byte", "complex64", "complex128", "error", "float32", "float64",
	"int", "int8", "int16", "int32", "int64", "rune", "string",
	"uint", "uint8", "uint16", "uint32", "uint64", "uintptr", "any", "comparable",
	"true", "false", "iota", "nil",
	"append", "cap", "clear", "close", "complex", "copy", "delete", "imag", "len",
	"make", "max", "min", "new", "panic", "print", "println", "real", "recover",
	"_", "main", "init",
)
