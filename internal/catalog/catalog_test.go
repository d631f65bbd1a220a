package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/autograde/internal/domain"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestStudentIDFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"underscore", "S001_homework.py", "S001"},
		{"first underscore only", "S002_hw_v2.py", "S002"},
		{"no underscore uses stem", "S003.py", "S003"},
		{"non-ascii", "张三_作业.py", "张三"},
		{"leading underscore", "_anon.py", ""},
		{"no extension", "S004", "S004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StudentIDFromFilename(tt.filename))
		})
	}
}

func TestCatalogScan(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "submissions")
	require.NoError(t, os.Mkdir(dir, 0o755))

	writeFile(t, dir, "S002_hw.py", []byte("print('b')\n"))
	writeFile(t, dir, "S001_hw.py", []byte("print('a')\n"))
	writeFile(t, dir, "S001_late.py", []byte("print('late')\n"))
	writeFile(t, dir, "S003.py", nil)
	writeFile(t, dir, "notes.txt", []byte("ignored"))
	writeFile(t, dir, "_nobody.py", []byte("x = 1\n"))
	reference := writeFile(t, dir, "template.py", []byte("def solve(): pass\n"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.py"), 0o755))

	c := New(Options{
		Dir:           dir,
		Extensions:    []string{".py"},
		ReferencePath: reference,
	})

	result, err := c.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"S001", "S002"}, result.IDs())
	assert.Equal(t, "S001_hw.py", result.Submissions[0].Filename)
	assert.Equal(t, domain.LanguagePython, result.Submissions[0].Language)
	assert.Equal(t, "utf-8", result.Submissions[0].Encoding)

	failed := map[string]bool{}
	for _, e := range result.Errors {
		failed[e.Filename] = true
		assert.Equal(t, domain.ErrorKindCatalog, e.Kind())
	}
	assert.Equal(t, map[string]bool{"S001_late.py": true, "S003.py": true, "_nobody.py": true}, failed)
}

func TestCatalogScan_StudentFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "S001_hw.py", []byte("a = 1\n"))
	writeFile(t, dir, "S002_hw.py", []byte("b = 2\n"))
	writeFile(t, dir, "_broken.py", []byte("c = 3\n"))

	result, err := New(Options{Dir: dir, Extensions: []string{".py"}, StudentID: "S002"}).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"S002"}, result.IDs())
	assert.Empty(t, result.Errors)
}

func TestCatalogScan_MissingDir(t *testing.T) {
	_, err := New(Options{Dir: filepath.Join(t.TempDir(), "absent")}).Scan(context.Background())
	assert.True(t, errors.Is(err, ErrDirNotFound))
}

func TestCatalogScan_FallbackDecoding(t *testing.T) {
	dir := t.TempDir()
	// "# 你好" encoded as GBK.
	writeFile(t, dir, "S010_hw.py", []byte{'#', ' ', 0xC4, 0xE3, 0xBA, 0xC3, '\n'})
	writeFile(t, dir, "S011_hw.py", []byte{'x', 0xFF, '\n'})

	result, err := New(Options{Dir: dir, Extensions: []string{".py"}, FallbackEncoding: "gbk"}).Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Submissions, 1)
	assert.Equal(t, "# 你好\n", result.Submissions[0].Content)
	assert.Equal(t, "gbk", result.Submissions[0].Encoding)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "S011_hw.py", result.Errors[0].Filename)
	assert.True(t, errors.Is(result.Errors[0], ErrUndecodable))
}

func TestDecode(t *testing.T) {
	t.Run("strips BOM", func(t *testing.T) {
		text, enc, err := Decode([]byte("\xEF\xBB\xBFprint(1)"), DefaultFallbackEncoding)
		require.NoError(t, err)
		assert.Equal(t, "print(1)", text)
		assert.Equal(t, "utf-8", enc)
	})

	t.Run("no fallback", func(t *testing.T) {
		_, _, err := Decode([]byte{0xC4, 0xE3}, "utf-8")
		assert.True(t, errors.Is(err, ErrUndecodable))
	})

	t.Run("unknown fallback", func(t *testing.T) {
		_, _, err := Decode([]byte{0xC4, 0xE3}, "no-such-charset")
		assert.True(t, errors.Is(err, ErrUndecodable))
	})
}

func TestFallbackEncoding(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_CTYPE", "")

	t.Setenv("LANG", "zh_CN.GBK")
	assert.Equal(t, "GBK", FallbackEncoding(""))

	t.Setenv("LANG", "en_US.UTF-8")
	assert.Equal(t, DefaultFallbackEncoding, FallbackEncoding(""))

	assert.Equal(t, "latin1", FallbackEncoding("latin1"))
}

func TestLoadCriteria_Default(t *testing.T) {
	text, err := LoadCriteria("")
	require.NoError(t, err)
	assert.NotEmpty(t, text)
}
