package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/timmy/autograde/internal/prompts"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultFallbackEncoding is used when neither configuration nor locale name a usable charset.
const DefaultFallbackEncoding = "gb18030"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrUndecodable is returned when content is neither UTF-8 nor valid in the fallback charset.
var ErrUndecodable = errors.New("content cannot be decoded")

// FallbackEncoding picks the charset tried for non-UTF-8 files.
// An explicit name wins; otherwise the charset of LC_ALL, LC_CTYPE or LANG is used
// when it is not UTF-8; otherwise DefaultFallbackEncoding.
func FallbackEncoding(configured string) string {
	if configured != "" {
		return configured
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		charset := localeCharset(val)
		if charset == "" || isUTF8Name(charset) {
			break
		}
		if _, err := htmlindex.Get(charset); err == nil {
			return charset
		}
		break
	}
	return DefaultFallbackEncoding
}

// localeCharset extracts "GBK" from "zh_CN.GBK@modifier".
func localeCharset(locale string) string {
	i := strings.Index(locale, ".")
	if i < 0 {
		return ""
	}
	charset := locale[i+1:]
	if j := strings.Index(charset, "@"); j >= 0 {
		charset = charset[:j]
	}
	return charset
}

func isUTF8Name(name string) bool {
	n := strings.ToLower(strings.ReplaceAll(name, "-", ""))
	return n == "utf8"
}

// Decode converts raw file bytes to UTF-8 text.
// Parameters:
//   - data: raw file content.
//   - fallback: charset label tried when data is not valid UTF-8.
//
// Returns:
//   - string: decoded text with any UTF-8 BOM removed.
//   - string: name of the charset the text was decoded from.
//   - error: wraps ErrUndecodable when neither charset yields clean text.
func Decode(data []byte, fallback string) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}

	if fallback == "" || isUTF8Name(fallback) {
		return "", "", fmt.Errorf("%w: invalid UTF-8", ErrUndecodable)
	}
	enc, err := htmlindex.Get(fallback)
	if err != nil {
		return "", "", fmt.Errorf("%w: unknown fallback encoding %q", ErrUndecodable, fallback)
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("%w as %s: %v", ErrUndecodable, fallback, err)
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", "", fmt.Errorf("%w as %s: invalid byte sequence", ErrUndecodable, fallback)
	}

	name, err := htmlindex.Name(enc)
	if err != nil {
		name = fallback
	}
	return string(out), name, nil
}

// LoadReference reads the reference answer with the same decoding rules as submissions.
func LoadReference(path, fallback string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read reference answer: %w", err)
	}
	text, _, err := Decode(data, FallbackEncoding(fallback))
	if err != nil {
		return "", fmt.Errorf("failed to decode reference answer: %w", err)
	}
	return text, nil
}

// LoadCriteria reads a grading-criteria document.
// An empty path yields the built-in default criteria.
func LoadCriteria(path string) (string, error) {
	if path == "" {
		return prompts.DefaultCriteria, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read criteria: %w", err)
	}
	text, _, err := Decode(data, "")
	if err != nil {
		return "", fmt.Errorf("failed to decode criteria: %w", err)
	}
	return strings.TrimSpace(text), nil
}
