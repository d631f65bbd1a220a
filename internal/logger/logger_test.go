package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewFromEnv(&EnvConfig{
		Level:       level,
		Format:      "json",
		Output:      &buf,
		ServiceName: "autograde-test",
	}), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoadFromEnv_PrefixedVariablesWin(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("AUTOGRADE_LOG_LEVEL", "debug")
	t.Setenv("LOG_MAX_BACKUPS", "not-a-number")
	t.Setenv("AUTOGRADE_LOG_COMPRESS", "false")

	cfg := LoadFromEnv("autograde-grade")

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "autograde-grade", cfg.ServiceName)
	assert.Equal(t, "./logs/autograde-grade.log", cfg.LogFile)
	assert.Equal(t, 7, cfg.MaxBackups)
	assert.False(t, cfg.Compress)
}

func TestEnvConfig_ApplyLevel(t *testing.T) {
	cfg := &EnvConfig{Level: "info"}

	require.NoError(t, cfg.ApplyLevel(""))
	assert.Equal(t, "info", cfg.Level)

	require.NoError(t, cfg.ApplyLevel("debug"))
	assert.Equal(t, "debug", cfg.Level)

	assert.Error(t, cfg.ApplyLevel("chatty"))
	assert.Equal(t, "debug", cfg.Level)
}

func TestEnvConfig_LocalSkipsLogFile(t *testing.T) {
	cfg := &EnvConfig{Environment: "local", LogFile: "x.log", LogFileOnly: true}
	writers, file := cfg.writers()
	assert.Nil(t, file)
	assert.Len(t, writers, 1)

	cfg = &EnvConfig{Environment: "prod", LogFile: t.TempDir() + "/x.log", LogFileOnly: true}
	writers, file = cfg.writers()
	require.NotNil(t, file)
	assert.Len(t, writers, 1)
}

func TestContextFields(t *testing.T) {
	log, buf := newBufferLogger(t, "info")
	ctx := log.WithContext(context.Background())
	ctx = SetRunID(ctx, "run-1")
	ctx = SetStudentID(ctx, "S001")

	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "S001", GetStudentID(ctx))

	CtxInfo(ctx, "graded %d", 1)
	CtxDebug(ctx, "hidden")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "graded 1", lines[0]["message"])
	assert.Equal(t, "run-1", lines[0][FieldRunID])
	assert.Equal(t, "S001", lines[0][FieldStudentID])
	assert.Equal(t, "autograde-test", lines[0]["service"])
}

func TestEntry_TaskFields(t *testing.T) {
	log, buf := newBufferLogger(t, "debug")
	ctx := log.WithContext(context.Background())

	base := ForTask("S002", 3)
	base.Took(1500*time.Millisecond).Status("failed").Kind("timeout").Warn(ctx, "Grading failed for %s", "S002")
	base.Kind("").Debug(ctx, "no kind")

	assert.NotContains(t, base.Fields(), FieldDurationMs, "derived entries must not modify their parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warning", lines[0]["level"])
	assert.Equal(t, "S002", lines[0][FieldStudentID])
	assert.EqualValues(t, 3, lines[0][FieldAttempt])
	assert.EqualValues(t, 1500, lines[0][FieldDurationMs])
	assert.Equal(t, "failed", lines[0][FieldStatus])
	assert.Equal(t, "timeout", lines[0][FieldErrorKind])
	assert.NotContains(t, lines[1], FieldErrorKind)
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	log, buf := newBufferLogger(t, "info")
	prev := GetDefault()
	SetDefaultLogger(log)
	t.Cleanup(func() { SetDefaultLogger(prev) })

	With(nil).Count(4).Info(context.Background(), "catalog scanned")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 4, lines[0][FieldCount])
}
