package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo}).With(Component("http"))

	log.Debug("hidden")
	log.Info("batch closed", WeekStart("2024-03-11"), CohortID("2024-03-11/t03/g00"), Tier(3))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	entry := decode(t, lines[0])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "batch closed", entry["msg"])
	assert.Equal(t, "http", entry["component"])
	assert.Equal(t, "2024-03-11", entry["week_start"])
	assert.Equal(t, "2024-03-11/t03/g00", entry["group_id"])
	assert.EqualValues(t, 3, entry["tier"])
}

func TestLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelDebug, Format: ParseFormat("text")})

	log.Warn("slow", UserID("u-1"), Latency(1500_000_000))

	line := buf.String()
	assert.Contains(t, line, "level=WARN msg=slow user_id=u-1 latency=1.5s")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLogger_CallerPointsAtCallSite(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Output: &buf, AddCaller: true}).Error("boom", Err(assert.AnError))

	entry := decode(t, strings.TrimSpace(buf.String()))
	source, ok := entry["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source["file"], "logger_test.go")
	assert.Equal(t, assert.AnError.Error(), entry["error"])
}

func TestParseLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatText, ParseFormat(" TEXT "))
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf}).WithRequestID("req-1")
	ctx := WithContext(context.Background(), log)

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn}).With(Component("scheduler")).Slog()

	log.Info("hidden")
	log.Warn("job slow", "job", "weekly_batch")

	entry := decode(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "job slow", entry["msg"])
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "weekly_batch", entry["job"])
}
