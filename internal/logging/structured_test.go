package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileLogger(t *testing.T, level, format string) (*StructuredLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.log")
	logger, err := NewStructuredLogger(&LogConfig{Level: level, Format: format, Output: path})
	require.NoError(t, err)
	return logger, path
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "非JSON日志行: %s", line)
		lines = append(lines, entry)
	}
	return lines
}

func TestNewStructuredLoggerRejectsBadConfig(t *testing.T) {
	_, err := NewStructuredLogger(&LogConfig{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	_, err = NewStructuredLogger(&LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

func TestNewStructuredLoggerNilConfig(t *testing.T) {
	logger, err := NewStructuredLogger(nil)
	require.NoError(t, err)
	assert.NotNil(t, logger.GetSlogger())
}

func TestJSONOutputCarriesFields(t *testing.T) {
	logger, path := fileLogger(t, "debug", "json")

	logger.Info("操作状态推进", "state", "signed", "nonce", "7")

	lines := readJSONLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "操作状态推进", lines[0]["msg"])
	assert.Equal(t, "signed", lines[0]["state"])
	assert.Equal(t, "7", lines[0]["nonce"])
}

func TestLevelFiltering(t *testing.T) {
	logger, path := fileLogger(t, "warn", "json")

	logger.Debug("不应出现")
	logger.Info("不应出现")
	logger.Warn("退避重试")
	logger.Error("最终失败")

	lines := readJSONLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "退避重试", lines[0]["msg"])
	assert.Equal(t, "最终失败", lines[1]["msg"])
}

func TestComponentLoggers(t *testing.T) {
	logger, path := fileLogger(t, "debug", "json")

	NewOperationLogger(logger, "0x1111", "3").Info("草稿已构造")
	NewBundlerLogger(logger, "eth_sendUserOperation", "https://bundler.example.org").Warn("退避重试", "attempt", 1)
	NewTrackerLogger(logger, "0xabcd").Info("确认完成")

	lines := readJSONLines(t, path)
	require.Len(t, lines, 3)

	assert.Equal(t, "userop", lines[0]["component"])
	assert.Equal(t, "0x1111", lines[0]["sender"])
	assert.Equal(t, "3", lines[0]["nonce"])

	assert.Equal(t, "bundler_client", lines[1]["component"])
	assert.Equal(t, "eth_sendUserOperation", lines[1]["method"])
	assert.Equal(t, float64(1), lines[1]["attempt"])

	assert.Equal(t, "tracker", lines[2]["component"])
	assert.Equal(t, "0xabcd", lines[2]["op_hash"])
}

func TestTextFormat(t *testing.T) {
	logger, path := fileLogger(t, "info", "text")

	logger.Infof("已提交 %d 笔操作", 2)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "已提交 2 笔操作")
}
