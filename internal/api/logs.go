package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogBuffer 内存日志缓冲区，保留最近的日志供API查询
type LogBuffer struct {
	entries []LogEntry
	maxSize int
	mu      sync.RWMutex
}

// NewLogBuffer 创建日志缓冲区
func NewLogBuffer(maxSize int) *LogBuffer {
	return &LogBuffer{
		entries: make([]LogEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Append 追加一条日志，超出容量时丢弃最旧的
func (lb *LogBuffer) Append(entry *logrus.Entry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries = append(lb.entries, LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    entry.Data,
	})

	if len(lb.entries) > lb.maxSize {
		lb.entries = lb.entries[1:]
	}
}

// Recent 获取分页日志，level为空时不过滤级别
func (lb *LogBuffer) Recent(level string, page, pageSize int) ([]LogEntry, int) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	logs := make([]LogEntry, 0, len(lb.entries))
	for _, entry := range lb.entries {
		if level == "" || entry.Level == level {
			logs = append(logs, entry)
		}
	}

	total := len(logs)
	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}

	end := start + pageSize
	if end > total {
		end = total
	}
	return logs[start:end], total
}

// Clear 清空日志缓冲区
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.entries = make([]LogEntry, 0, lb.maxSize)
}

// LogHook 把logrus日志写入缓冲区的钩子
type LogHook struct {
	buffer *LogBuffer
}

// NewLogHook 创建日志钩子
func NewLogHook(buffer *LogBuffer) *LogHook {
	return &LogHook{buffer: buffer}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.buffer.Append(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
