package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestForWatchAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := ForWatch(zerolog.New(&buf), 42, "AK-47 | Redline (Field-Tested)")
	logger.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("日志应为 JSON: %v", err)
	}
	if entry["watch_id"] != float64(42) {
		t.Fatalf("watch_id 字段不正确: %v", entry["watch_id"])
	}
	if entry["item"] != "AK-47 | Redline (Field-Tested)" {
		t.Fatalf("item 字段不正确: %v", entry["item"])
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("日志级别应为 warn, 实际 %s", logger.GetLevel())
	}
	logger = NewLogger(Config{Level: "bogus"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("非法级别应回退到 info, 实际 %s", logger.GetLevel())
	}
}
