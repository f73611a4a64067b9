package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	if lvl := newLogger(&bytes.Buffer{}, "dev").GetLevel(); lvl != zerolog.DebugLevel {
		t.Fatalf("ожидали debug в dev, получили %s", lvl)
	}
	if lvl := newLogger(&bytes.Buffer{}, "prod").GetLevel(); lvl != zerolog.InfoLevel {
		t.Fatalf("ожидали info в prod, получили %s", lvl)
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(&buf, "prod"), "scheduler")
	logger.Info().Msg("tick")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if line["component"] != "scheduler" || line["message"] != "tick" {
		t.Fatalf("неожиданная запись: %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatalf("ожидали поле time")
	}
}
