package observability

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_FileSink(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "cms.log")

	logger := NewLoggerWithConfig(LogConfig{
		Level:     "debug",
		Format:    "json",
		Output:    &out,
		File:      path,
		MaxSizeMB: 1,
	})
	logger.LogError(context.Background(), "fetch failed", errors.New("boom"), "kind", "posts")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !strings.Contains(out.String(), `"kind":"posts"`) {
		t.Errorf("expected kind field on primary output, got %q", out.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "fetch failed") {
		t.Errorf("expected record in rotated file, got %q", string(data))
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithConfig(LogConfig{Level: "warn", Format: "text", Output: &out})

	logger.LogInfo(context.Background(), "hidden")
	logger.LogWarn(context.Background(), "shown")

	if strings.Contains(out.String(), "hidden") {
		t.Error("info record passed a warn-level logger")
	}
	if !strings.Contains(out.String(), "shown") {
		t.Error("warn record was dropped")
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics("cms-test", false)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordCacheHit(ctx, "store")
	m.RecordMutation(ctx, "posts", "create", "committed", 0)

	var nilMetrics *Metrics
	nilMetrics.RecordError(ctx, "network")
}
