package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContextAddsRunID(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	ctx := WithRunID(context.Background(), "run-1")
	InfoCtx(ctx).Str("account", "a1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", line["run_id"])
	}
	if line["account"] != "a1" {
		t.Errorf("account = %v, want a1", line["account"])
	}
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	if err := Init(LogConfig{Level: "warn", Format: "json", Output: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("GlobalLevel() = %s, want warn", zerolog.GlobalLevel())
	}
}

func TestInitBadLevelFallsBackToInfo(t *testing.T) {
	if err := Init(LogConfig{Level: "loud"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("GlobalLevel() = %s, want info", zerolog.GlobalLevel())
	}
}

func TestSubjectPrefix(t *testing.T) {
	long := strings.Repeat("é", 50)
	if got := SubjectPrefix(long); len([]rune(got)) != 40 {
		t.Errorf("SubjectPrefix() kept %d runes, want 40", len([]rune(got)))
	}
	if got := SubjectPrefix("short"); got != "short" {
		t.Errorf("SubjectPrefix(short) = %q", got)
	}
}
