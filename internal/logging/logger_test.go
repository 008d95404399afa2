package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeDisabledIsNoop(t *testing.T) {
	cfgMu.Lock()
	cfg = Config{}
	cfgMu.Unlock()
	logsDir = ""

	if err := Initialize("", Config{Enabled: false}); err != nil {
		t.Fatalf("disabled Initialize should not error: %v", err)
	}
	l := Get(CategoryStore)
	l.Info("should not panic or write anything")
}

func TestInitializeWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Config{Enabled: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	Get(CategoryStore).Info("hello %s", "world")

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one log file")
	}
}

func TestCategoryFiltering(t *testing.T) {
	cfgMu.Lock()
	cfg = Config{Enabled: true, Categories: map[string]bool{"store": false}}
	cfgMu.Unlock()

	if IsCategoryEnabled(CategoryStore) {
		t.Fatal("expected store category to be disabled")
	}
	if !IsCategoryEnabled(CategoryEmbedding) {
		t.Fatal("expected unlisted categories to default to enabled")
	}
}
