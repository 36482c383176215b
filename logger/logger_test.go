package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "logs", "magent.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}

	Get().Info("hello", "key", "value")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "msg=hello") {
		t.Errorf("log missing entry: %s", data)
	}
	if !strings.Contains(string(data), "key=value") {
		t.Errorf("log missing structured field: %s", data)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	if err := Init(first); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// Second Init is a no-op, not an error.
	if err := Init(second); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	Get().Info("entry")
	Close()

	if _, err := os.Stat(second); !os.IsNotExist(err) {
		t.Error("second Init should not have created a file")
	}
}

func TestWithThreadAttachesField(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "magent.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}

	WithThread("abc12345").Info("worktree created")
	WithComponent("tmux").Info("session created")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "threadID=abc12345") {
		t.Errorf("log missing threadID field: %s", data)
	}
	if !strings.Contains(string(data), "component=tmux") {
		t.Errorf("log missing component field: %s", data)
	}
}

func TestDebugLevelGating(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "magent.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}

	Get().Debug("hidden")
	SetDebug(true)
	Get().Debug("visible")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "msg=hidden") {
		t.Error("debug entry logged before SetDebug(true)")
	}
	if !strings.Contains(string(data), "msg=visible") {
		t.Error("debug entry missing after SetDebug(true)")
	}
}
