package apxdef

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWatcherParsesInitialContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.apx")
	text := "APX/1.2\nN\"TestNode1\"\nP\"ProvidePort1\"C(0,3)\n"
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}

	w, def, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if def.Name != "TestNode1" {
		t.Errorf("got name %q, want TestNode1", def.Name)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.apx")
	if err := os.WriteFile(path, []byte("APX/1.2\nN\"Before\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, _, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("APX/1.2\nN\"After\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case def := <-w.Changed:
		if def.Name != "After" {
			t.Errorf("got name %q, want After", def.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherMissingFile(t *testing.T) {
	if _, _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.apx"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
