package workspace

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManagerCreateAndDir(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	dir, err := m.Create("run1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if filepath.Dir(dir) != m.Base() {
		t.Errorf("run dir %q not under base %q", dir, m.Base())
	}

	got, err := m.Dir("run1")
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if got != dir {
		t.Errorf("Dir = %q, want %q", got, dir)
	}

	if _, err := m.Dir("missing"); err == nil {
		t.Error("Dir on a missing run did not fail")
	}
}

func TestManagerRejectsBadRunIDs(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		if _, err := m.Create(id); err == nil {
			t.Errorf("Create(%q) accepted", id)
		}
		if _, err := m.Dir(id); err == nil {
			t.Errorf("Dir(%q) accepted", id)
		}
	}
}

func TestManagerRemove(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	dir, _ := m.Create("run1")

	if err := m.Remove("run1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("run directory still exists after Remove")
	}
	if err := m.Remove("run1"); err == nil {
		t.Error("Remove on a missing run did not fail")
	}
}

func TestManagerClean(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	oldDir, _ := m.Create("old-run")
	m.Create("new-run")

	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldDir, stale, stale); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	removed, err := m.Clean(time.Hour)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := m.Dir("old-run"); err == nil {
		t.Error("stale run survived Clean")
	}
	if _, err := m.Dir("new-run"); err != nil {
		t.Errorf("fresh run removed by Clean: %v", err)
	}
}

func TestWriteFileEscapeGuard(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFile(dir, "lib/util.js", []byte("ok")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := ReadFile(dir, "lib/util.js")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("content = %q", data)
	}

	escapes := []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"}
	for _, rel := range escapes {
		if err := WriteFile(dir, rel, []byte("x")); err == nil {
			t.Errorf("WriteFile(%q) accepted an escaping path", rel)
		}
		if _, err := ReadFile(dir, rel); err == nil {
			t.Errorf("ReadFile(%q) accepted an escaping path", rel)
		}
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(dir, "index.js", []byte("console.log('hi')")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(dir, "lib/store.js", []byte("module.exports = {}")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Archive(dir, &buf); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"index.js", "lib/store.js"} {
		if !names[want] {
			t.Errorf("archive missing %q (has %v)", want, names)
		}
	}
}

func TestValidRunID(t *testing.T) {
	valid := []string{"abc12345", "run-1", "a.b"}
	for _, id := range valid {
		if !validRunID(id) {
			t.Errorf("validRunID(%q) = false", id)
		}
	}
	invalid := []string{"", ".", "..", "x/y", `x\y`}
	for _, id := range invalid {
		if validRunID(id) {
			t.Errorf("validRunID(%q) = true", id)
		}
	}
}
