package fsio

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkdir700/pi-team/internal/model"
)

func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "record.json")

	if err := WriteJSONAtomic(path, map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteJSONAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("written file is not JSON: %v", err)
	}
	if got["n"] != 1 {
		t.Errorf("unexpected contents: %v", got)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %o", fi.Mode().Perm())
	}

	// Overwrite replaces wholesale and leaves no temp siblings.
	if err := WriteJSONAtomic(path, map[string]int{"n": 2}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestAppendAndReadJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	for i := 1; i <= 3; i++ {
		if err := AppendJSONLine(path, map[string]int{"seq": i}); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	records, err := ReadJSONLines(path)
	if err != nil {
		t.Fatalf("ReadJSONLines failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	var last map[string]int
	if err := json.Unmarshal(records[2], &last); err != nil {
		t.Fatal(err)
	}
	if last["seq"] != 3 {
		t.Errorf("records out of order: %v", last)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %o", fi.Mode().Perm())
	}
}

func TestReadJSONLinesDiscardsTrailingFragment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := AppendJSONLine(path, map[string]string{"kept": "yes"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-append: raw bytes, no newline.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"partial":`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, err := ReadJSONLines(path)
	if err != nil {
		t.Fatalf("tolerant read failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the fragment to be dropped, got %d records", len(records))
	}
}

func TestAppendRepairsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := AppendJSONLine(path, map[string]string{"kept": "yes"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"partial":`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	// The next append must not glue onto the fragment.
	if err := AppendJSONLine(path, map[string]string{"fresh": "line"}); err != nil {
		t.Fatalf("append after fragment failed: %v", err)
	}
	records, err := ReadJSONLines(path)
	if err != nil {
		t.Fatalf("read after repair failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 clean records, got %d", len(records))
	}
	var second map[string]string
	if err := json.Unmarshal(records[1], &second); err != nil {
		t.Fatalf("second record garbled: %v", err)
	}
	if second["fresh"] != "line" {
		t.Errorf("unexpected second record: %v", second)
	}
}

func TestReadJSONLinesRejectsCommittedGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte("{\"ok\":1}\nnot json\n{\"ok\":2}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := ReadJSONLines(path)
	if err == nil {
		t.Fatal("expected INVALID_LINE error")
	}
	var e *model.Error
	if !errors.As(err, &e) || e.Code != model.CodeInvalidLine {
		t.Errorf("expected INVALID_LINE, got %v", err)
	}
}

func TestReadJSONLinesMissingFile(t *testing.T) {
	records, err := ReadJSONLines(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("missing file must read as empty: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %v", records)
	}
}

func TestSecureDirAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	if err := SecureDir(dir); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o700 {
		t.Errorf("expected dir mode 0700, got %o", fi.Mode().Perm())
	}

	file := filepath.Join(dir, "f.json")
	if err := os.WriteFile(file, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SecureFile(file); err != nil {
		t.Fatal(err)
	}
	fi, err = os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("expected file mode 0600, got %o", fi.Mode().Perm())
	}
}
