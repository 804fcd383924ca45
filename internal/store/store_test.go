package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// decode unmarshals a value returned by Read or ReadBackup.
func decode(t *testing.T, raw json.RawMessage) payload {
	t.Helper()
	var out payload
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return out
}

// newTestStore creates a store in a temp directory.
func newTestStore(t *testing.T, backups bool) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir(), Backups: backups})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	if err := s.Save(ctx, "equipment", payload{Name: "helmet", Count: 1}, "equipment.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := s.Read(ctx, "equipment", "equipment.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := decode(t, raw); got.Name != "helmet" || got.Count != 1 {
		t.Errorf("Read() = %+v, want {helmet 1}", got)
	}
	if !s.Exists("equipment", "equipment.json") {
		t.Error("Exists() = false, want true")
	}
	if s.Exists("other", "equipment.json") {
		t.Error("Exists(other) = true, want false")
	}
}

func TestSave_PreservesOtherKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	if err := s.Save(ctx, "a", payload{Name: "a"}, "containers.json"); err != nil {
		t.Fatalf("Save(a) error = %v", err)
	}
	if err := s.Save(ctx, "b", payload{Name: "b"}, "containers.json"); err != nil {
		t.Fatalf("Save(b) error = %v", err)
	}

	keys, err := s.Keys("containers.json")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v, want [a b]", keys)
	}
}

func TestRead_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	_, err := s.Read(ctx, "equipment", "missing.json")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Read(missing file) = %v, want NOT_FOUND", err)
	}

	if err := s.Save(ctx, "x", payload{}, "present.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	_, err = s.Read(ctx, "y", "present.json")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Read(missing key) = %v, want NOT_FOUND", err)
	}
}

func TestSave_BackupBeforeOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	if err := s.Save(ctx, "k", payload{Count: 1}, "equipment.json"); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if s.HasBackup("equipment.json") {
		t.Fatal("backup created on first write, want none")
	}

	if err := s.Save(ctx, "k", payload{Count: 2}, "equipment.json"); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if !s.HasBackup("equipment.json") {
		t.Fatal("backup missing after overwrite")
	}

	raw, err := s.ReadBackup(ctx, "k", "equipment.json")
	if err != nil {
		t.Fatalf("ReadBackup() error = %v", err)
	}
	if prev := decode(t, raw); prev.Count != 1 {
		t.Errorf("backup Count = %d, want 1 (previous write)", prev.Count)
	}
	raw, err = s.Read(ctx, "k", "equipment.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cur := decode(t, raw); cur.Count != 2 {
		t.Errorf("current Count = %d, want 2", cur.Count)
	}
}

func TestSave_BackupsDisabled(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, "k", payload{Count: i}, "equipment.json"); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	if s.HasBackup("equipment.json") {
		t.Error("backup created with backups disabled")
	}
}

func TestSave_CorruptPrimaryDoesNotReplaceBackup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	if err := s.Save(ctx, "k", payload{Count: 1}, "equipment.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, "k", payload{Count: 2}, "equipment.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := os.WriteFile(s.Path("equipment.json"), []byte("{garbage"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := s.Save(ctx, "k", payload{Count: 3}, "equipment.json"); err != nil {
		t.Fatalf("Save() over corrupt file error = %v", err)
	}

	raw, err := s.ReadBackup(ctx, "k", "equipment.json")
	if err != nil {
		t.Fatalf("ReadBackup() error = %v", err)
	}
	if prev := decode(t, raw); prev.Count != 1 {
		t.Errorf("backup Count = %d, want 1 (corrupt file must not be backed up)", prev.Count)
	}
}

func TestSave_Compression(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	if err := s.Save(ctx, "k", payload{Name: "zipped"}, "equipment.json", WithCompression(true)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(s.Path("equipment.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !isGzip(data) {
		t.Fatal("file is not gzip-compressed")
	}

	raw, err := s.Read(ctx, "k", "equipment.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := decode(t, raw); got.Name != "zipped" {
		t.Errorf("Read() Name = %q, want zipped", got.Name)
	}

	// A later uncompressed save keeps the key readable
	if err := s.Save(ctx, "k2", payload{Name: "plain"}, "equipment.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !s.Exists("k", "equipment.json") {
		t.Error("compressed key lost after uncompressed rewrite")
	}
}

func TestRead_InvalidJSONIsValidationError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	if err := os.WriteFile(s.Path("equipment.json"), []byte("not json"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := s.Read(ctx, "k", "equipment.json")
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Read() = %v, want VALIDATION", err)
	}
}

func TestDeleteKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	if err := s.Save(ctx, "old", payload{}, "containers.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.DeleteKey(ctx, "old", "containers.json"); err != nil {
		t.Fatalf("DeleteKey() error = %v", err)
	}
	if s.Exists("old", "containers.json") {
		t.Error("key still present after DeleteKey")
	}
	if err := s.DeleteKey(ctx, "never", "containers.json"); err != nil {
		t.Errorf("DeleteKey(missing) error = %v, want nil", err)
	}
}

func TestDeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, "k", payload{Count: i}, "equipment.json"); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	if err := s.Delete("equipment.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.FileExists("equipment.json") {
		t.Error("primary file still exists after Delete")
	}
	if !s.HasBackup("equipment.json") {
		t.Error("Delete removed the backup; only Purge should")
	}

	if err := s.Purge("equipment.json"); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if s.HasBackup("equipment.json") {
		t.Error("backup still exists after Purge")
	}
	if err := s.Delete("equipment.json"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
}

func TestSave_CancelledContext(t *testing.T) {
	s := newTestStore(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, "k", payload{}, "equipment.json")
	if !errors.Is(err, errors.ErrIOFailure) {
		t.Errorf("Save(cancelled) = %v, want IO_FAILURE", err)
	}
	if s.FileExists("equipment.json") {
		t.Error("file written despite cancelled context")
	}
}

func TestBackupName(t *testing.T) {
	tests := map[string]string{
		"equipment.json":  "equipment_backup.json",
		"containers.json": "containers_backup.json",
		"noext":           "noext_backup",
	}
	for in, want := range tests {
		if got := BackupName(in); got != want {
			t.Errorf("BackupName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	for i := 0; i < 3; i++ {
		if err := s.Save(ctx, "k", payload{Count: i}, "equipment.json"); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	matches, err := filepath.Glob(filepath.Join(s.Dir(), "*.tmp"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestSaveEntries_MergesInOneWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	if err := s.Save(ctx, "keep", payload{Name: "keep"}, "containers.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	entries := map[string]json.RawMessage{
		"a": json.RawMessage(`{"name":"a"}`),
		"b": json.RawMessage(`{"name":"b"}`),
	}
	if err := s.SaveEntries(ctx, entries, "containers.json"); err != nil {
		t.Fatalf("SaveEntries() error = %v", err)
	}

	keys, err := s.Keys("containers.json")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("Keys() = %v, want [a b keep]", keys)
	}
	prev, err := s.Keys(BackupName("containers.json"))
	if err != nil {
		t.Fatalf("Keys(backup) error = %v", err)
	}
	if len(prev) != 1 || prev[0] != "keep" {
		t.Errorf("backup keys = %v, want [keep]", prev)
	}
}

func TestOperationsRecordSpans(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	s, err := New(Config{
		Dir:            t.TempDir(),
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Save(ctx, "k", payload{Name: "a"}, "equipment.json"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := s.Read(ctx, "missing", "equipment.json"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Read(missing) = %v, want NOT_FOUND", err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "store.save" || spans[1].Name() != "store.load" {
		t.Errorf("span names = %q, %q; want store.save, store.load", spans[0].Name(), spans[1].Name())
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.md")

	if err := WriteAtomic(path, []byte("first")); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}
	if err := WriteAtomic(path, []byte("second")); err != nil {
		t.Fatalf("WriteAtomic() overwrite error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}

	target := filepath.Join(dir, "target.md")
	link := filepath.Join(dir, "link.md")
	if err := os.WriteFile(target, []byte("keep"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	if err := WriteAtomic(link, []byte("x")); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("WriteAtomic(symlink) = %v, want INVALID_REQUEST", err)
	}
	if data, _ := os.ReadFile(target); string(data) != "keep" {
		t.Errorf("symlink target overwritten: %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("dir holds %d entries, want 3 (no temp files)", len(entries))
	}
}
