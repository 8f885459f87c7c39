package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hitoshi/jobman/internal/model"
)

func TestFileStore_SaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	want := model.Credentials{Token: "abc", Role: model.RoleHR}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got.Token != want.Token {
		t.Errorf("Token = %q, want %q", got.Token, want.Token)
	}
	if got.Role != want.Role {
		t.Errorf("Role = %q, want %q", got.Role, want.Role)
	}
}

func TestFileStore_Load_NoFile_ReturnsEmpty(t *testing.T) {
	store := NewFileStore(t.TempDir())

	creds, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !creds.Empty() {
		t.Errorf("expected empty credentials, got %+v", creds)
	}
}

func TestFileStore_Load_CorruptFile_ReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "credentials.json"), []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(dir)

	creds, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !creds.Empty() {
		t.Errorf("corrupt file should be treated as unsaved, got %+v", creds)
	}
}

func TestFileStore_Save_FileMode0600(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	if err := store.Save(model.Credentials{Token: "abc", Role: model.RoleApplicant}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "credentials.json"))
	if err != nil {
		t.Fatalf("Stat returned error: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want %o", perm, 0o600)
	}
}

func TestFileStore_Save_CreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	store := NewFileStore(dir)

	if err := store.Save(model.Credentials{Token: "abc", Role: model.RoleAdmin}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("state dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("state dir path is not a directory")
	}
}

func TestFileStore_Save_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	if err := store.Save(model.Credentials{Token: "abc", Role: model.RoleHR}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "credentials.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only credentials.json in state dir, got %v", names)
	}
}

func TestFileStore_Clear_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	if err := store.Save(model.Credentials{Token: "abc", Role: model.RoleHR}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	creds, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !creds.Empty() {
		t.Errorf("expected empty credentials after Clear, got %+v", creds)
	}
}

func TestFileStore_Clear_Idempotent(t *testing.T) {
	store := NewFileStore(t.TempDir())

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear on missing file should succeed, got %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear should succeed, got %v", err)
	}
}

func TestMemStore_InjectedErrors(t *testing.T) {
	store := NewMemStore()
	store.SaveErr = errors.New("disk full")

	if err := store.Save(model.Credentials{Token: "abc"}); err == nil {
		t.Error("expected injected save error")
	}

	store.SaveErr = nil
	if err := store.Save(model.Credentials{Token: "abc", Role: model.RoleHR}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	creds, saved := store.Stored()
	if !saved || creds.Token != "abc" {
		t.Errorf("Stored() = %+v, %v; want saved abc", creds, saved)
	}
}
