package auth

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestEncryptedFileStorage(t *testing.T) {
	tmpDir := t.TempDir()

	storage, err := NewEncryptedFileStorage(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create encrypted storage: %v", err)
	}

	testData := []byte(`{"access_token":"test-token"}`)
	if err := storage.Save("default", testData); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	credFile := filepath.Join(tmpDir, "credentials", "default.enc")
	encryptedData, err := os.ReadFile(credFile)
	if err != nil {
		t.Fatalf("Failed to read encrypted file: %v", err)
	}
	if string(encryptedData) == string(testData) {
		t.Error("Data was not encrypted")
	}

	loaded, err := storage.Load("default")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(loaded) != string(testData) {
		t.Errorf("Loaded data doesn't match original. Got: %s, Want: %s", string(loaded), string(testData))
	}

	// A second instance over the same directory reuses the key.
	reopened, err := NewEncryptedFileStorage(tmpDir)
	if err != nil {
		t.Fatalf("Failed to reopen encrypted storage: %v", err)
	}
	if again, err := reopened.Load("default"); err != nil || string(again) != string(testData) {
		t.Errorf("Expected reopened storage to decrypt, got %q (err %v)", string(again), err)
	}

	if err := storage.Delete("default"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if _, err := os.Stat(credFile); !os.IsNotExist(err) {
		t.Error("File was not deleted")
	}
	if _, err := storage.Load("default"); !stderrors.Is(err, ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials after delete, got %v", err)
	}
	if err := storage.Delete("default"); err != nil {
		t.Errorf("Expected deleting twice to succeed, got %v", err)
	}
}

func TestPlainFileStorage(t *testing.T) {
	tmpDir := t.TempDir()
	storage := NewPlainFileStorage(tmpDir)

	testData := []byte(`{"access_token":"plain"}`)
	if err := storage.Save("default", testData); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(tmpDir, "credentials", "default.json"))
	if err != nil {
		t.Fatalf("Expected credential file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %o", info.Mode().Perm())
	}

	loaded, err := storage.Load("default")
	if err != nil || string(loaded) != string(testData) {
		t.Errorf("Expected %s, got %s (err %v)", testData, loaded, err)
	}
	if _, err := storage.Load("other"); !stderrors.Is(err, ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials for unknown account, got %v", err)
	}
}

func TestKeyringStorage(t *testing.T) {
	keyring.MockInit()
	storage := NewKeyringStorage("drivesync-test")

	if _, err := storage.Load("default"); !stderrors.Is(err, ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials before save, got %v", err)
	}
	if err := storage.Save("default", []byte("secret")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := storage.Load("default")
	if err != nil || string(loaded) != "secret" {
		t.Errorf("Expected secret, got %q (err %v)", string(loaded), err)
	}
	if err := storage.Delete("default"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := storage.Delete("default"); err != nil {
		t.Errorf("Expected deleting a missing entry to succeed, got %v", err)
	}
	if storage.Name() != "system-keyring" {
		t.Errorf("Unexpected backend name %s", storage.Name())
	}
}
