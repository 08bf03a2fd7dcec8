package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLockDryRun(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "webhook:\n  secret: s\n")

	report, err := Lock(path, true)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(report.Hash))
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ChecksumFileName)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockWritesChecksums(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "webhook:\n  secret: s\n")

	report, err := Lock(tmpDir, false)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if manifest.Hashes["config.yaml"] != report.Hash {
		t.Errorf("manifest hash = %q, want %q", manifest.Hashes["config.yaml"], report.Hash)
	}

	if err := VerifyFileHash(path, report.Hash); err != nil {
		t.Errorf("VerifyFileHash() failed: %v", err)
	}
}

func TestLoadVerifiesLockedConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "webhook:\n  secret: s\n")

	if _, err := Lock(path, false); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	// Tamper with the file after locking
	writeConfig(t, tmpDir, "webhook:\n  secret: tampered\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail after tampering")
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("error = %v, want hash mismatch", err)
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	if !errors.Is(err, ErrNoChecksums) {
		t.Errorf("LoadChecksums() error = %v, want ErrNoChecksums", err)
	}
}

func TestLoadChecksumsUnsupportedVersion(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ChecksumFileName), []byte("version: 2\nhashes: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(tmpDir); err == nil {
		t.Error("LoadChecksums() should reject unsupported versions")
	}
}

func TestComputeBlake3HashDeterministic(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "a: b\n")

	h1, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("hash should be deterministic")
	}

	if err := VerifyFileHash(path, strings.Repeat("0", 64)); err == nil {
		t.Error("VerifyFileHash() should fail on mismatch")
	}
}
