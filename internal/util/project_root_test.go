package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProjectRootFromPathFindsGoMod(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example\n"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := findProjectRootFromPath(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Clean(found) != filepath.Clean(root) {
		t.Fatalf("expected %q, got %q", root, found)
	}
}

func TestFindProjectRootFromPathFallsBackToMainGo(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "brld.yaml"), []byte("transport: {}\n"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := findProjectRootFromPath(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Clean(found) != filepath.Clean(root) {
		t.Fatalf("expected %q, got %q", root, found)
	}
}
