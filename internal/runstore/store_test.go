package runstore

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreMergeAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convoy.db")
	s, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	err = s.Merge(ctx, map[string]string{
		KeyCmdline: "convoy create --count hadoop-dn=3",
		KeyBastion: "gateway",
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	got, err := s.Get(ctx, KeyCmdline)
	if err != nil || got != "convoy create --count hadoop-dn=3" {
		t.Fatalf("Get cmdline: %q, %v", got, err)
	}
	if got, _ := s.Get(ctx, KeySaltmaster); got != "" {
		t.Fatalf("absent key should be empty, got %q", got)
	}
}

func TestStoreMergePreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convoy.db")
	s, err := Open(path, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Merge(ctx, map[string]string{KeyBastion: "gateway", KeySaltmaster: "saltmaster"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(ctx, map[string]string{KeyBastion: "gateway-2"}); err != nil {
		t.Fatal(err)
	}

	if got, _ := s.Get(ctx, KeyBastion); got != "gateway-2" {
		t.Fatalf("bastion not updated: %q", got)
	}
	if got, _ := s.Get(ctx, KeySaltmaster); got != "saltmaster" {
		t.Fatalf("saltmaster lost on merge: %q", got)
	}
}

func TestStoreScopedByRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convoy.db")
	first, err := Open(path, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := first.Merge(ctx, map[string]string{KeyCmdline: "convoy create"}); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Open(path, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if got, _ := second.Get(ctx, KeyCmdline); got != "" {
		t.Fatalf("run-2 sees run-1's record: %q", got)
	}
}
