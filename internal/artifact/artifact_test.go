package artifact

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	entries := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = string(body)
	}
	return entries
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func TestPackTree(t *testing.T) {
	chdirTemp(t)
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "states"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "top.sls"), []byte("base: {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "states", "init.sls"), []byte("pkg: {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := PackTree(src, "platform-salt")
	if err != nil {
		t.Fatalf("PackTree failed: %v", err)
	}
	defer os.Remove(name)
	if !strings.HasSuffix(name, ".tar.gz") {
		t.Fatalf("unexpected archive name %s", name)
	}

	entries := readArchive(t, name)
	if entries["platform-salt/top.sls"] != "base: {}" {
		t.Errorf("top.sls missing or wrong: %v", entries)
	}
	if entries["platform-salt/states/init.sls"] != "pkg: {}" {
		t.Errorf("nested file missing or wrong: %v", entries)
	}
	for name := range entries {
		if !strings.HasPrefix(name, "platform-salt") {
			t.Errorf("entry %s not rooted under archive root", name)
		}
	}
}

func TestPackTreeMissingSource(t *testing.T) {
	chdirTemp(t)
	if _, err := PackTree(filepath.Join(t.TempDir(), "nope"), "x"); err == nil {
		t.Fatal("expected error for missing source tree")
	}
}

func TestExportResources(t *testing.T) {
	chdirTemp(t)
	logDir := t.TempDir()
	staged := filepath.Join(t.TempDir(), "base.sh")
	if err := os.WriteFile(staged, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	commands := []string{
		"export CONVOY_CLUSTER=pond",
		"sudo chmod a+x /tmp/base.sh",
		"export CONVOY_FLAVOR=standard",
		"touch ~/.bootstrap_complete",
	}
	path, err := ExportResources(logDir, "pond", []string{staged}, commands)
	if err != nil {
		t.Fatalf("ExportResources failed: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "pond_") || !strings.HasSuffix(base, "_bootstrap-resources.tar.gz") {
		t.Fatalf("unexpected bundle name %s", base)
	}

	entries := readArchive(t, path)
	exports, ok := entries["conf/additional_exports.sh"]
	if !ok {
		t.Fatalf("missing additional_exports.sh in %v", entries)
	}
	if !strings.Contains(exports, "export CONVOY_CLUSTER=pond") || !strings.Contains(exports, "export CONVOY_FLAVOR=standard") {
		t.Errorf("exports not captured: %q", exports)
	}
	if strings.Contains(exports, "chmod") || strings.Contains(exports, "touch") {
		t.Errorf("non-export commands leaked into exports: %q", exports)
	}

	found := false
	for name, body := range entries {
		if strings.HasSuffix(name, "base.sh") && body == "#!/bin/sh\n" {
			found = true
		}
	}
	if !found {
		t.Errorf("staged file not bundled: %v", entries)
	}
}
