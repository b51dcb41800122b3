// Package artifact packs the shared tarballs staged onto the coordinator and
// the per-run bootstrap resource bundle kept for audit.
package artifact

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PackTree bundles srcDir into a uniquely named tar.gz in the current
// directory, rooted at arcRoot inside the archive. The caller removes the
// file once it has been shipped.
func PackTree(srcDir, arcRoot string) (string, error) {
	name := uuid.New().String() + ".tar.gz"
	if err := writeTarGz(name, func(tw *tar.Writer) error {
		return addTree(tw, srcDir, arcRoot)
	}); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// ExportResources writes the timestamped, cluster-keyed audit bundle: every
// staged file plus an additional_exports.sh holding the export commands the
// bootstrap pipelines issued.
func ExportResources(logDir, cluster string, files, commands []string) (string, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir log dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("%s_%d_bootstrap-resources.tar.gz", cluster, time.Now().UnixMilli()))
	err := writeTarGz(path, func(tw *tar.Writer) error {
		for _, f := range files {
			if err := addFile(tw, f); err != nil {
				return err
			}
		}
		var exports []string
		for _, c := range commands {
			if strings.HasPrefix(c, "export ") {
				exports = append(exports, c)
			}
		}
		content := []byte(strings.Join(exports, "\n"))
		hdr := &tar.Header{
			Name:    "conf/additional_exports.sh",
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(content)
		return err
	})
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeTarGz(path string, fill func(*tar.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	if err := fill(tw); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return f.Close()
}

func addFile(tw *tar.Writer, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

func addTree(tw *tar.Writer, srcDir, arcRoot string) error {
	return filepath.Walk(srcDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(arcRoot, rel))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}
