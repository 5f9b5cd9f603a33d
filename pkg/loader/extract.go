package loader

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/replugio/replug/pkg/artifact"
)

// libSubtree is the well-known archive subtree holding executable modules:
// lib/<framework-tag>/*.so.
const libSubtree = "lib/"

var extractSeq int64

// extractArchive unpacks a package archive into a unique directory under
// root and returns the extraction directory. The directory name carries the
// artifact identity and an increasing sequence number so repeated loads of
// the same version never collide.
func extractArchive(a artifact.Artifact, root string) (string, error) {
	seq := atomic.AddInt64(&extractSeq, 1)
	dest := filepath.Join(root, fmt.Sprintf("replug-%s-%s-%d", sanitize(a.ID), sanitize(a.Version), seq))
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}

	r, err := zip.OpenReader(a.Path)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", a.Path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractFile(f, dest); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func extractFile(f *zip.File, dest string) error {
	// Reject entries that escape the extraction directory.
	target := filepath.Join(dest, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes extraction dir", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// archiveModules returns the executable modules found under the lib/
// subtree of an extracted archive.
func archiveModules(extractDir string) ([]string, error) {
	libDir := filepath.Join(extractDir, libSubtree)
	if _, err := os.Stat(libDir); err != nil {
		return nil, fmt.Errorf("archive has no %s subtree: %w", libSubtree, err)
	}

	var modules []string
	err := filepath.Walk(libDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			modules = append(modules, path)
		}
		return nil
	})
	return modules, err
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
