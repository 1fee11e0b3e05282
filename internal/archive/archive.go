// Package archive compresses a run's intermediate artifacts and performs
// best-effort cleanup of working directories.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// RemoveEmptyFiles deletes zero-byte files under root. Errors during the
// walk are reported through report and never abort it; a file vanishing
// mid-walk is expected during cleanup.
func RemoveEmptyFiles(root string, report func(path string, err error)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if report != nil {
				report(path, err)
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if report != nil {
				report(path, err)
			}
			return nil
		}
		if info.Size() != 0 {
			return nil
		}
		if err := os.Remove(path); err != nil && report != nil {
			report(path, err)
		}
		return nil
	})
}

// Compress writes srcDir as a gzipped tarball at outPath (temp file +
// rename) and then removes srcDir. The archive roots entries at the
// directory's base name.
func Compress(srcDir, outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	base := filepath.Base(srcDir)
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr == nil {
		walkErr = tw.Close()
	} else {
		tw.Close()
	}
	if err := gz.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := tmp.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive %s: %w", srcDir, walkErr)
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename archive: %w", err)
	}
	if err := os.RemoveAll(srcDir); err != nil {
		return fmt.Errorf("remove archived dir: %w", err)
	}
	return nil
}
