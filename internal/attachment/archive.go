package attachment

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrCompression  = errors.New("compression failed")
	ErrEmptyArchive = errors.New("compressed archive is empty")
)

// archiveName returns a unique, timestamped archive file name.
func archiveName(label string, now time.Time) string {
	if label == "" {
		label = "attachments"
	}
	return fmt.Sprintf("%s_%s_%09d.zip", label, now.Format("20060102_150405"), now.Nanosecond())
}

// compress writes files into a zip archive at dest. Entry names are relative
// to root when possible. A zero-byte result is removed and reported as
// ErrEmptyArchive.
func compress(dest, root string, files []File) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}

	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := addToZip(zw, root, f); err != nil {
			zw.Close()
			out.Close()
			os.Remove(dest)
			return 0, fmt.Errorf("%w: %s: %v", ErrCompression, f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dest)
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return 0, ErrEmptyArchive
	}

	return info.Size(), nil
}

func addToZip(zw *zip.Writer, root string, f File) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = entryName(root, f)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func entryName(root string, f File) string {
	rel, err := filepath.Rel(root, f.Path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return f.Name
	}
	return filepath.ToSlash(rel)
}
