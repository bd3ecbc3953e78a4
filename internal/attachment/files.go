package attachment

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathNotFound = errors.New("attachment path not found")

type File struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
}

// Collect lists the files under path whose extension is allowed. A path that
// points at a regular file is returned as the only match.
func Collect(path string, allowed []string) ([]File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return nil, err
	}
	if !info.IsDir() {
		return []File{newFile(path, info.Size())}, nil
	}

	match := extensionMatcher(allowed)
	var files []File
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !match(p) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, newFile(p, fi.Size()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func TotalSize(files []File) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}

func newFile(path string, size int64) File {
	return File{
		Path:        path,
		Name:        filepath.Base(path),
		ContentType: detectContentType(path),
		Size:        size,
	}
}

func extensionMatcher(allowed []string) func(string) bool {
	exts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		switch a {
		case "all", "*", "*.*":
			return func(string) bool { return true }
		}
		a = strings.TrimPrefix(strings.TrimPrefix(a, "*"), ".")
		if a == "" {
			continue
		}
		exts[a] = struct{}{}
	}
	if len(exts) == 0 {
		return func(string) bool { return true }
	}
	return func(p string) bool {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
		_, ok := exts[ext]
		return ok
	}
}

// detectContentType is a best-effort guess: extension first, then content
// sniffing.
func detectContentType(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(head[:n])
}
