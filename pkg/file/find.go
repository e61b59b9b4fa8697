package file

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// FindModifiedAfter lists regular files below dir with one of exts (any file
// if exts is empty) whose modification time is after since.
func FindModifiedAfter(dir string, since time.Time, exts ...string) ([]string, error) {
	var found []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !hasExt(path, exts) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(since) {
			found = append(found, path)
		}
		return nil
	})

	return found, err
}

func hasExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
