package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path for ext. A missing leading dot on
// ext is added; an empty ext strips the extension.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	if lastDot := strings.LastIndex(filename, "."); lastDot > 0 {
		filename = filename[:lastDot]
	}
	return filepath.Join(dir, filename+ext)
}

// SiblingName returns the base name of a slash-separated file ID with its
// extension replaced, e.g. "site1/rec.wav" -> "rec.png".
func SiblingName(fileID, ext string) string {
	return filepath.Base(ReplaceExt(filepath.FromSlash(fileID), ext))
}
