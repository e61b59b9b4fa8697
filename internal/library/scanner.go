package library

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/soundscape-lab/soundscape/internal/errs"
)

// DefaultExtensions lists the audio extensions the classifiers accept.
var DefaultExtensions = []string{".wav"}

type scannerOptions struct {
	extensions []string
}

type Option func(*scannerOptions)

func WithExtensions(exts ...string) Option {
	return func(o *scannerOptions) {
		o.extensions = normalizeExts(exts)
	}
}

type Scanner struct {
	root       string
	extensions []string
}

func NewScanner(root string, opts ...Option) *Scanner {
	options := scannerOptions{
		extensions: normalizeExts(DefaultExtensions),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Scanner{
		root:       root,
		extensions: options.extensions,
	}
}

func (s *Scanner) Root() string {
	return s.root
}

func (s *Scanner) Extensions() []string {
	return append([]string(nil), s.extensions...)
}

// Scan returns a lazy, single-use sequence of absolute audio file paths under
// the scanner root, in lexical walk order. A missing root is an ErrNotFound
// error; a root without matches yields an empty sequence. Walk failures and
// context cancellation are yielded as the error element and end the sequence.
func (s *Scanner) Scan(ctx context.Context) (iter.Seq2[string, error], error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrNotFound, "resolve input directory").WithContext("root", s.root)
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(err, errs.ErrNotFound, "input directory does not exist").WithContext("root", root)
		}
		return nil, errs.Wrap(err, errs.ErrNotFound, "stat input directory").WithContext("root", root)
	}
	if !info.IsDir() {
		return nil, errs.New(errs.ErrNotFound, "input path is not a directory").WithContext("root", root)
	}

	exts := s.Extensions()
	var consumed atomic.Bool
	return func(yield func(string, error) bool) {
		if consumed.Swap(true) {
			return
		}
		stopped := false
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				return nil
			}
			if !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
				return nil
			}
			if !yield(path, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil && !stopped {
			yield("", walkErr)
		}
	}, nil
}

// Collect drains seq, stopping at the first error.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	ret := make([]string, 0)
	for path, err := range seq {
		if err != nil {
			return ret, err
		}
		ret = append(ret, path)
	}
	return ret, nil
}

// FileID is the identity of path within a scan: its root-relative,
// slash-separated form.
func FileID(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path " + path + " is outside " + absRoot)
	}
	return filepath.ToSlash(rel), nil
}

// IsAudioFile is the per-file validity check: a regular file whose extension
// is one of exts. Failures are ErrValidation errors.
func IsAudioFile(path string, exts []string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(normalizeExts(exts), ext) {
		return errs.New(errs.ErrValidation, "unsupported extension").WithContext("path", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errs.Wrap(err, errs.ErrValidation, "stat audio file").WithContext("path", path)
	}
	if !info.Mode().IsRegular() {
		return errs.New(errs.ErrValidation, "not a regular file").WithContext("path", path)
	}
	return nil
}

func normalizeExts(exts []string) []string {
	ret := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(ret, ext) {
			ret = append(ret, ext)
		}
	}
	return ret
}
