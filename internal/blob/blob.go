// Package blob keeps audio files in a flat directory and serves them over
// HTTP. Files are written atomically through a temporary file and rename, so
// a reader never sees a partial file.
package blob

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidName is returned for names that are not a single safe path
// element.
var ErrInvalidName = errors.New("blob: invalid name")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Dir is a directory of blobs. It is safe for concurrent use.
type Dir struct {
	path string
}

// Open returns the blob directory at path, creating it if necessary.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create %s: %w", path, err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Write stores data under name, replacing any previous content.
func (d *Dir) Write(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.path, ".tmp-*")
	if err != nil {
		return fmt.Errorf("blob: write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blob: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.path, name)); err != nil {
		return fmt.Errorf("blob: write %s: %w", name, err)
	}
	return nil
}

// Read returns the content of name.
func (d *Dir) Read(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(d.path, name))
}

// Find returns the first stored name that starts with prefix followed by a
// dot, e.g. "abc.mp3" for prefix "abc".
func (d *Dir) Find(prefix string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(d.path, prefix+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return filepath.Base(matches[0]), true
}

// Handler serves the blobs. Directory listings and hidden files are
// refused with 404. Mount it with [http.StripPrefix].
func (d *Dir) Handler() http.Handler {
	fs := http.FileServer(http.Dir(d.path))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if checkName(name) != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		fs.ServeHTTP(w, r)
	})
}

func checkName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
