package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// FileTimeLayout names diagnostics files after their creation time.
	FileTimeLayout = "20060102_150405"
	// FileExtension is the suffix of diagnostics files.
	FileExtension = ".log"
)

// FileSink writes each diagnostics document to its own timestamped file in a
// directory. Writes are atomic: a reader never sees a partial file.
type FileSink struct {
	dir string
	now func() time.Time
}

// NewFileSink creates a sink for dir. The directory is created on first use.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, now: time.Now}
}

// Dir returns the target directory.
func (f *FileSink) Dir() string {
	return f.dir
}

// name picks a file name that does not exist yet. Documents written within
// the same second get a numeric suffix.
func (f *FileSink) name() string {
	base := f.now().Format(FileTimeLayout)
	name := base + FileExtension
	for i := 1; ; i++ {
		if _, err := os.Lstat(filepath.Join(f.dir, name)); os.IsNotExist(err) {
			return name
		}
		name = base + "_" + strconv.Itoa(i) + FileExtension
	}
}

// Persist writes document to a new file.
func (f *FileSink) Persist(document []byte) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return errors.Wrap(err, "unable to create diagnostics directory")
	}

	target := filepath.Join(f.dir, f.name())
	temporary, err := os.CreateTemp(f.dir, ".diagnostics-*")
	if err != nil {
		return errors.Wrap(err, "unable to create temporary file")
	}
	defer os.Remove(temporary.Name())

	if _, err := temporary.Write(document); err != nil {
		temporary.Close()
		return errors.Wrap(err, "unable to write diagnostics")
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return errors.Wrap(err, "unable to flush diagnostics")
	}
	if err := temporary.Close(); err != nil {
		return errors.Wrap(err, "unable to close diagnostics file")
	}
	if err := os.Chmod(temporary.Name(), 0644); err != nil {
		return errors.Wrap(err, "unable to set diagnostics permissions")
	}
	if err := os.Rename(temporary.Name(), target); err != nil {
		return errors.Wrap(err, "unable to commit diagnostics file")
	}
	return nil
}

// Files lists the diagnostics files in the directory, oldest first.
func (f *FileSink) Files() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "unable to read diagnostics directory")
	}

	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), FileExtension) {
			files = append(files, filepath.Join(f.dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
