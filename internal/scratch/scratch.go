// Package scratch manages the per-job directories that hold source files,
// intermediate IR and bytecode while a job runs.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrExists  = errors.New("scratch directory already exists")
	ErrInvalid = errors.New("invalid scratch id")
)

const trashPrefix = ".trash-"

// Manager creates and removes job directories under a single root.
type Manager struct {
	root string
}

// Dir is one job's directory.
type Dir struct {
	ID   string
	Path string
}

// Entry describes a directory found under the root.
type Entry struct {
	ID        string
	CreatedAt time.Time
}

func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Manager{root: abs}, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Create makes a new directory for id. It fails with ErrExists when another
// live job already owns the name.
func (m *Manager) Create(id string) (*Dir, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(m.root, id)
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, id)
		}
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Dir{ID: id, Path: path}, nil
}

// Exists checks if a directory for id is present.
func (m *Manager) Exists(id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(m.root, id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete removes the directory for id and everything in it. The directory is
// first renamed out of the way so the id becomes free in a single step.
// Deleting a missing directory is not an error.
func (m *Manager) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	path := filepath.Join(m.root, id)
	trash := filepath.Join(m.root, fmt.Sprintf("%s%s-%d", trashPrefix, id, time.Now().UnixNano()))
	if err := os.Rename(path, trash); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("retire scratch dir: %w", err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

// List returns all job directories, excluding retired ones.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("list scratch root: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), trashPrefix) {
			continue
		}
		entry := Entry{ID: e.Name()}
		if info, err := e.Info(); err == nil {
			entry.CreatedAt = info.ModTime()
		}
		out = append(out, entry)
	}
	return out, nil
}

// Sweep removes every directory under the root for which keep returns false,
// including half-deleted trash. It returns the number of directories removed.
func (m *Manager) Sweep(keep func(id string) bool) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("list scratch root: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, trashPrefix) && keep != nil && keep(name) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, name)); err != nil {
			return removed, fmt.Errorf("sweep %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// File returns the path of name inside the directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.Path, name)
}

func (d *Dir) WriteFile(name string, data []byte) error {
	return os.WriteFile(d.File(name), data, 0o644)
}

// ReadFile returns the file's contents, or nil and no error when it does not exist.
func (d *Dir) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(d.File(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, trashPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	return nil
}
