package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File persists fields to a YAML document on local disk. The document is read
// once when the store is opened; afterwards the store is the only writer and
// serves reads from memory. Every write rewrites the file atomically.
type File struct {
	mu     sync.Mutex
	path   string
	fields map[string]string
}

// OpenFile opens (or prepares to create) the store at path.
func OpenFile(path string) (*File, error) {
	f := &File{
		path:   path,
		fields: map[string]string{},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	if err := yaml.Unmarshal(data, &f.fields); err != nil {
		return nil, fmt.Errorf("store file %s is not valid YAML: %w", path, err)
	}
	if f.fields == nil {
		// an empty document unmarshals to nil
		f.fields = map[string]string{}
	}

	return f, nil
}

func (f *File) GetField(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.fields[key]
	return v, ok, nil
}

func (f *File) SetField(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := maps.Clone(f.fields)
	next[key] = value

	if err := f.write(next); err != nil {
		return err
	}

	f.fields = next
	return nil
}

func (f *File) ClearAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing store file: %w", err)
	}

	f.fields = map[string]string{}
	return nil
}

func (f *File) Close() error {
	return nil
}

// write replaces the file contents via a temporary file in the same
// directory, so a crash never leaves a partial document behind.
func (f *File) write(fields map[string]string) error {
	data, err := yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding store file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary store file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing store file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting store file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing store file: %w", err)
	}

	return nil
}
