// Package yaml provides atomic YAML file I/O, schema headers and
// quarantine of corrupted files.
package yaml

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data and writes it with AtomicWriteRaw.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw replaces path with content. The content must parse as YAML.
// The previous file, if any, is kept as path.bak. Readers see either the old
// or the new file, never a partial one.
func AtomicWriteRaw(path string, content []byte) error {
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	dir := filepath.Dir(path)
	tmpName, err := writeTemp(dir, content)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// writeTemp writes content to a synced temp file in dir and returns its name.
func writeTemp(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".statusd-tmp-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(content)
	if werr == nil {
		werr = tmp.Sync()
	}
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", werr)
	}
	return name, nil
}

// syncDir flushes the rename. Some filesystems refuse to sync directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Load reads a schema-headed YAML file into v. A missing file is not an
// error: it reports exists=false and leaves v untouched.
func Load(path, fileType string, v any) (exists bool, err error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := CheckHeader(content, fileType); err != nil {
		return true, &CorruptError{Path: path, Err: err}
	}
	if err := yamlv3.Unmarshal(content, v); err != nil {
		return true, &CorruptError{Path: path, Err: err}
	}
	return true, nil
}

// Remove deletes path together with its .bak copy. Missing files are ignored.
func Remove(path string) error {
	for _, p := range []string{path, path + ".bak"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// CorruptError reports a file that exists but cannot be decoded.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt file %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }
