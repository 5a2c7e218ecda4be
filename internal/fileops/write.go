package fileops

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	removeAll  = os.RemoveAll
	statFile   = os.Stat
	renameFile = os.Rename
)

// WriteJSONAtomic writes v as indented UTF-8 JSON, replacing path only after
// the full payload is on disk.
func WriteJSONAtomic(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	payload = append(payload, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := swapInto(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// swapInto moves tmp over path. An existing path is parked next to it and put
// back when the final rename fails.
func swapInto(tmp, path string) error {
	parkedPath := path + ".bak"
	if err := os.Remove(parkedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %w", filepath.Base(parkedPath), err)
	}

	parked := false
	if _, err := statFile(path); err == nil {
		if err := renameFile(path, parkedPath); err != nil {
			return fmt.Errorf("park %s: %w", filepath.Base(path), err)
		}
		parked = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	if err := renameFile(tmp, path); err != nil {
		if parked {
			if restoreErr := renameFile(parkedPath, path); restoreErr != nil {
				return fmt.Errorf("replace %s: %w (restore failed: %v)", filepath.Base(path), err, restoreErr)
			}
		}
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	if parked {
		_ = os.Remove(parkedPath)
	}
	return nil
}

// RemoveTree deletes path recursively. A missing path is not an error.
func RemoveTree(path string) error {
	if path == "" || path == "/" || path == "." {
		return fmt.Errorf("refusing to remove %q", path)
	}
	if err := removeAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// NonEmptyFile reports whether path is a regular file with size > 0.
func NonEmptyFile(path string) (int64, bool) {
	info, err := statFile(path)
	if err != nil || info.IsDir() || info.Size() <= 0 {
		return 0, false
	}
	return info.Size(), true
}

// CopyFile copies src to dst, calling progress after each written chunk.
func CopyFile(src, dst string, progress func(current, total int64)) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}

	var writer io.Writer = out
	if progress != nil {
		writer = &progressWriter{w: out, total: info.Size(), fn: progress}
	}
	written, copyErr := io.Copy(writer, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return written, fmt.Errorf("copy %s: %w", src, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("close %s: %w", dst, closeErr)
	}
	return written, nil
}

type progressWriter struct {
	w       io.Writer
	current int64
	total   int64
	fn      func(current, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.current += int64(n)
	p.fn(p.current, p.total)
	return n, err
}
