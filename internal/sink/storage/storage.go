// Package storage implements the sink's atomic JSON persistence and
// append-only JSONL logging primitives, grounded on the teacher's
// temp-file-plus-rename atomic write pattern in
// internal/edge/cache/filesystem.go.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// WriteFileAtomic writes raw bytes to path atomically using the same
// temp-file-plus-rename discipline as WriteJSONAtomic, for non-JSON
// payloads (downloaded file content).
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create dir %q: %w", dir, err)
	}

	tmpName := filepath.Join(dir, fmt.Sprintf(".%s.%d.%s.tmp", filepath.Base(path), time.Now().UnixNano(), uuid.NewString()))

	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp file for %q: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write temp file for %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: fsync temp file for %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close temp file for %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename temp file into %q: %w", path, err)
	}
	return nil
}

// WriteJSONAtomic serializes v as two-space-indented JSON and writes it to
// path atomically: write to a temp file in the same directory, fsync,
// close, then rename over the target, per §4.2.
func WriteJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create dir %q: %w", dir, err)
	}

	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %q: %w", path, err)
	}

	tmpName := filepath.Join(dir, fmt.Sprintf(".%s.%d.%s.tmp", filepath.Base(path), time.Now().UnixNano(), uuid.NewString()))

	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp file for %q: %w", path, err)
	}

	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write temp file for %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: fsync temp file for %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close temp file for %q: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename temp file into %q: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the JSON document at path into v. If path does not
// exist, ReadJSON leaves v untouched and returns nil, letting the caller
// rely on v's zero value as the tolerant default per §4.2.
func ReadJSON(path string, v interface{}) error {
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: read %q: %w", path, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("storage: decode %q: %w", path, err)
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// AppendJSONLine appends one JSON-encoded, newline-terminated record to
// the append-only log at path, creating parent directories and the file
// as needed.
func AppendJSONLine(path string, record interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create dir %q: %w", dir, err)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("storage: marshal jsonl record for %q: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open %q for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("storage: append to %q: %w", path, err)
	}
	return nil
}

// TruncateFile creates or empties the file at path.
func TruncateFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create dir %q: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: truncate %q: %w", path, err)
	}
	return f.Close()
}

// ReadJSONLines calls fn once per decoded JSON line in the file at path.
// Missing files are treated as empty (zero calls, nil error), matching
// ReadJSON's tolerant-of-missing-file contract.
func ReadJSONLines(path string, newRecord func() interface{}, fn func(interface{}) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: open %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		rec := newRecord()
		if err := json.Unmarshal(line, rec); err != nil {
			return fmt.Errorf("storage: decode line %d of %q: %w", lineNo, path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("storage: scan %q: %w", path, err)
	}
	return nil
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// RemoveIfExists deletes path if present, tolerating a missing file.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %q: %w", path, err)
	}
	return nil
}

// CopyFile copies src to dst, used as the cross-device fallback for
// rename failures (§7 FilesystemTransient).
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: create dir for %q: %w", dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("storage: open src %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create dst %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("storage: copy %q -> %q: %w", src, dst, err)
	}
	return out.Sync()
}

// MoveFile renames src to dst, falling back to copy+unlink across devices
// (§7 FilesystemTransient).
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: create dir for %q: %w", dst, err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
