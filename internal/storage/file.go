package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	keyFileSuffix = ".kv"
	logFileSuffix = ".log"
)

// File is a Store backed by one file per key under a directory, so state
// survives restarts without requiring an external service. Log entries are
// kept as newline-delimited hex records.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile opens (creating if needed) a file store rooted at dir.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file storage: create %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	if err := os.WriteFile(f.keyPath(key), value, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (f *File) Keys(_ context.Context, prefix string) ([]string, error) {
	names, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	var keys []string
	for _, entry := range names {
		name := entry.Name()
		if !strings.HasSuffix(name, keyFileSuffix) {
			continue
		}
		key, err := decodeName(strings.TrimSuffix(name, keyFileSuffix))
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *File) Append(_ context.Context, log string, entry []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(f.logPath(log), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log %s: %w", log, err)
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(entry) + "\n"); err != nil {
		return fmt.Errorf("append log %s: %w", log, err)
	}
	return nil
}

func (f *File) Entries(_ context.Context, log string, limit int) ([][]byte, error) {
	data, err := os.ReadFile(f.logPath(log))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log %s: %w", log, err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var entries [][]byte
	for _, line := range lines {
		if line == "" {
			continue
		}
		entry, err := hex.DecodeString(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (f *File) Close() error { return nil }

// File names are hex-encoded keys so arbitrary key characters cannot escape
// the storage directory.
func (f *File) keyPath(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+keyFileSuffix)
}

func (f *File) logPath(log string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(log))+logFileSuffix)
}

func decodeName(name string) (string, error) {
	raw, err := hex.DecodeString(name)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
