package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/jobs"
)

// FileStore keeps the queue snapshot in a single JSON document:
//
//	{"queue": [...], "completed": [...]}
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.New(errs.ErrPersistence, "queue data file path is required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

// Load returns an empty snapshot when the file does not exist yet.
func (s *FileStore) Load(_ context.Context) (jobs.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return jobs.Snapshot{}, errs.Wrap(err, errs.ErrPersistence, "read queue data file").
			WithContext("path", s.path)
	}

	var snapshot jobs.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return jobs.Snapshot{}, errs.Wrap(err, errs.ErrPersistence, "decode queue data file").
			WithContext("path", s.path)
	}
	if snapshot.Queue == nil {
		snapshot.Queue = []*jobs.Job{}
	}
	if snapshot.Completed == nil {
		snapshot.Completed = []*jobs.Job{}
	}
	return snapshot, nil
}

// Save rewrites the whole file through a temp file and rename, so a crash
// mid-write leaves the previous snapshot intact.
func (s *FileStore) Save(_ context.Context, snapshot jobs.Snapshot) error {
	if snapshot.Queue == nil {
		snapshot.Queue = []*jobs.Job{}
	}
	if snapshot.Completed == nil {
		snapshot.Completed = []*jobs.Job{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return errs.Wrap(err, errs.ErrPersistence, "encode queue snapshot")
	}
	content := escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Wrap(err, errs.ErrPersistence, "create data directory").WithContext("dir", dir)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return errs.Wrap(err, errs.ErrPersistence, "write queue snapshot").WithContext("path", tmpPath)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, errs.ErrPersistence, fmt.Sprintf("replace %s", s.path))
	}
	return nil
}

// escapeNonASCII writes every non-ASCII rune as a \uXXXX escape, using
// surrogate pairs above the BMP, so files stay in the ASCII-only form the
// queue has always written. Outside strings JSON is ASCII already.
func escapeNonASCII(data []byte) []byte {
	if !slices.ContainsFunc(data, func(b byte) bool { return b >= utf8.RuneSelf }) {
		return data
	}
	out := make([]byte, 0, len(data)+64)
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}

func emptySnapshot() jobs.Snapshot {
	return jobs.Snapshot{
		Queue:     []*jobs.Job{},
		Completed: []*jobs.Job{},
	}
}
