package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/jobprobe/pkg/output"
)

// FileSink persists session records in a local directory.
//
// Directory layout:
//
//	<root>/<session_id>/session.json
type FileSink struct {
	root string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a FileSink rooted at root.
func NewFileSink(root string) *FileSink {
	return &FileSink{root: strings.TrimSpace(root)}
}

// Name returns "file".
func (s *FileSink) Name() string {
	return "file"
}

func (s *FileSink) RootDir() string {
	return s.root
}

func (s *FileSink) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *FileSink) SessionPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), "session.json")
}

func (s *FileSink) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("session archive root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Store writes the record atomically: a temp file in the session dir is
// renamed over session.json.
func (s *FileSink) Store(ctx context.Context, rec *output.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "Store", Sink: s.Name(), Err: err}
	}
	id, err := validateRecord(rec)
	if err != nil {
		return &Error{Op: "Store", Sink: s.Name(), Err: err}
	}
	if err := s.write(id, rec); err != nil {
		return &Error{Op: "Store", Sink: s.Name(), Target: s.SessionPath(id), Err: err}
	}
	return nil
}

func (s *FileSink) write(id string, rec *output.SessionRecord) error {
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.SessionDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "session.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tmpName, s.SessionPath(id)); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Get loads one archived session.
func (s *FileSink) Get(sessionID string) (*output.SessionRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	b, err := os.ReadFile(s.SessionPath(sessionID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("session.json is empty")
	}

	var rec output.SessionRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, fmt.Errorf("parse session.json: %w", err)
	}
	return &rec, nil
}

// List returns archived sessions, newest first. Unreadable entries are
// skipped. A missing root yields an empty list.
func (s *FileSink) List() ([]output.SessionRecord, error) {
	if strings.TrimSpace(s.root) == "" {
		return nil, fmt.Errorf("session archive root dir is empty")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions root: %w", err)
	}

	out := make([]output.SessionRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	return out, nil
}
