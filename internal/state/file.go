package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "sheetwatch/pkg/logx"
)

// fileStore keeps the watermark as a decimal integer in a text file,
// written atomically via tmp+rename so a crash mid-write never leaves a
// corrupt value behind.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (int64, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("state file %s: invalid watermark %q: %w", s.path, raw, err)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("state file %s: negative watermark %d", s.path, v)
	}
	return v, true, nil
}

func (s *fileStore) Save(ctx context.Context, watermark int64) error {
	_ = ctx
	if watermark < 0 {
		return fmt.Errorf("watermark must be >= 0, got %d", watermark)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	data := strconv.FormatInt(watermark, 10) + "\n"
	if err := os.WriteFile(tmp, []byte(data), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("watermark saved", logx.Int64("watermark", watermark), logx.String("path", s.path))
	return nil
}

func (s *fileStore) Close() error { return nil }
