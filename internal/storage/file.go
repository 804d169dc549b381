package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "slotwatch/pkg/logx"
)

// fileStore keeps all subscribers in one JSON document, the same shape the
// bot has always written. Writes replace the file atomically via a temp
// file and rename, so a crash mid-write never corrupts existing state.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	recs map[int64]SubscriberRecord
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, recs: map[int64]SubscriberRecord{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	var recs []SubscriberRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return err
	}
	for _, r := range recs {
		s.recs[r.ChatID] = r
	}
	return nil
}

func (s *fileStore) LoadSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubscriberRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *fileStore) PutSubscriber(ctx context.Context, rec SubscriberRecord) error {
	_ = ctx
	rec.Version = SchemaVersion
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.recs[rec.ChatID]
	s.recs[rec.ChatID] = rec.Clone()
	if err := s.flushLocked(); err != nil {
		// Roll back the in-memory map so a retry starts clean.
		if had {
			s.recs[rec.ChatID] = prev
		} else {
			delete(s.recs, rec.ChatID)
		}
		return err
	}
	return nil
}

func (s *fileStore) DeleteSubscriber(ctx context.Context, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.recs[chatID]
	if !had {
		return nil
	}
	delete(s.recs, chatID)
	if err := s.flushLocked(); err != nil {
		s.recs[chatID] = prev
		return err
	}
	return nil
}

func (s *fileStore) flushLocked() error {
	recs := make([]SubscriberRecord, 0, len(s.recs))
	for _, r := range s.recs {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ChatID < recs[j].ChatID })

	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }
