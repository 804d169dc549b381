package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"slotwatch/internal/provider"
	logx "slotwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, version, id_no, courses, sections, previous_data
		 FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriberRecord
	for rows.Next() {
		var (
			rec                      SubscriberRecord
			courses, sections, prev string
		)
		if err := rows.Scan(&rec.ChatID, &rec.Version, &rec.IDNo, &courses, &sections, &prev); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(courses), &rec.Courses); err != nil {
			return nil, fmt.Errorf("chat %d: courses column: %w", rec.ChatID, err)
		}
		if err := json.Unmarshal([]byte(sections), &rec.Sections); err != nil {
			return nil, fmt.Errorf("chat %d: sections column: %w", rec.ChatID, err)
		}
		if err := json.Unmarshal([]byte(prev), &rec.PreviousData); err != nil {
			return nil, fmt.Errorf("chat %d: previous_data column: %w", rec.ChatID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSubscriber(ctx context.Context, rec SubscriberRecord) error {
	rec.Version = SchemaVersion
	courses, err := json.Marshal(orEmptySlice(rec.Courses))
	if err != nil {
		return err
	}
	sections, err := json.Marshal(orEmptyIntMap(rec.Sections))
	if err != nil {
		return err
	}
	prev, err := json.Marshal(orEmptySnapMap(rec.PreviousData))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, version, id_no, courses, sections, previous_data)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   version=excluded.version, id_no=excluded.id_no, courses=excluded.courses,
		   sections=excluded.sections, previous_data=excluded.previous_data`,
		rec.ChatID, rec.Version, rec.IDNo, string(courses), string(sections), string(prev),
	)
	return err
}

func (s *sqliteStore) DeleteSubscriber(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	return err
}

func orEmptySlice(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func orEmptyIntMap(v map[string][]int) map[string][]int {
	if v == nil {
		return map[string][]int{}
	}
	return v
}

func orEmptySnapMap(v map[string][]provider.Section) map[string][]provider.Section {
	if v == nil {
		return map[string][]provider.Section{}
	}
	return v
}
