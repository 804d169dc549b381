package logging

import (
	"context"
	"log/slog"
	"testing"
)

type recordSink struct {
	records []slog.Record
}

func (r *recordSink) Enabled(context.Context, slog.Level) bool { return true }
func (r *recordSink) Handle(_ context.Context, rec slog.Record) error {
	r.records = append(r.records, rec)
	return nil
}
func (r *recordSink) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *recordSink) WithGroup(string) slog.Handler      { return r }

func TestAtomicHandlerSwap(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{}
	ah := NewAtomicHandler(a)
	log := slog.New(ah)

	log.Info("first")
	ah.Swap(b)
	log.Info("second")

	if len(a.records) != 1 || a.records[0].Message != "first" {
		t.Fatalf("sink a got %d records", len(a.records))
	}
	if len(b.records) != 1 || b.records[0].Message != "second" {
		t.Fatalf("sink b got %d records", len(b.records))
	}
}

func TestFanoutDeliversToAll(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{}
	log := slog.New(Fanout(a, b))
	log.Warn("hello")
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("fanout delivered %d/%d", len(a.records), len(b.records))
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("warn", slog.LevelInfo); got != slog.LevelWarn {
		t.Fatalf("got %v", got)
	}
	if got := parseLevel("nonsense", slog.LevelInfo); got != slog.LevelInfo {
		t.Fatalf("got %v", got)
	}
}
