package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "slotwatch/pkg/logx"
)

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slotwatch.db")
	st, err := openSQLite(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	rec := sampleRecord(42)
	if err := st.PutSubscriber(ctx, rec); err != nil {
		t.Fatalf("PutSubscriber: %v", err)
	}

	// Upsert replaces, not duplicates.
	rec.IDNo = "12298765"
	if err := st.PutSubscriber(ctx, rec); err != nil {
		t.Fatalf("PutSubscriber (upsert): %v", err)
	}

	recs, err := st.LoadSubscribers(ctx)
	if err != nil {
		t.Fatalf("LoadSubscribers: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	got := recs[0]
	if got.IDNo != "12298765" {
		t.Fatalf("id_no = %q", got.IDNo)
	}
	if got.Sections["CSARCH2"][0] != 1234 {
		t.Fatalf("sections = %+v", got.Sections)
	}
	if got.PreviousData["CSOPESY"][0].EnrlCap != 30 {
		t.Fatalf("previous_data = %+v", got.PreviousData)
	}

	if err := st.DeleteSubscriber(ctx, 42); err != nil {
		t.Fatalf("DeleteSubscriber: %v", err)
	}
	recs, err = st.LoadSubscribers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("records = %d after delete", len(recs))
	}
}
