package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/store"
)

func TestLedgerRoundTrip(t *testing.T) {
	l, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	key := store.ReportKey{Reporter: "A", Reported: "B", Room: "anxiety"}

	tests := []struct {
		name     string
		record   *time.Time
		wantOK   bool
		wantTime time.Time
	}{
		{name: "empty ledger", wantOK: false},
		{name: "first report", record: ptr(base), wantOK: true, wantTime: base},
		{name: "newer report wins", record: ptr(base.Add(time.Minute)), wantOK: true, wantTime: base.Add(time.Minute)},
		{name: "older report ignored", record: ptr(base.Add(-time.Minute)), wantOK: true, wantTime: base.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.record != nil {
				if err := l.RecordReport(ctx, store.Report{ReportKey: key, IssuedAt: *tt.record}); err != nil {
					t.Fatalf("record: %v", err)
				}
			}
			at, ok, err := l.LastReport(ctx, key)
			if err != nil {
				t.Fatalf("last report: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && !at.Equal(tt.wantTime) {
				t.Fatalf("expected %v, got %v", tt.wantTime, at)
			}
		})
	}

	n, err := l.PruneBefore(ctx, base.Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pruned, got %d (%v)", n, err)
	}
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	key := store.ReportKey{Reporter: "A", Reported: "B", Room: "loneliness"}
	at := time.UnixMilli(1714564800000).UTC()

	l, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.RecordReport(context.Background(), store.Report{ReportKey: key, IssuedAt: at}); err != nil {
		t.Fatalf("record: %v", err)
	}
	l.Close()

	l, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	got, ok, err := l.LastReport(context.Background(), key)
	if err != nil || !ok || !got.Equal(at) {
		t.Fatalf("expected %v, got %v ok=%v err=%v", at, got, ok, err)
	}
}

func TestNewWithSetupFailure(t *testing.T) {
	_, err := NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec("CREATE TABLE broken (")
		return err
	})
	if err == nil {
		t.Fatalf("expected setup error")
	}
}

func ptr(t time.Time) *time.Time { return &t }
