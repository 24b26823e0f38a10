package history

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"ordergate/internal/blob"
	"ordergate/pkg/domain"
)

var t0 = time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)

func report(id, order string, at time.Time, status domain.Status) domain.Report {
	return domain.Report{
		ID:          id,
		OrderID:     order,
		OrderNumber: "SO-" + order,
		Timestamp:   at,
		Status:      status,
		Issues: []domain.Issue{
			{Rule: "R1", Message: "first", Severity: domain.SeverityError},
			{Rule: "R2", Message: "warn", Severity: domain.SeverityWarning},
			{Rule: "R3", Message: " second ", Severity: domain.SeverityError},
		},
		PendingCount:   1,
		ConfirmedCount: 1,
	}
}

func TestArchiveListNewestFirst(t *testing.T) {
	stores := map[string]blob.Store{"memory": blob.NewMemory(), "s3": blob.NewS3MockForTests()}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := NewArchive(store)
			for i, id := range []string{"a", "b", "c"} {
				if err := a.Save(ctx, report(id, "O/1", t0.Add(time.Duration(i)*time.Minute), domain.StatusFailed)); err != nil {
					t.Fatalf("save: %v", err)
				}
			}
			if err := a.Save(ctx, report("z", "O2", t0, domain.StatusPassed)); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := a.List(ctx, "O/1")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 3 || got[0].ID != "c" || got[2].ID != "a" {
				t.Fatalf("unexpected order %+v", got)
			}
			other, err := a.List(ctx, "O2")
			if err != nil || len(other) != 1 || other[0].ID != "z" {
				t.Fatalf("unexpected listing for O2: %+v %v", other, err)
			}
			none, err := a.List(ctx, "unknown")
			if err != nil || len(none) != 0 {
				t.Fatalf("expected empty listing, got %v %v", none, err)
			}
		})
	}
}

func TestArchiveRejectsMissingOrder(t *testing.T) {
	if err := NewArchive(blob.NewMemory()).Save(context.Background(), domain.Report{ID: "x"}); err == nil {
		t.Fatalf("expected error for report without order id")
	}
}

func TestSince(t *testing.T) {
	rs := []domain.Report{report("a", "O", t0, domain.StatusFailed), report("b", "O", t0.Add(time.Hour), domain.StatusFailed)}
	got := Since(rs, t0.Add(time.Minute))
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestCSVLogMonthlyFilesWithHeader(t *testing.T) {
	l, err := NewCSVLog(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	may := report("a", "O1", t0, domain.StatusFailed)
	june := report("b", "O1", t0.Add(2*time.Hour), domain.StatusWarning)
	for _, r := range []domain.Report{may, may, june} {
		if err := l.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rows := readCSV(t, l.PathFor(t0))
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Timestamp" {
		t.Fatalf("missing header: %v", rows[0])
	}
	if rows[1][3] != "failed" || rows[1][4] != "3" || rows[1][7] != "R1: first" || rows[1][8] != "R3: second" || rows[1][9] != "" {
		t.Fatalf("unexpected row %v", rows[1])
	}
	if got := readCSV(t, l.PathFor(june.Timestamp)); len(got) != 2 {
		t.Fatalf("expected june file with header + 1 row, got %d", len(got))
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}
