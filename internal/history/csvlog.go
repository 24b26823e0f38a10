package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"ordergate/pkg/domain"
)

var csvHeader = []string{
	"Timestamp", "Order ID", "Order Number", "Status", "Issue Count",
	"Pending", "Confirmed", "Error 1", "Error 2", "Error 3",
}

// CSVLog appends one row per report to <dir>/validation_log_YYYYMM.csv.
type CSVLog struct {
	mu  sync.Mutex
	dir string
}

// NewCSVLog returns a log writing under dir, creating it if needed.
func NewCSVLog(dir string) (*CSVLog, error) {
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv log dir: %w", err)
	}
	return &CSVLog{dir: dir}, nil
}

// PathFor returns the log file for the month containing t.
func (l *CSVLog) PathFor(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("validation_log_%s.csv", t.UTC().Format("200601")))
}

// Append writes the report's row, adding the header to a new file.
func (l *CSVLog) Append(r domain.Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.PathFor(r.Timestamp)
	_, err := os.Stat(p)
	fresh := errors.Is(err, fs.ErrNotExist)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv log: %w", err)
	}
	w := csv.NewWriter(f)
	if fresh {
		_ = w.Write(csvHeader)
	}
	_ = w.Write(row(r))
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write csv log: %w", err)
	}
	return f.Close()
}

func row(r domain.Report) []string {
	summaries := make([]string, 0, 3)
	for _, is := range r.Issues {
		if is.Severity != domain.SeverityError {
			continue
		}
		if len(summaries) == 3 {
			break
		}
		summaries = append(summaries, is.Rule+": "+strings.TrimSpace(is.Message))
	}
	for len(summaries) < 3 {
		summaries = append(summaries, "")
	}
	return append([]string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.OrderID,
		r.OrderNumber,
		string(r.Status),
		strconv.Itoa(len(r.Issues)),
		strconv.Itoa(r.PendingCount),
		strconv.Itoa(r.ConfirmedCount),
	}, summaries...)
}
