// Package history keeps a record of past validation reports: one JSON object
// per report in blob storage, plus a monthly CSV log for spreadsheets.
package history

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"ordergate/internal/blob"
	"ordergate/pkg/domain"
)

const reportsPrefix = "reports/"

// Archive stores reports under reports/<order_id>/<unix-nanos>-<report_id>.json.
type Archive struct {
	store blob.Store
}

// NewArchive returns an archive over store.
func NewArchive(store blob.Store) *Archive {
	return &Archive{store: store}
}

func orderPrefix(orderID string) string {
	return reportsPrefix + url.PathEscape(orderID) + "/"
}

// Key returns the object key for a report.
func Key(r domain.Report) string {
	return fmt.Sprintf("%s%d-%s.json", orderPrefix(r.OrderID), r.Timestamp.UnixNano(), r.ID)
}

// Save writes the report. Reports without an order id are rejected.
func (a *Archive) Save(ctx context.Context, r domain.Report) error {
	if r.OrderID == "" {
		return errors.New("history: report has no order id")
	}
	meta := map[string]string{"status": string(r.Status), "order-number": r.OrderNumber}
	if _, err := blob.PutJSON(ctx, a.store, Key(r), r, meta); err != nil {
		return fmt.Errorf("archive report %s: %w", r.ID, err)
	}
	return nil
}

// List returns the archived reports for an order, newest first. Objects that
// vanish between listing and reading are skipped.
func (a *Archive) List(ctx context.Context, orderID string) ([]domain.Report, error) {
	infos, err := a.store.List(ctx, orderPrefix(orderID))
	if err != nil {
		return nil, fmt.Errorf("list reports for %s: %w", orderID, err)
	}
	type keyed struct {
		nanos int64
		key   string
	}
	keys := make([]keyed, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, keyed{nanos: stampOf(info.Key), key: info.Key})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].nanos != keys[j].nanos {
			return keys[i].nanos > keys[j].nanos
		}
		return keys[i].key > keys[j].key
	})
	out := make([]domain.Report, 0, len(keys))
	for _, k := range keys {
		var r domain.Report
		if _, err := blob.GetJSON(ctx, a.store, k.key, &r); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// stampOf extracts the unix-nanos prefix of a report key.
func stampOf(key string) int64 {
	base := path.Base(key)
	stamp, _, ok := strings.Cut(base, "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Since filters reports to those at or after t.
func Since(reports []domain.Report, t time.Time) []domain.Report {
	out := reports[:0:0]
	for _, r := range reports {
		if !r.Timestamp.Before(t) {
			out = append(out, r)
		}
	}
	return out
}
