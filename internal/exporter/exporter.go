package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edupinhata/naval-gunbound-war/internal/store"
)

type EventLister interface {
	ListEvents(ctx context.Context, limit int) ([]store.Event, error)
}

// Export renders the ledger in format ("json" or "csv") and returns the
// bytes with their content type.
func Export(ctx context.Context, st EventLister, format string, limit int) ([]byte, string, error) {
	switch format {
	case "", "json":
		return ExportEventsJSON(ctx, st, limit)
	case "csv":
		return ExportEventsCSV(ctx, st, limit)
	default:
		return nil, "", fmt.Errorf("unknown format %q (use json|csv)", format)
	}
}

func ExportEventsJSON(ctx context.Context, st EventLister, limit int) ([]byte, string, error) {
	events, err := st.ListEvents(ctx, limit)
	if err != nil {
		return nil, "", err
	}
	if events == nil {
		events = []store.Event{}
	}
	b, err := json.MarshalIndent(struct {
		Events []store.Event `json:"events"`
	}{events}, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}

func ExportEventsCSV(ctx context.Context, st EventLister, limit int) ([]byte, string, error) {
	events, err := st.ListEvents(ctx, limit)
	if err != nil {
		return nil, "", err
	}
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"id", "ts", "kind", "token", "remote", "detail"})
	for _, e := range events {
		_ = w.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.TS.UTC().Format(time.RFC3339),
			e.Kind,
			deref(e.Token),
			deref(e.Remote),
			detailString(e.Detail),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// detailString renders counts as "k=v;k=v" with sorted keys.
func detailString(d map[string]int) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(d[k]))
	}
	return strings.Join(parts, ";")
}
