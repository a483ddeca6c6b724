package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"time"
)

// ObjectStore receives archived event batches
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// Archiver copies events past the retention period to an object store,
// so Cleanup can remove them from the database afterwards.
type Archiver struct {
	searcher Searcher
	store    ObjectStore
	prefix   string
}

// NewArchiver archives events found by searcher into store under prefix
func NewArchiver(searcher Searcher, store ObjectStore, prefix string) *Archiver {
	return &Archiver{searcher: searcher, store: store, prefix: prefix}
}

// Archive writes every event older than the policy cutoff as one NDJSON object,
// oldest first. It returns the object key and the number of events archived.
// Nothing is written when no event has expired.
func (a *Archiver) Archive(ctx context.Context, policy RetentionPolicy, now time.Time) (string, int, error) {
	if policy.RetentionDays <= 0 {
		return "", 0, nil
	}
	cutoff := policy.Cutoff(now)
	// EndTime is inclusive and Cleanup removes strictly older events
	end := cutoff.Add(-time.Microsecond)

	var expired []*Event
	for offset := 0; ; offset += MaxSearchLimit {
		page, err := a.searcher.Search(ctx, SearchFilter{EndTime: &end, Limit: MaxSearchLimit, Offset: offset})
		if err != nil {
			return "", 0, fmt.Errorf("failed to read expired audit events: %w", err)
		}
		expired = append(expired, page...)
		if len(page) < MaxSearchLimit {
			break
		}
	}
	if len(expired) == 0 {
		return "", 0, nil
	}

	slices.Reverse(expired)
	data, err := Export(expired, ExportFormatNDJSON)
	if err != nil {
		return "", 0, err
	}

	key := a.key(cutoff)
	if err := a.store.PutObject(ctx, key, bytes.NewReader(data), ExportFormatNDJSON.ContentType()); err != nil {
		return "", 0, err
	}
	return key, len(expired), nil
}

// key is prefix/YYYY/MM/DD/plan-audit-<cutoff unix>.ndjson
func (a *Archiver) key(cutoff time.Time) string {
	cutoff = cutoff.UTC()
	return path.Join(a.prefix, cutoff.Format("2006/01/02"), fmt.Sprintf("plan-audit-%d.ndjson", cutoff.Unix()))
}
