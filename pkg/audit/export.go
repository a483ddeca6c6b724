package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ParseExportFormat maps a query value onto a format, defaulting to JSON
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch f := ExportFormat(raw); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", raw)
}

var contentTypes = map[ExportFormat]string{
	ExportFormatCSV:    "text/csv",
	ExportFormatNDJSON: "application/x-ndjson",
}

// ContentType is the MIME type served for the format.
func (f ExportFormat) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/json"
}

// Export renders events in format
func Export(events []*Event, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteExport(&buf, events, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteExport streams events to w. JSON is a single indented array, NDJSON
// one object per line, CSV one row per event after a header.
func WriteExport(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		return writeCSV(w, events)
	case ExportFormatNDJSON:
		enc := json.NewEncoder(w)
		for i, e := range events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode event %d: %w", i, err)
			}
		}
		return nil
	default:
		if events == nil {
			events = []*Event{}
		}
		out, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
}

type csvColumn struct {
	header string
	value  func(*Event) string
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

var csvColumns = []csvColumn{
	{"ID", func(e *Event) string { return strconv.FormatInt(e.ID, 10) }},
	{"Timestamp", func(e *Event) string { return e.Timestamp.UTC().Format(time.RFC3339) }},
	{"EventType", func(e *Event) string { return string(e.EventType) }},
	{"Status", func(e *Event) string { return string(e.Status) }},
	{"TenantID", func(e *Event) string { return strconv.FormatInt(e.TenantID, 10) }},
	{"RequestID", func(e *Event) string { return e.RequestID }},
	{"Actor", func(e *Event) string { return e.Actor }},
	{"FromTier", func(e *Event) string { return e.FromTier }},
	{"ToTier", func(e *Event) string { return e.ToTier }},
	{"SubscriptionID", func(e *Event) string { return optionalID(e.SubscriptionID) }},
	{"PlanConfigID", func(e *Event) string { return optionalID(e.PlanConfigID) }},
	{"Action", func(e *Event) string { return e.Action }},
	{"Message", func(e *Event) string { return e.Message }},
}

func writeCSV(w io.Writer, events []*Event) error {
	cw := csv.NewWriter(w)
	row := make([]string, len(csvColumns))

	for i, col := range csvColumns {
		row[i] = col.header
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, e := range events {
		for i, col := range csvColumns {
			row[i] = col.value(e)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", e.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
