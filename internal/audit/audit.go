// Package audit reads the sandbox audit log. The runtime appends one
// tab-separated record per executed statement; this package parses,
// filters, and renders those records for the logs command.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Record is one audit log entry.
type Record struct {
	Time   time.Time `json:"time"`
	Agent  string    `json:"agent"`
	Worker string    `json:"worker"`
	Op     string    `json:"op"`
	Detail string    `json:"detail"`
	Status string    `json:"status"`
}

// ParseRecord parses one log line: an RFC3339 timestamp followed by
// tab-separated key=value fields.
func ParseRecord(line string) (Record, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return Record{}, fmt.Errorf("malformed audit record: %s", line)
	}
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return Record{}, fmt.Errorf("malformed audit timestamp: %s", parts[0])
	}

	rec := Record{Time: ts}
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "agent":
			rec.Agent = value
		case "worker":
			rec.Worker = value
		case "op":
			rec.Op = value
		case "detail":
			rec.Detail = value
		case "status":
			rec.Status = value
		}
	}
	return rec, nil
}

// Read returns the records in the log at path, bounded by since/until
// (zero times mean unbounded). A missing log file reads as no records;
// lines that do not parse are skipped.
func Read(path string, since, until time.Time) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var records []Record
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			continue
		}
		if !since.IsZero() && rec.Time.Before(since) {
			continue
		}
		if !until.IsZero() && rec.Time.After(until) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Follow emits existing records past since, then polls the log for
// appended ones until the context ends. Polling every 500ms avoids
// platform file-notification quirks; a shrunken file (sandbox reset)
// restarts the reader from the top.
func Follow(ctx context.Context, path string, since time.Time, fn func(Record)) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var offset int64
	emit := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		if int64(len(data)) < offset {
			offset = 0
		}
		chunk := data[offset:]
		for {
			i := bytes.IndexByte(chunk, '\n')
			if i < 0 {
				// Partial line still being written; pick it up next tick.
				return
			}
			line := strings.TrimSpace(string(chunk[:i]))
			chunk = chunk[i+1:]
			offset += int64(i + 1)
			if line == "" {
				continue
			}
			rec, err := ParseRecord(line)
			if err != nil {
				continue
			}
			if !since.IsZero() && rec.Time.Before(since) {
				continue
			}
			fn(rec)
		}
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			emit()
		}
	}
}

// FormatTable writes records as a formatted table to the provided writer.
// Returns the number of records formatted.
func FormatTable(w io.Writer, records []Record) int {
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit records found")
		return 0
	}

	fmt.Fprintf(w, "%-8s %-12s %-12s %-10s %-7s %s\n",
		"AGE", "AGENT", "WORKER", "OP", "STATUS", "DETAIL")
	for _, rec := range records {
		FormatRow(w, rec)
	}

	countMsg := "record"
	if len(records) != 1 {
		countMsg = "records"
	}
	fmt.Fprintf(w, "\n%d %s\n", len(records), countMsg)

	return len(records)
}

// FormatRow writes one table row without a header, for streaming output.
func FormatRow(w io.Writer, rec Record) {
	fmt.Fprintf(w, "%-8s %-12s %-12s %-10s %-7s %s\n",
		formatAge(rec.Time),
		rec.Agent,
		rec.Worker,
		rec.Op,
		rec.Status,
		formatDetail(rec.Detail),
	)
}

// FormatJSONL writes records as line-delimited JSON to the provided writer.
// Each record is written as a single JSON object on its own line.
func FormatJSONL(w io.Writer, records []Record) error {
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// formatDetail truncates long operands for table display. Empty details
// return "-".
func formatDetail(detail string) string {
	if detail == "" {
		return "-"
	}
	if len(detail) > 40 {
		return detail[:37] + "..."
	}
	return detail
}

// formatAge renders a timestamp as relative time like "2m ago".
func formatAge(at time.Time) string {
	if at.IsZero() {
		return "-"
	}

	diff := time.Since(at)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
