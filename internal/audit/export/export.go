// Package export renders audit records as CSV for compliance downloads.
// Field escaping follows RFC 4180 via encoding/csv, so parsing the output
// with any standard CSV reader recovers the original values exactly.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"chainlog/internal/audit/canonical"
	"chainlog/internal/audit/models"
)

// Header names every exported column, in record field order.
var Header = []string{
	"sequence",
	"id",
	"timestamp",
	"eventType",
	"severity",
	"status",
	"userId",
	"resource",
	"action",
	"details",
	"ipAddress",
	"userAgent",
	"correlationId",
	"source",
	"metadata",
	"hash",
	"previousHash",
}

// Render writes the header plus one row per record. An empty record set
// still yields the header row. Structured details and metadata are
// flattened to their canonical encoding in a single cell.
func Render(records []*models.Record) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Header); err != nil {
		return "", fmt.Errorf("write export header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(row(r)); err != nil {
			return "", fmt.Errorf("write export row %d: %w", r.Sequence, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush export: %w", err)
	}
	return buf.String(), nil
}

func row(r *models.Record) []string {
	metadata := ""
	if r.Metadata != nil {
		metadata = canonical.EncodeMap(r.Metadata)
	}
	return []string{
		strconv.FormatUint(r.Sequence, 10),
		r.ID.String(),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		string(r.EventType),
		string(r.Severity),
		string(r.Status),
		r.UserID,
		r.Resource,
		r.Action,
		canonical.EncodeMap(r.Details),
		r.IPAddress,
		r.UserAgent,
		r.CorrelationID,
		r.Source,
		metadata,
		r.Hash,
		r.PrevHash,
	}
}
