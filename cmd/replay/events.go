package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Record is one replayed event plus its ground truth, if the file has one.
type Record struct {
	Line  int
	Event domain.Event

	// Suspicious is the "label" column: 1 marks a known bad event.
	Suspicious bool
	Labelled   bool
}

// requiredColumns must appear in every replay file header.
var requiredColumns = []string{"category", "subject", "occurred_at"}

// ReadRecords parses a replay CSV. Columns are matched by header name, case
// insensitively; login rows use ip_address, device_fingerprint, os, browser,
// city and country, access rows use reader_id, location_id and direction.
// Rows that fail to parse are skipped and counted.
func ReadRecords(r io.Reader, limit int) ([]Record, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", col)
		}
	}

	var records []Record
	skipped := 0
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			skipped++
			continue
		}

		get := func(col string) string {
			if i, ok := colIndex[col]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		rec, err := parseRow(get)
		if err != nil {
			skipped++
			continue
		}
		rec.Line = line
		records = append(records, rec)

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	// Replaying out of time order would teach profiles the wrong history.
	slices.SortStableFunc(records, func(a, b Record) int {
		return a.Event.OccurredAt.Compare(b.Event.OccurredAt)
	})
	return records, skipped, nil
}

func parseRow(get func(string) string) (Record, error) {
	at, err := time.Parse(time.RFC3339, get("occurred_at"))
	if err != nil {
		return Record{}, err
	}

	rec := Record{Event: domain.Event{
		Category:   domain.Category(get("category")),
		SubjectID:  get("subject"),
		OccurredAt: at.UTC(),
	}}
	switch get("label") {
	case "1", "true":
		rec.Suspicious, rec.Labelled = true, true
	case "0", "false":
		rec.Labelled = true
	}

	switch rec.Event.Category {
	case domain.CategoryLogin:
		rec.Event.Login = &domain.LoginContext{
			IPAddress:         get("ip_address"),
			DeviceFingerprint: get("device_fingerprint"),
			OS:                get("os"),
			Browser:           get("browser"),
			City:              get("city"),
			Country:           get("country"),
		}
	case domain.CategoryAccessScan:
		rec.Event.Access = &domain.AccessContext{
			CredentialID: rec.Event.SubjectID,
			ReaderID:     get("reader_id"),
			LocationID:   get("location_id"),
			Direction:    domain.AccessDirection(get("direction")),
			HolderID:     get("holder_id"),
		}
	default:
		return Record{}, fmt.Errorf("%w: %q", domain.ErrUnknownEventCategory, rec.Event.Category)
	}

	if err := rec.Event.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Percentile returns the p-th percentile (0-100) of sorted using the
// nearest rank method. sorted must be ascending.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
