package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/c360studio/storewatch/merge"
)

// Write renders records to w in the given format. Records are sorted
// by app ID so repeated exports of the same catalog are identical.
func Write(w io.Writer, format Format, profile Profile, records []*merge.Record) error {
	if _, ok := FormatRegistry[format]; !ok {
		return fmt.Errorf("unknown export format: %q", format)
	}

	sorted := make([]*merge.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	switch format {
	case FormatJSON:
		return writeJSON(w, profile, sorted)
	case FormatNDJSON:
		return writeNDJSON(w, profile, sorted)
	case FormatCSV:
		return writeCSV(w, profile, sorted)
	default:
		return fmt.Errorf("unknown export format: %q", format)
	}
}

// exportValue returns what JSON output carries for a record. The core
// profile strips merge provenance.
func exportValue(profile Profile, rec *merge.Record) any {
	if GetProfileConfig(profile).IncludeProvenance {
		return rec
	}
	return rec.Record
}

func writeJSON(w io.Writer, profile Profile, records []*merge.Record) error {
	values := make([]any, len(records))
	for i, rec := range records {
		values[i] = exportValue(profile, rec)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(values); err != nil {
		return fmt.Errorf("encode JSON export: %w", err)
	}
	return nil
}

func writeNDJSON(w io.Writer, profile Profile, records []*merge.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(exportValue(profile, rec)); err != nil {
			return fmt.Errorf("encode NDJSON export: %w", err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, profile Profile, records []*merge.Record) error {
	columns := GetProfileConfig(profile).Columns

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i] = columnValue(rec, col)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush CSV export: %w", err)
	}
	return nil
}
