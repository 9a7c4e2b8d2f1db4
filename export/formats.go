// Package export renders merged app records in the catalog's
// download formats.
package export

import (
	"fmt"
	"strings"
)

// Format identifies an export format.
type Format string

const (
	// FormatJSON is a single JSON array of records.
	FormatJSON Format = "json"

	// FormatNDJSON is newline-delimited JSON, one record per line.
	FormatNDJSON Format = "ndjson"

	// FormatCSV is comma-separated values with a header row.
	FormatCSV Format = "csv"
)

// FormatInfo provides metadata about an export format.
type FormatInfo struct {
	// Name is the format identifier.
	Name Format

	// MIMEType is the standard MIME type.
	MIMEType string

	// Extension is the file extension (with dot).
	Extension string

	// Description describes the format.
	Description string
}

// FormatRegistry contains metadata for all supported formats.
var FormatRegistry = map[Format]FormatInfo{
	FormatJSON: {
		Name:        FormatJSON,
		MIMEType:    "application/json",
		Extension:   ".json",
		Description: "JSON array of app records",
	},
	FormatNDJSON: {
		Name:        FormatNDJSON,
		MIMEType:    "application/x-ndjson",
		Extension:   ".ndjson",
		Description: "Newline-delimited JSON, one record per line",
	},
	FormatCSV: {
		Name:        FormatCSV,
		MIMEType:    "text/csv",
		Extension:   ".csv",
		Description: "Comma-separated values with header row",
	},
}

// GetFormatInfo returns metadata for a format.
func GetFormatInfo(format Format) (FormatInfo, bool) {
	info, ok := FormatRegistry[format]
	return info, ok
}

// ParseFormat parses a format name. An empty name selects JSON.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatJSON, nil
	}
	format := Format(s)
	if _, ok := FormatRegistry[format]; !ok {
		return "", fmt.Errorf("unknown export format: %q", s)
	}
	return format, nil
}
