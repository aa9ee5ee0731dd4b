package market

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Row is one record of a tabular upstream block.
type Row map[string]any

// Float returns the first parseable numeric value among keys, nil otherwise.
func (r Row) Float(keys ...string) *float64 { return rowFloat(r, keys...) }

// String returns the first non-empty string value among keys.
func (r Row) String(keys ...string) string { return rowString(r, keys...) }

// normalizeTables flattens an ISS-style payload into named tables of rows.
// The feed serves two shapes: a {columns, data} block, or a plain list of
// objects. Both normalize to []Row; anything else becomes an empty table.
func normalizeTables(payload any) map[string][]Row {
	tables := map[string][]Row{}
	switch p := payload.(type) {
	case []any:
		for _, block := range p {
			if m, ok := block.(map[string]any); ok {
				for name, value := range m {
					tables[name] = normalizeTable(value)
				}
			}
		}
	case map[string]any:
		for name, value := range p {
			tables[name] = normalizeTable(value)
		}
	}
	return tables
}

func normalizeTable(value any) []Row {
	switch v := value.(type) {
	case []any:
		rows := make([]Row, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, Row(m))
			}
		}
		return rows
	case map[string]any:
		columns, okC := v["columns"].([]any)
		data, okD := v["data"].([]any)
		if !okC || !okD {
			return nil
		}
		rows := make([]Row, 0, len(data))
		for _, rawRow := range data {
			cells, ok := rawRow.([]any)
			if !ok {
				continue
			}
			row := Row{}
			for i, col := range columns {
				name, ok := col.(string)
				if !ok || i >= len(cells) {
					continue
				}
				row[name] = cells[i]
			}
			rows = append(rows, row)
		}
		return rows
	}
	return nil
}

// findRow returns the first row whose key matches value case-insensitively.
func findRow(rows []Row, key, value string) Row {
	target := strings.ToUpper(value)
	for _, row := range rows {
		if strings.ToUpper(rowString(row, key)) == target {
			return row
		}
	}
	return nil
}

// rowFloat returns the first parseable numeric value among keys.
// Accepts json.Number, float64 and strings with a comma decimal separator.
func rowFloat(row Row, keys ...string) *float64 {
	for _, key := range keys {
		if f, ok := toFloat(row[key]); ok {
			return floatPtr(f)
		}
	}
	return nil
}

// rowPrice is rowFloat that also rejects zero; ISS reports 0 for "no trade".
func rowPrice(row Row, keys ...string) *float64 {
	for _, key := range keys {
		if f, ok := toFloat(row[key]); ok && f != 0 {
			return floatPtr(f)
		}
	}
	return nil
}

func rowString(row Row, keys ...string) string {
	for _, key := range keys {
		switch v := row[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func rowInt(row Row, keys ...string) int {
	for _, key := range keys {
		if f, ok := toFloat(row[key]); ok && f > 0 {
			return int(f)
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if s == "" || s == "-" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

var timestampFormats = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// rowTimestamp extracts a timestamp from the usual ISS field names and
// formats. Returns the zero time when nothing parses.
func rowTimestamp(row Row, keys ...string) time.Time {
	for _, key := range keys {
		switch v := row[key].(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil && f > 0 {
				return time.Unix(int64(f), 0).UTC()
			}
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			for _, layout := range timestampFormats {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts.UTC()
				}
			}
		}
	}
	return time.Time{}
}
