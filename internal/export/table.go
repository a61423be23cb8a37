// Package export renders extracted rows as CSV and XLSX tables.
package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BerylCAtieno/statement-extraction-api/internal/amount"
	"github.com/BerylCAtieno/statement-extraction-api/internal/schema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultColumns is the column order used for the default schema and for
// custom schemas with no usable fields.
var DefaultColumns = []string{"date", "transactionId", "remarks", "amount", "balance"}

var headerNames = map[string]string{
	"date":          "Date",
	"transactionId": "Transaction ID",
	"remarks":       "Description",
	"amount":        "Amount",
	"balance":       "Balance",
}

type Table struct {
	Columns []string
	Headers []string
	Rows    [][]string
}

// Columns returns the exported columns for a custom schema document. Amount
// normalization inputs are dropped. A nil document means the default schema.
func Columns(doc json.RawMessage) []string {
	if doc == nil {
		return DefaultColumns
	}

	internal := make(map[string]bool, len(amount.InternalKeys))
	for _, k := range amount.InternalKeys {
		internal[k] = true
	}

	var cols []string
	for _, name := range schema.FieldNames(doc) {
		if !internal[name] {
			cols = append(cols, name)
		}
	}
	if len(cols) == 0 {
		return DefaultColumns
	}
	return cols
}

// Header returns the display name of a column.
func Header(column string) string {
	if h, ok := headerNames[column]; ok {
		return h
	}
	// Casers carry state; one per call.
	return cases.Title(language.English).String(strings.ReplaceAll(column, "_", " "))
}

func BuildTable(rows []map[string]any, columns []string) *Table {
	t := &Table{
		Columns: columns,
		Headers: make([]string, len(columns)),
		Rows:    make([][]string, 0, len(rows)),
	}
	for i, c := range columns {
		t.Headers[i] = Header(c)
	}
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = Cell(row[c])
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// Cell renders one extracted value. Objects returned in place of text are
// flattened to their text-like member.
func Cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case map[string]any:
		if _, ok := t["refs"]; ok && len(t) == 1 {
			return ""
		}
		for _, k := range []string{"value", "text", "content", "description"} {
			if inner, ok := t[k]; ok {
				return Cell(inner)
			}
		}
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
