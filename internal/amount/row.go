package amount

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Row keys read by NormalizeRow.
const (
	KeyAmount        = "amount"
	KeyCreditAmount  = "credit_amount"
	KeyDebitAmount   = "debit_amount"
	KeyRawAmount     = "raw_amount"
	KeyTypeIndicator = "type_indicator"
)

// InternalKeys are the row keys that only feed normalization and are not exported.
var InternalKeys = []string{KeyCreditAmount, KeyDebitAmount, KeyRawAmount, KeyTypeIndicator}

// NormalizeRow returns a copy of an extracted row with "amount" in canonical form.
// A populated amount is re-normalized as a signed raw value. On error the amount
// is left empty; it is never defaulted to zero.
func (n *Normalizer) NormalizeRow(row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row)+1)
	for k, v := range row {
		out[k] = v
	}

	in := Input{
		Raw:       cell(row[KeyRawAmount]),
		Indicator: cell(row[KeyTypeIndicator]),
		Credit:    cell(row[KeyCreditAmount]),
		Debit:     cell(row[KeyDebitAmount]),
	}
	if existing := cell(row[KeyAmount]); existing != "" {
		if mag, err := magnitude(existing); err == nil && !mag.IsZero() {
			in = Input{Raw: existing}
		}
	}

	amt, err := n.Normalize(in)
	if err != nil {
		out[KeyAmount] = ""
		return out, err
	}
	out[KeyAmount] = amt
	return out, nil
}

func NormalizeRow(row map[string]any) (map[string]any, error) {
	return defaultNormalizer.NormalizeRow(row)
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return fmt.Sprintf("%.2f", t)
	default:
		return fmt.Sprint(t)
	}
}
