package schema

import (
	"encoding/json"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

// defaultDocument is the process-wide extraction schema used when a document has no
// custom schema. The amount columns other than "amount" feed the amount normalizer
// and are dropped from exported output.
const defaultDocument = `{
  "$defs": {
    "Transaction": {
      "description": "Universal transaction model that handles multiple bank statement layouts.",
      "properties": {
        "date": {
          "default": "",
          "description": "Date of the transaction in any format found (e.g., DD/MM/YYYY, MM-DD-YYYY, etc.).",
          "title": "Transaction Date",
          "type": "string"
        },
        "amount": {
          "anyOf": [{"type": "string"}, {"type": "null"}],
          "default": null,
          "description": "Final normalized transaction amount with sign. DO NOT extract directly - this is computed from other amount fields. Leave empty/null; the system will populate it from credit_amount, debit_amount, or raw_amount.",
          "title": "Normalized Amount"
        },
        "credit_amount": {
          "anyOf": [{"type": "string"}, {"type": "null"}],
          "default": null,
          "description": "Money coming INTO the account. Extract from columns labeled: \"Credit\", \"Cr\", \"Deposits\", \"Money In\", \"Received\", or similar. If separate columns exist for money in/out, map the incoming amount here. Leave null/empty if no separate credit column exists.",
          "title": "Credit Amount"
        },
        "debit_amount": {
          "anyOf": [{"type": "string"}, {"type": "null"}],
          "default": null,
          "description": "Money going OUT of the account. Extract from columns labeled: \"Debit\", \"Dr\", \"Withdrawals\", \"Money Out\", \"Paid\", or similar. If separate columns exist for money in/out, map the outgoing amount here. Leave null/empty if no separate debit column exists.",
          "title": "Debit Amount"
        },
        "raw_amount": {
          "anyOf": [{"type": "string"}, {"type": "null"}],
          "default": null,
          "description": "Generic transaction amount when only ONE amount column exists. Extract the value as-is including any signs, parentheses, or Dr/Cr text. Use this field ONLY when there are no separate credit/debit columns. Examples: \"100.00\", \"-50.00\", \"(75.00)\", \"200.00 Cr\", \"150.00 Dr\".",
          "title": "Raw Amount"
        },
        "type_indicator": {
          "anyOf": [{"type": "string"}, {"type": "null"}],
          "default": null,
          "description": "Transaction type indicator if shown in a SEPARATE column from the amount. Extract values like: \"Dr\", \"Cr\", \"D\", \"C\", \"Debit\", \"Credit\". Only populate if the indicator is in its own column, not embedded in the amount.",
          "title": "Type Indicator"
        },
        "balance": {
          "default": "",
          "description": "Account balance after the transaction. Extract the closing/running balance value.",
          "title": "Balance",
          "type": "string"
        },
        "remarks": {
          "default": "",
          "description": "Description, narration, or remarks for the transaction. May include payee name, reference numbers, or transaction details.",
          "title": "Remarks",
          "type": "string"
        },
        "transactionId": {
          "default": "",
          "description": "Unique identifier for the transaction such as reference number, transaction ID, or cheque number. Leave empty if not available.",
          "title": "Transaction ID",
          "type": "string"
        }
      },
      "title": "Transaction",
      "type": "object"
    }
  },
  "description": "Schema for extracting transactions from bank statements.",
  "properties": {
    "transactions": {
      "description": "List of individual transaction records from the statement tables.",
      "items": {"$ref": "#/$defs/Transaction"},
      "title": "Transactions",
      "type": "array"
    }
  },
  "required": ["transactions"],
  "title": "BankStatementFieldExtractionSchema",
  "type": "object"
}`

// Default returns a copy of the default extraction schema document.
func Default() json.RawMessage {
	return json.RawMessage(defaultDocument)
}

// DefaultFields is the fallback field set used when a stored schema document has no
// recognizable row shape.
func DefaultFields() []models.Field {
	return []models.Field{
		{Name: "date", Type: models.FieldTypeString, Description: "Date of the transaction in any format found."},
		{Name: "amount", Type: models.FieldTypeString, Description: "Signed transaction amount; negative for money out, positive for money in."},
		{Name: "balance", Type: models.FieldTypeString, Description: "Account balance after the transaction."},
		{Name: "remarks", Type: models.FieldTypeString, Description: "Description, narration, or remarks for the transaction."},
		{Name: "transactionId", Type: models.FieldTypeString, Description: "Reference number, transaction ID, or cheque number."},
	}
}
