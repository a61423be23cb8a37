package storage

import (
	"fmt"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

// Object key layout. Every derived artifact is 1:1 with its source document.

func UploadKey(k models.DocumentKey) string {
	return fmt.Sprintf("uploads/%s/%s", k.Folder, k.Filename)
}

func ParsedKey(k models.DocumentKey) string {
	return fmt.Sprintf("parsed/%s/%s.json", k.Folder, k.Filename)
}

func SchemaKey(k models.DocumentKey) string {
	return fmt.Sprintf("schemas/%s/%s.json", k.Folder, k.Filename)
}

func CSVKey(k models.DocumentKey) string {
	return fmt.Sprintf("processed/%s/%s.csv", k.Folder, k.Filename)
}

func XLSXKey(k models.DocumentKey) string {
	return fmt.Sprintf("processed/%s/%s.xlsx", k.Folder, k.Filename)
}

// DerivedKeys lists the keys removed together with a document's upload.
func DerivedKeys(k models.DocumentKey) []string {
	return []string{ParsedKey(k), SchemaKey(k), CSVKey(k), XLSXKey(k)}
}
