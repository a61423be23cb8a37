package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrNotPDF = errors.New("file is not a PDF")

// PDFInfo describes an uploaded statement.
type PDFInfo struct {
	Pages int
	// HasText is false for image-only scans, which still parse but take longer.
	HasText bool
}

// InspectPDF validates an upload as a readable PDF and counts its pages.
func InspectPDF(data []byte) (*PDFInfo, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	info := &PDFInfo{Pages: numPages}
	for i := 1; i <= numPages && !info.HasText; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		info.HasText = strings.TrimSpace(text) != ""
	}

	return info, nil
}
