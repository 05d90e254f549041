// Package pdftext extracts the text of an uploaded pitch deck, one section
// per slide.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrInvalid indicates the bytes are not a readable PDF.
var ErrInvalid = errors.New("invalid PDF file")

// ErrNoText indicates the PDF parsed but contained no extractable text,
// which usually means an image-only deck that needs OCR instead.
var ErrNoText = errors.New("no extractable text found in PDF")

// Extract returns the deck's text with a "--- Slide N ---" header before each
// non-empty page. Pages that fail to extract are skipped rather than failing
// the whole deck.
func Extract(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var sections []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("--- Slide %d ---\n%s", i, text))
	}

	combined := strings.Join(sections, "\n\n")
	if combined == "" {
		return "", ErrNoText
	}
	return combined, nil
}
