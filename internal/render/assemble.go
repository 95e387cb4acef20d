package render

import (
	"bytes"
	"errors"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	apperrors "github.com/ticketpress/ticketpress/internal/errors"
)

// Assemble merges single-page PDFs into one document, preserving the order
// of the input slice. Callers pass pages in layout order, so the final
// document's page order never depends on render completion order.
func Assemble(pages [][]byte) ([]byte, error) {
	if len(pages) == 0 {
		return nil, apperrors.RenderIO(errors.New("no pages"), "assemble pdf")
	}

	readers := make([]io.ReadSeeker, 0, len(pages))
	for _, page := range pages {
		if len(page) == 0 {
			return nil, apperrors.RenderIO(errors.New("empty page artifact"), "assemble pdf")
		}
		readers = append(readers, bytes.NewReader(page))
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, nil); err != nil {
		return nil, apperrors.RenderIO(err, "merge pdf pages")
	}
	return out.Bytes(), nil
}
