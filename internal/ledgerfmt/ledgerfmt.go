// Package ledgerfmt serializes accounting exports for the target ERP.
package ledgerfmt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedFormat is returned for formats without a serializer.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Formatter writes a journal in one format.
type Formatter interface {
	ContentType() string
	Extension() string
	Write(w io.Writer, e *models.ERPExport) error
}

var formatters = map[models.ExportFormat]Formatter{
	models.FormatCSV:  csvFormatter{},
	models.FormatJSON: jsonFormatter{},
	models.FormatXML:  xmlFormatter{},
	models.FormatFEC:  fecFormatter{},
}

// For returns the formatter of f.
func For(f models.ExportFormat) (Formatter, error) {
	fm, ok := formatters[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return fm, nil
}

// Supported reports whether f can be rendered.
func Supported(f models.ExportFormat) bool {
	_, ok := formatters[f]
	return ok
}

// Render serializes e in its own format and returns the body, content type
// and a download file name.
func Render(e *models.ERPExport) ([]byte, string, string, error) {
	fm, err := For(e.Format)
	if err != nil {
		return nil, "", "", err
	}
	var buf bytes.Buffer
	if err := fm.Write(&buf, e); err != nil {
		return nil, "", "", fmt.Errorf("render %s: %w", e.Reference, err)
	}
	name := strings.ToLower(e.Reference) + "." + fm.Extension()
	return buf.Bytes(), fm.ContentType(), name, nil
}

func amount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
