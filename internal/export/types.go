// Package export renders ideas as HTML, Markdown or PDF documents.
package export

import (
	"errors"
	"fmt"
	"strings"

	"percolator/api/internal/store"
)

// Format represents the export output format
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case "", FormatHTML:
		return FormatHTML, nil
	case "md", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Document is everything an export needs; the caller has already decided
// the viewer may see it.
type Document struct {
	Idea     store.Idea
	Author   string
	Versions []store.IdeaVersion
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrStorageDisabled      = errors.New("export storage not configured")
)
