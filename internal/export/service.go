package export

import (
	"context"
	"fmt"
	"time"
)

// Service renders idea exports and optionally stores them.
type Service struct {
	chromePath string
	objects    ObjectStore
	renderPDF  func(ctx context.Context, chromePath, html string) ([]byte, error)
	now        func() time.Time
}

// NewService creates an export service. objects may be nil when no object
// storage is configured.
func NewService(chromePath string, objects ObjectStore) *Service {
	return &Service{
		chromePath: chromePath,
		objects:    objects,
		renderPDF:  renderPDF,
		now:        time.Now,
	}
}

// PDFAvailable reports whether a Chrome binary can be found.
func (s *Service) PDFAvailable() bool {
	_, err := findChrome(s.chromePath)
	return err == nil
}

func (s *Service) StorageEnabled() bool {
	return s.objects != nil
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	base := sanitizeFilename(doc.Idea.Title)

	switch format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(BuildMarkdown(doc)),
			Filename: base + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML, FormatPDF:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	data, err := buildTemplateData(doc)
	if err != nil {
		return nil, err
	}
	html, err := RenderIdeaHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	if format == FormatHTML {
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}

	chromePath, err := findChrome(s.chromePath)
	if err != nil {
		return nil, err
	}
	pdf, err := s.renderPDF(ctx, chromePath, html)
	if err != nil {
		return nil, err
	}
	return &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
}

// Store uploads a rendered export and returns a time-limited download URL.
func (s *Service) Store(ctx context.Context, ideaID int64, res *Result) (string, error) {
	if s.objects == nil {
		return "", ErrStorageDisabled
	}
	key := fmt.Sprintf("ideas/%d/%s-%s", ideaID, s.now().UTC().Format("20060102T150405Z"), res.Filename)
	return s.objects.Put(ctx, key, res.MimeType, res.Filename, res.Data)
}
