package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"

	"colladoc/api/internal/htmltext"
	"colladoc/api/internal/store"
)

// DataStore is the slice of the store an export needs.
type DataStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	GetUserPublicProfile(ctx context.Context, userID string) (store.Profile, error)
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)
}

type renderFunc func(ctx context.Context, html string) ([]byte, error)

// Service provides document export functionality
type Service struct {
	store DataStore
	log   *zap.Logger
	pdf   renderFunc
	docx  renderFunc
}

// NewService creates an export service. pandocPath names the pandoc binary
// used for DOCX output.
func NewService(store DataStore, pandocPath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pandocPath == "" {
		pandocPath = "pandoc"
	}
	return &Service{
		store: store,
		log:   logger.Named("export"),
		pdf:   renderPDF,
		docx:  pandocRenderer(pandocPath),
	}
}

// Export generates an export in the requested format. Callers check read
// access before calling.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	if req.Format == FormatText {
		return &Result{
			Data:     []byte(plainTextExport(doc)),
			Filename: sanitizeFilename(doc.Title) + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	}

	data := TemplateData{
		Title:       doc.Title,
		UpdatedAt:   doc.UpdatedAt,
		Version:     doc.Version,
		ContentHTML: template.HTML(htmltext.Sanitize(doc.Content)),
	}
	if owner, err := s.store.GetUserPublicProfile(ctx, doc.OwnerID); err == nil {
		data.OwnerName = owner.Name
	} else {
		s.log.Debug("owner profile unavailable", zap.String("documentId", doc.ID), zap.Error(err))
	}

	if req.IncludeComments {
		comments, err := s.store.ListComments(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		for _, c := range comments {
			data.Comments = append(data.Comments, TemplateComment{
				Author:    c.UserName,
				Content:   c.Content,
				Resolved:  c.Resolved,
				CreatedAt: c.CreatedAt,
			})
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		out, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     out,
			Filename: sanitizeFilename(doc.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	case FormatDOCX:
		out, err := s.docx(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     out,
			Filename: sanitizeFilename(doc.Title) + ".docx",
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func plainTextExport(doc store.Document) string {
	var b strings.Builder
	b.WriteString(doc.Title)
	b.WriteString("\n\n")
	b.WriteString(htmltext.PlainText(doc.Content))
	b.WriteString("\n")
	return b.String()
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "document"
	}
	return result
}
