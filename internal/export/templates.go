package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(template.New("document.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/document.html"))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	OwnerName   string
	UpdatedAt   time.Time
	Version     int
	ContentHTML template.HTML
	Comments    []TemplateComment
}

type TemplateComment struct {
	Author    string
	Content   string
	Resolved  bool
	CreatedAt time.Time
}

// RenderDocumentHTML renders the document template with provided data.
// ContentHTML must already be sanitized.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
