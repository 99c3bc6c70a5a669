package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var ideaTemplate = template.Must(template.New("idea.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.UTC().Format(layout)
	},
}).ParseFS(templateFS, "templates/idea.html"))

// TemplateData holds data for idea template rendering
type TemplateData struct {
	Title           string
	DescriptionHTML template.HTML
	Rank            int
	Author          string
	Published       bool
	DateCreated     time.Time
	DateModified    time.Time
	Versions        []TemplateVersion
}

type TemplateVersion struct {
	Number          int
	Title           string
	DescriptionHTML template.HTML
	Rank            int
	CreatedAt       time.Time
}

func buildTemplateData(doc Document) (TemplateData, error) {
	description, err := RenderMarkdown(doc.Idea.Description)
	if err != nil {
		return TemplateData{}, err
	}
	data := TemplateData{
		Title:           doc.Idea.Title,
		DescriptionHTML: description,
		Rank:            doc.Idea.Rank,
		Author:          doc.Author,
		Published:       doc.Idea.Published,
		DateCreated:     doc.Idea.DateCreated,
		DateModified:    doc.Idea.DateModified,
		Versions:        make([]TemplateVersion, 0, len(doc.Versions)),
	}
	for _, v := range doc.Versions {
		rendered, err := RenderMarkdown(v.Description)
		if err != nil {
			return TemplateData{}, err
		}
		data.Versions = append(data.Versions, TemplateVersion{
			Number:          v.VersionNumber,
			Title:           v.Title,
			DescriptionHTML: rendered,
			Rank:            v.Rank,
			CreatedAt:       v.CreatedAt,
		})
	}
	return data, nil
}

// RenderIdeaHTML renders the idea template with provided data
func RenderIdeaHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := ideaTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
