package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/councilworks/objector/internal/document"
	"github.com/yuin/goldmark"
)

// documentHTML renders the document for the primary engine. Grounds bodies
// are markdown and go through goldmark; everything else is escaped by the
// template.
func documentHTML(doc document.Document) (string, error) {
	type groundView struct {
		Number  int
		Heading string
		Body    template.HTML
	}
	type view struct {
		Title   string
		Fixed   []document.Section
		Grounds []groundView
	}

	v := view{Title: doc.Title(), Fixed: doc.Fixed}
	for _, g := range doc.OrderedGrounds() {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(g.Body), &buf); err != nil {
			return "", fmt.Errorf("markdown convert: %w", err)
		}
		v.Grounds = append(v.Grounds, groundView{Number: g.Number, Heading: g.Heading, Body: template.HTML(buf.String())})
	}

	var out strings.Builder
	if err := pageTemplate.Execute(&out, v); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return out.String(), nil
}

var pageTemplate = template.Must(template.New("submission").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: Georgia, "Times New Roman", serif; font-size: 12pt; line-height: 1.45; margin: 0; color: #111; }
  h1 { font-size: 17pt; margin: 0 0 14pt; }
  h2 { font-size: 14pt; margin: 16pt 0 6pt; }
  h3 { font-size: 12pt; margin: 12pt 0 4pt; }
  .label { font-weight: bold; margin-top: 10pt; }
  .value { margin-left: 14pt; }
  .declaration { margin-top: 20pt; font-style: italic; }
  p { margin: 0 0 8pt; }
  ul, ol { margin: 0 0 8pt 18pt; }
</style>
</head>
<body>
{{- range .Fixed}}
{{- if eq .Type "header"}}
<h1>{{.Content}}</h1>
{{- else if eq .Type "label"}}
<div class="label">{{.Content}}</div>
{{- else if eq .Type "value"}}
{{- if .Content}}<div class="value">{{.Content}}</div>{{end}}
{{- else if eq .Type "declaration"}}
{{- range $.Grounds}}
<h2>{{.Number}}. {{.Heading}}</h2>
{{.Body}}
{{- end}}
<p class="declaration">{{.Content}}</p>
{{- end}}
{{- end}}
</body>
</html>
`))
