package notify

import (
	"bytes"
	"errors"
	"text/template"
)

// DefaultTemplate renders one alert event as plain text.
const DefaultTemplate = `{{.Subject}}
Event: {{.EventLabel}}
Title: {{.Title}}
Detail: {{.Description}}
Status: {{.Status}}
Raised At: {{.CreatedAt}}
Recommended Action: {{.RecommendedAction}}
{{- if .DecidedBy }}
Decided By: {{.DecidedBy}}
{{- end }}
{{- if .Reason }}
Reason: {{.Reason}}
{{- end }}`

// TemplateData is the set of fields a notification template can use.
type TemplateData struct {
	Subject           string
	AlertID           string
	StationID         string
	AlertType         string
	Severity          string
	Status            string
	Title             string
	Description       string
	RecommendedAction string
	CreatedAt         string
	DecidedBy         string
	Reason            string
	Event             string
	EventLabel        string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses tpl, or DefaultTemplate when tpl is empty.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
