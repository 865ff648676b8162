package enrich

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/shpitdev/leadsync/internal/fingerprint"
)

var analysisTmpl = template.Must(template.New("analysis").Parse(strings.TrimSpace(`
You are reviewing the website of a local business before reaching out to its owner.

Business: {{.Name}}
Website: {{.URL}}
{{- if .Title}}
Page title: {{.Title}}
{{- end}}

Complete two tasks:
1. Extract the key facts: what the business offers, contact details, and any social media links on the page.
2. Identify the three most serious problems with the website and explain each in one or two sentences.

Page content:
{{.Text}}
`)))

var followupTmpl = template.Must(template.New("followup").Parse(strings.TrimSpace(`
Using the website analysis below, write a detailed brief for an AI website builder that would produce an improved site for {{.Name}}.
The brief must fix every problem listed in the analysis and keep the facts about the business unchanged.

Analysis:
{{.Analysis}}
`)))

type analysisInput struct {
	Name  string
	URL   string
	Title string
	Text  string
}

type followupInput struct {
	Name     string
	Analysis string
}

// AnalysisPrompt renders the first prompt of the chain. Page text longer than
// maxChars is cut on a rune boundary.
func AnalysisPrompt(name string, doc Document, maxChars int) (string, error) {
	var buf bytes.Buffer
	err := analysisTmpl.Execute(&buf, analysisInput{
		Name:  strings.TrimSpace(name),
		URL:   strings.TrimSpace(doc.URL),
		Title: strings.TrimSpace(doc.Title),
		Text:  truncateRunes(strings.TrimSpace(doc.Text), maxChars),
	})
	if err != nil {
		return "", fmt.Errorf("render analysis prompt: %w", err)
	}
	return buf.String(), nil
}

// FollowupPrompt renders the second prompt of the chain from the analysis text.
func FollowupPrompt(name, analysis string) (string, error) {
	var buf bytes.Buffer
	err := followupTmpl.Execute(&buf, followupInput{
		Name:     strings.TrimSpace(name),
		Analysis: strings.TrimSpace(analysis),
	})
	if err != nil {
		return "", fmt.Errorf("render followup prompt: %w", err)
	}
	return buf.String(), nil
}

// Slug turns a business name into a URL path segment ("Cafe X!" -> "cafe-x").
func Slug(name string) string {
	return strings.ReplaceAll(fingerprint.NormalizeText(name), " ", "-")
}

// PreviewURL fills the {slug} placeholder of tmpl. An empty template yields "".
func PreviewURL(tmpl, name string) string {
	tmpl = strings.TrimSpace(tmpl)
	if tmpl == "" {
		return ""
	}
	return strings.ReplaceAll(tmpl, "{slug}", Slug(name))
}

func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
