// Package viewer renders the HTML page stored next to every uploaded image.
package viewer

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.html
var templates embed.FS

var (
	pageTmpl = template.Must(template.ParseFS(templates, "templates/page.html"))
	strict   = bluemonday.StrictPolicy()
)

// Page holds the values interpolated into a viewer document
type Page struct {
	SiteName string
	Title    string
	// ImageName is referenced relatively so the document works wherever its
	// directory is served from.
	ImageName string
	ImageURL  string
	PageURL   string
	// CopyURL enables the copy button when set.
	CopyURL string
}

// Render produces the viewer document for p. Markup is stripped from the
// title and site name before the template escapes them; folder names are
// already restricted, the site name comes from configuration.
func Render(p Page) ([]byte, error) {
	p.Title = plainText(p.Title)
	p.SiteName = plainText(p.SiteName)

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("failed to execute viewer template: %w", err)
	}
	return buf.Bytes(), nil
}

func plainText(s string) string {
	return html.UnescapeString(strict.Sanitize(s))
}
