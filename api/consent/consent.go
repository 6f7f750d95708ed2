// Package consent renders the consent step of the authorization endpoint.
package consent

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/pilab-dev/mcp-oauth/api"
)

//go:embed templates/consent.html
var templateFS embed.FS

// Template is the parsed consent page. It is exported so the gin adapter can
// install it with SetHTMLTemplate.
var Template = template.Must(template.ParseFS(templateFS, "templates/consent.html"))

// Name is the template name to pass to gin's c.HTML.
const Name = "consent.html"

// Render executes the consent template into a byte slice.
func Render(page *api.ConsentPage) ([]byte, error) {
	var buf bytes.Buffer
	if err := Template.ExecuteTemplate(&buf, Name, page); err != nil {
		return nil, fmt.Errorf("failed to render consent page: %w", err)
	}

	return buf.Bytes(), nil
}
