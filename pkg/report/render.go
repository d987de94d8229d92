package report

import (
	"fmt"
	"io"
)

// Output formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatText     = "text"
)

// Render writes rep to w in the given format. maxChars only applies to
// markdown.
func Render(w io.Writer, rep *Report, format string, maxChars int) error {
	switch format {
	case FormatHTML, "":
		return RenderHTML(w, rep)
	case FormatMarkdown:
		if _, err := io.WriteString(w, RenderMarkdown(rep, maxChars)); err != nil {
			return fmt.Errorf("writing markdown: %w", err)
		}

		return nil
	case FormatJSON:
		return RenderJSON(w, rep)
	case FormatText:
		return RenderText(w, rep)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}
