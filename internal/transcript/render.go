package transcript

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/yuin/goldmark"
)

// Markdown renders messages as a markdown document: one heading, then each
// message as a speaker line followed by a quoted body. System messages become
// a single italic note.
func Markdown(title string, msgs []domain.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", escapeInline(title))
	for _, m := range msgs {
		at := m.Timestamp.UTC().Format("15:04")
		switch m.Type {
		case domain.MessageSystem:
			fmt.Fprintf(&b, "*%s · choice offered*\n\n", at)
			continue
		case domain.MessageUser:
			fmt.Fprintf(&b, "**You** · %s\n\n", at)
		default:
			fmt.Fprintf(&b, "**Guide** · %s\n\n", at)
		}
		body := directive.Strip(m.Content)
		for _, line := range strings.Split(body, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderHTML converts the markdown transcript to an HTML fragment. Raw HTML in
// message bodies is not passed through.
func RenderHTML(title string, msgs []domain.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(title, msgs)), &buf); err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}
	return buf.Bytes(), nil
}

func escapeInline(s string) string {
	r := strings.NewReplacer("*", `\*`, "_", `\_`, "#", `\#`, "`", "\\`")
	return r.Replace(s)
}
