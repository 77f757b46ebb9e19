// Package codeblock extracts fenced code regions from chat message text.
package codeblock

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/thebtf/clidesk/pkg/models"
)

// DefaultLanguage is used when an opening fence carries no language tag.
const DefaultLanguage = "text"

var (
	// fenceRegex matches ```lang\n...``` regions; the tag is optional but the
	// newline after the opening fence is not.
	fenceRegex = regexp.MustCompile("(?s)```([\\w+#.-]*)[^\\S\\n]*\\n(.*?)```")

	// blankRunRegex collapses the gaps left behind by removed fences.
	blankRunRegex = regexp.MustCompile(`\n{3,}`)
)

// Extract returns one block per fenced region of text, in source order.
func Extract(text string) []models.CodeBlock {
	matches := fenceRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	blocks := make([]models.CodeBlock, 0, len(matches))
	for _, m := range matches {
		lang := strings.TrimSpace(m[1])
		if lang == "" {
			lang = DefaultLanguage
		}
		blocks = append(blocks, models.CodeBlock{
			ID:       uuid.NewString(),
			Language: lang,
			Code:     strings.TrimSpace(m[2]),
		})
	}
	return blocks
}

// StripFences removes every fenced region from text so that extracted code
// is not shown twice.
func StripFences(text string) string {
	stripped := fenceRegex.ReplaceAllString(text, "")
	stripped = blankRunRegex.ReplaceAllString(stripped, "\n\n")
	return strings.TrimSpace(stripped)
}

// Split extracts the blocks of an assistant reply and returns the prose
// without the fences.
func Split(text string) (string, []models.CodeBlock) {
	blocks := Extract(text)
	if len(blocks) == 0 {
		return text, nil
	}
	return StripFences(text), blocks
}
