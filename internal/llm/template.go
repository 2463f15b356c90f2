package llm

import (
	"fmt"
	"strings"
)

// RenderPrompt substitutes {{key}} placeholders in the template with the
// input values. Unknown placeholders are left in place so a missing input
// is visible in the rendered prompt rather than silently blank.
func RenderPrompt(template string, input map[string]any) string {
	if len(input) == 0 {
		return template
	}
	pairs := make([]string, 0, len(input)*2)
	for key, value := range input {
		pairs = append(pairs, "{{"+key+"}}", stringify(value))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
