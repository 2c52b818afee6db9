package format

import (
	"encoding/json"
	"regexp"
	"strings"
)

// stepMarker finds "N. " style step markers inside free-text descriptions.
var stepMarker = regexp.MustCompile(`\d+\.\s+`)

// DescriptionSteps splits a free-text test description into display steps.
// When the text contains "N. content" segments, the result is the captured
// content in document order; the digits themselves are ignored, so
// "3. foo 1. bar" yields [foo, bar], not a renumbered or reordered list.
// Without markers, the text splits on newlines with blanks dropped. A
// single-element result is rendered by callers as a paragraph rather than
// a list.
func DescriptionSteps(text string) []string {
	locs := stepMarker.FindAllStringIndex(text, -1)
	if len(locs) > 0 {
		steps := make([]string, 0, len(locs))
		for i, loc := range locs {
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			if s := strings.TrimSpace(text[loc[1]:end]); s != "" {
				steps = append(steps, s)
			}
		}
		if len(steps) > 0 {
			return steps
		}
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PrettyInput re-indents a JSON-encoded input_data value with two spaces.
// Anything that does not parse as JSON is returned unchanged, so arbitrary
// text still displays.
func PrettyInput(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return text
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return text
	}
	return string(out)
}
