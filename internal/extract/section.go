package extract

import (
	_ "embed"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// maxSectionChars caps the body returned after a pattern match.
	maxSectionChars = 15000
	// fallbackChars is how much of the document prefix stands in for a
	// section that could not be located.
	fallbackChars = 8000
)

//go:embed sections.yaml
var sectionsYAML []byte

var sectionPatterns = loadSectionPatterns()

func loadSectionPatterns() map[string][]*regexp.Regexp {
	var raw map[string][]string
	if err := yaml.Unmarshal(sectionsYAML, &raw); err != nil {
		panic("extract: malformed sections.yaml: " + err.Error())
	}

	compiled := make(map[string][]*regexp.Regexp, len(raw))
	for name, patterns := range raw {
		for _, p := range patterns {
			compiled[name] = append(compiled[name], regexp.MustCompile(`(?i)`+p))
		}
	}
	return compiled
}

// Section returns the body of a named section within text. The heading is
// found by the first matching pattern, and the body is the text following
// the match, capped at maxSectionChars. When no pattern matches, or the
// section name is unknown, the document prefix is returned instead. The
// boundary is heuristic; callers must tolerate truncation or misalignment.
func Section(text, name string) string {
	if text == "" {
		return ""
	}

	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	for _, re := range sectionPatterns[key] {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		body := text[loc[1]:]
		if len(body) > maxSectionChars {
			body = body[:maxSectionChars]
		}
		return body
	}

	if len(text) > fallbackChars {
		return text[:fallbackChars]
	}
	return text
}
