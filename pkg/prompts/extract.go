package prompts

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// competitorPattern matches a label token, an optional ordinal, a ':' or a
// spaced '-' separator and a single-line name phrase. Markdown emphasis around
// the label is tolerated.
var competitorPattern = regexp.MustCompile(`(?i)\b(?:competitor|brand|company|player)(?:[ \t]*#?\d+)?(?:[ \t*_]*:|[ \t]+-)[ \t*_]*([\w&'][\w &'.\-]*)`)

// maxCompetitorName bounds a single extracted name.
const maxCompetitorName = 80

// ExtractCompetitors returns the competitor names found in research text,
// trimmed and de-duplicated case-insensitively in order of appearance. It
// never fails; text without matches yields nil.
func ExtractCompetitors(text string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range competitorPattern.FindAllStringSubmatch(text, -1) {
		name := shortenName(strings.Trim(m[1], " .-"))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

// shortenName cuts an overlong capture at its first sentence break, then at
// the last word that fits in maxCompetitorName bytes.
func shortenName(name string) string {
	if len(name) <= maxCompetitorName {
		return name
	}
	if i := strings.Index(name, ". "); i > 0 {
		name = name[:i]
	}
	if len(name) > maxCompetitorName {
		cut := maxCompetitorName
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		if sp := strings.LastIndexByte(name[:cut], ' '); sp > 0 {
			cut = sp
		}
		name = name[:cut]
	}
	return strings.Trim(name, " .-")
}
