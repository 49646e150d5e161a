package keys

import (
	"fmt"
	"regexp"
)

// token is one element of a tokenized template: either literal text or a
// placeholder naming an attribute.
type token struct {
	literal bool
	value   string
}

// placeholderRegex matches :name placeholders.
var placeholderRegex = regexp.MustCompile(`:([A-Za-z0-9_]+)`)

// tokenize splits a template such as "location#:building#unit_:unit" into
// literal and placeholder tokens.
//
// A template must contain at least one placeholder, may not repeat a
// placeholder and may not put two placeholders next to each other, since the
// boundary between their values could not be recovered when parsing.
func tokenize(template string) ([]token, error) {
	matches := placeholderRegex.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("template %q has no :name placeholders", template)
	}

	var tokens []token
	seen := make(map[string]bool, len(matches))
	lastEnd := 0
	for i, match := range matches {
		start, end := match[0], match[1]
		name := template[match[2]:match[3]]

		if start > lastEnd {
			tokens = append(tokens, token{literal: true, value: template[lastEnd:start]})
		} else if i > 0 {
			return nil, fmt.Errorf("template %q has adjacent placeholders at position %d", template, start)
		}
		if seen[name] {
			return nil, fmt.Errorf("template %q uses placeholder %q more than once", template, name)
		}
		seen[name] = true
		tokens = append(tokens, token{value: name})
		lastEnd = end
	}
	if lastEnd < len(template) {
		tokens = append(tokens, token{literal: true, value: template[lastEnd:]})
	}
	return tokens, nil
}

// placeholders returns the placeholder names in order.
func placeholders(tokens []token) []string {
	var names []string
	for _, t := range tokens {
		if !t.literal {
			names = append(names, t.value)
		}
	}
	return names
}
