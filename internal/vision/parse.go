package vision

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var numberingPattern = regexp.MustCompile(`^\(?\d+[.)]\s*`)

const (
	bulletChars = "-•*·–"
	quoteChars  = "\"'`“”‘’«»"
)

// ParseObjects turns the model's free-text answer into an ordered list of
// distinct, capitalized object names.
func ParseObjects(text string) []string {
	return ParseObjectsLocale(text, language.Und)
}

// ParseObjectsLocale is ParseObjects with locale-aware capitalization.
func ParseObjectsLocale(text string, tag language.Tag) []string {
	body := stripCodeFence(text)
	if body == "" {
		return nil
	}

	var items []string
	if strings.HasPrefix(body, "[") {
		var parsed []string
		if err := json.Unmarshal([]byte(body), &parsed); err == nil {
			items = parsed
		}
	}
	if items == nil {
		items = strings.FieldsFunc(body, func(r rune) bool {
			return r == '\n' || r == '\r' || r == ','
		})
	}

	upper := cases.Upper(tag)
	lower := cases.Lower(tag)
	fold := cases.Fold()

	seen := make(map[string]struct{}, len(items))
	objects := make([]string, 0, len(items))
	for _, item := range items {
		name := cleanItem(item)
		if name == "" {
			continue
		}
		name = capitalize(name, upper, lower)
		key := norm.NFC.String(fold.String(name))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		objects = append(objects, name)
	}
	return objects
}

func cleanItem(item string) string {
	name := strings.TrimSpace(norm.NFC.String(item))
	// Header lines such as "Visible objects:" introduce the list.
	if strings.HasSuffix(name, ":") {
		return ""
	}
	for {
		before := name
		name = strings.TrimLeft(name, bulletChars)
		name = strings.TrimSpace(name)
		name = numberingPattern.ReplaceAllString(name, "")
		name = strings.Trim(name, quoteChars+"*_ \t")
		name = strings.TrimRight(name, ".;")
		name = strings.TrimSpace(name)
		if name == before {
			break
		}
	}
	return strings.Join(strings.Fields(name), " ")
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(name string, upper, lower cases.Caser) string {
	first, size := utf8.DecodeRuneInString(name)
	if first == utf8.RuneError {
		return name
	}
	return upper.String(string(first)) + lower.String(name[size:])
}

var fenceHints = map[string]struct{}{
	"": {}, "json": {}, "text": {}, "txt": {}, "plaintext": {}, "markdown": {}, "md": {},
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	if newline := strings.IndexByte(body, '\n'); newline >= 0 {
		hint := strings.ToLower(strings.TrimSpace(body[:newline]))
		if _, ok := fenceHints[hint]; ok {
			body = body[newline+1:]
		}
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
