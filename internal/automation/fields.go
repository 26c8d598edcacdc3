package automation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"whatsapp-crm/internal/models"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	urlPattern   = regexp.MustCompile(`(?i)https?://\S+`)

	placeholders = []struct {
		re    *regexp.Regexp
		value func(e *models.Enquiry) string
	}{
		{regexp.MustCompile(`(?i)\{\{name\}\}`), func(e *models.Enquiry) string { return e.Name }},
		{regexp.MustCompile(`(?i)\{\{projectName\}\}`), func(e *models.Enquiry) string {
			if e.ProjectName == "" {
				return "our project"
			}
			return e.ProjectName
		}},
		{regexp.MustCompile(`(?i)\{\{email\}\}`), func(e *models.Enquiry) string { return e.Email }},
		{regexp.MustCompile(`(?i)\{\{budget\}\}`), func(e *models.Enquiry) string { return e.Budget }},
		{regexp.MustCompile(`(?i)\{\{bedrooms\}\}`), func(e *models.Enquiry) string { return e.Bedrooms }},
	}
)

// FillTemplate substitutes the enquiry's collected answers into text.
func FillTemplate(text string, e *models.Enquiry) string {
	if text == "" {
		return ""
	}
	for _, p := range placeholders {
		v := p.value(e)
		text = p.re.ReplaceAllLiteralString(text, v)
	}
	return text
}

func IsValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// ProjectFromURL finds the first URL in text and, when its path has a segment
// after "properties", returns that slug title-cased along with the URL.
func ProjectFromURL(text string) (project, pageURL string) {
	raw := urlPattern.FindString(text)
	if raw == "" {
		return "", ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for i, p := range parts {
		if p == "properties" && i+1 < len(parts) {
			return titleCase(strings.ReplaceAll(parts[i+1], "-", " ")), raw
		}
	}
	return "", ""
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// hasArabic reports whether s contains any Arabic letter.
func hasArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

var knownFields = []string{"name", "email", "budget", "bedrooms", "projectName", "pageUrl"}

// canonicalField maps a node's saveToField onto the enquiry field it names,
// ignoring case. Unknown names pass through unchanged.
func canonicalField(name string) string {
	for _, f := range knownFields {
		if strings.EqualFold(f, name) {
			return f
		}
	}
	return name
}
