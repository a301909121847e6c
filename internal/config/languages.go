package config

import "strings"

// Language is a topic room selectable by speakers and listeners.
type Language struct {
	Name string
	Flag string
	Code string
}

// Languages lists the topic rooms known to the CLI. The relay accepts any topic.
var Languages = []Language{
	{Name: "English", Flag: "🇬🇧", Code: "en"},
	{Name: "Cantonese", Flag: "🇭🇰", Code: "hk"},
	{Name: "Vietnamese", Flag: "🇻🇳", Code: "vn"},
	{Name: "Chinese", Flag: "🇨🇳", Code: "cn"},
}

// LookupLanguage finds a language by its topic code.
func LookupLanguage(code string) (Language, bool) {
	for _, l := range Languages {
		if strings.EqualFold(l.Code, code) {
			return l, true
		}
	}
	return Language{}, false
}

// LanguageName returns a display name for a topic, falling back to the code itself.
func LanguageName(code string) string {
	if l, ok := LookupLanguage(code); ok {
		return l.Name
	}
	return code
}
