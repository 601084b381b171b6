package i18n

import (
	"sort"
	"strings"
)

var languageNames = map[string]string{
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"ru": "Russian",
}

// IsSupported reports whether notices can be rendered in code.
func IsSupported(code string) bool {
	_, ok := languageNames[strings.ToLower(code)]
	return ok
}

// GetLanguagesList returns the supported language codes, sorted.
func GetLanguagesList() []string {
	list := make([]string, 0, len(languageNames))
	for code := range languageNames {
		list = append(list, code)
	}
	sort.Strings(list)
	return list
}
