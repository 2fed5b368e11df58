package language

import (
	"errors"
	"fmt"
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	// Auto is the sentinel requesting source language detection.
	Auto = "auto"
	// Undetermined tags a transcript whose language is unknown.
	Undetermined = "und"
)

// ErrUnknown reports an identifier that cannot be mapped to a language.
var ErrUnknown = errors.New("unknown language")

type entry struct {
	code2 string // ISO 639-1
	voice string // espeak-ng voice name
	words []string
}

var languages = []entry{
	{"en", "en", []string{"english"}},
	{"es", "es", []string{"spanish", "español"}},
	{"fr", "fr", []string{"french", "français"}},
	{"de", "de", []string{"german", "deutsch"}},
	{"it", "it", []string{"italian"}},
	{"pt", "pt", []string{"portuguese", "português"}},
	{"ja", "ja", []string{"japanese"}},
	{"ko", "ko", []string{"korean"}},
	{"zh", "cmn", []string{"chinese", "mandarin"}},
	{"ru", "ru", []string{"russian"}},
	{"ar", "ar", []string{"arabic"}},
	{"hi", "hi", []string{"hindi"}},
	{"nl", "nl", []string{"dutch"}},
	{"pl", "pl", []string{"polish"}},
	{"sv", "sv", []string{"swedish"}},
	{"da", "da", []string{"danish"}},
	{"no", "nb", []string{"norwegian"}},
	{"fi", "fi", []string{"finnish"}},
	{"tr", "tr", []string{"turkish"}},
	{"uk", "uk", []string{"ukrainian"}},
}

var (
	byCode2 map[string]*entry
	byWord  map[string]*entry
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

// Normalize converts a code, tag, or English name to ISO 639-1. Region and
// script subtags are dropped ("pt-BR" becomes "pt").
func Normalize(code string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrUnknown)
	}
	if trimmed == Undetermined || trimmed == Auto {
		return "", fmt.Errorf("%w: %q is not a specific language", ErrUnknown, code)
	}
	if e, ok := byWord[trimmed]; ok {
		return e.code2, nil
	}
	tag, err := xlanguage.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknown, code)
	}
	base, confidence := tag.Base()
	if confidence == xlanguage.No {
		return "", fmt.Errorf("%w: %q", ErrUnknown, code)
	}
	iso2 := base.String()
	if len(iso2) != 2 {
		return "", fmt.Errorf("%w: %q has no two-letter code", ErrUnknown, code)
	}
	return iso2, nil
}

// Supported reports whether the language is in the translate/voice table.
func Supported(code string) bool {
	iso2, err := Normalize(code)
	if err != nil {
		return false
	}
	_, ok := byCode2[iso2]
	return ok
}

// IsAuto reports whether code asks for detection rather than naming a language.
func IsAuto(code string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	return trimmed == "" || trimmed == Auto
}

// ToISO2 converts any recognized identifier to ISO 639-1, or "" when unknown.
func ToISO2(code string) string {
	iso2, err := Normalize(code)
	if err != nil {
		return ""
	}
	return iso2
}

// ToISO3 converts any recognized identifier to ISO 639-2, or "und" when unknown.
func ToISO3(code string) string {
	iso2, err := Normalize(code)
	if err != nil {
		return "und"
	}
	base, err := xlanguage.ParseBase(iso2)
	if err != nil {
		return "und"
	}
	return base.ISO3()
}

// DisplayName returns the English name for a code, or the uppercased input
// when the code is unknown.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	iso2, err := Normalize(code)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	if name := display.English.Languages().Name(xlanguage.Make(iso2)); name != "" {
		return name
	}
	return strings.ToUpper(iso2)
}

// Voice returns the espeak-ng voice for a language, falling back to the
// two-letter code.
func Voice(code string) string {
	iso2, err := Normalize(code)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(code))
	}
	if e, ok := byCode2[iso2]; ok {
		return e.voice
	}
	return iso2
}

// ExtractFromTags extracts and normalizes the language from stream metadata tags.
func ExtractFromTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	for _, key := range []string{"language", "LANGUAGE", "Language", "language_ietf", "lang", "LANG"} {
		value, ok := tags[key]
		if !ok {
			continue
		}
		value = strings.TrimSpace(strings.ReplaceAll(value, "\u0000", ""))
		if value == "" || strings.EqualFold(value, "und") {
			continue
		}
		if iso2 := ToISO2(value); iso2 != "" {
			return iso2
		}
		return strings.ToLower(value)
	}
	return ""
}
