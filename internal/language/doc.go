// Package language normalizes language identifiers used by transcription,
// translation, and speech synthesis.
//
// Inputs may be ISO 639-1 or 639-2 codes, BCP 47 tags such as "pt-BR", or
// English language names. Parsing is delegated to golang.org/x/text/language;
// the package adds the table of languages overdub can translate and voice.
package language
