package textutil

import (
	"path/filepath"
	"strings"
)

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces characters that are unsafe in file names on
// common filesystems and drops control characters.
func SanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(fileNameReplacer.Replace(strings.TrimSpace(name)))
}

// FileStem returns the sanitized base name of path without its extension,
// or fallback when nothing usable remains.
func FileStem(path, fallback string) string {
	base := filepath.Base(strings.TrimSpace(path))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	stem := strings.Trim(SanitizeFileName(base), ".- ")
	if stem == "" {
		return fallback
	}
	return stem
}
