package textutil

import (
	"path/filepath"
	"strings"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
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

// SanitizeFileName keeps only the base name of an uploaded file and replaces
// filesystem-unsafe characters. Slashes, backslashes, colons, and asterisks
// become dashes; other unsafe characters are removed.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}
