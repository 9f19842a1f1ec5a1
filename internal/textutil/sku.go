package textutil

import (
	"bufio"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Entry is one parsed import line.
type Entry struct {
	SKU    string
	Reason string
}

// NormalizeSKU folds full-width characters to their ASCII forms, applies NFC,
// and strips whitespace and invisible format characters.
func NormalizeSKU(value string) string {
	value = width.Fold.String(value)
	value = norm.NFC.String(value)
	value = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, value)
	return strings.TrimSpace(value)
}

// ParseEntries reads one complaint per line. A line may carry a reason after
// the first comma, tab, or semicolon. Blank lines and lines starting with '#'
// are skipped, and repeated SKUs keep their first occurrence.
func ParseEntries(text string) []Entry {
	var entries []Entry
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sku, reason := line, ""
		if idx := strings.IndexAny(line, ",\t;，；"); idx >= 0 {
			sku = line[:idx]
			_, size := utf8.DecodeRuneInString(line[idx:])
			reason = strings.TrimSpace(line[idx+size:])
		}
		sku = NormalizeSKU(sku)
		if sku == "" {
			continue
		}
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		entries = append(entries, Entry{SKU: sku, Reason: reason})
	}
	return entries
}
