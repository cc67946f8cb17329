package textutil

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	maxExtensionLength = 10
	fallbackStem       = "file"
)

// SanitizeFileName reduces an untrusted name to stem[.ext] where the stem holds
// only letters, digits, '-' and '_', and the extension is lower-case ASCII
// alphanumerics. The result is at most maxLen runes long. Applying it to its
// own output returns the same string.
func SanitizeFileName(name string, maxLen int) string {
	name = norm.NFKC.String(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		name = ""
	}

	stem, ext := SplitExtension(name)
	ext = cleanExtension(ext)
	stem = cleanStem(stem)

	limit := maxLen
	if ext != "" {
		limit = maxLen - len(ext) - 1
	}
	if limit > 0 {
		if runes := []rune(stem); len(runes) > limit {
			stem = strings.Trim(string(runes[:limit]), "_-")
		}
	}
	if stem == "" {
		stem = fallbackStem
	}
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

// SplitExtension splits at the last dot. A leading dot does not start an
// extension, so ".profile" has no extension.
func SplitExtension(name string) (stem, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

func cleanExtension(ext string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ext) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == maxExtensionLength {
				break
			}
		}
	}
	return b.String()
}

func cleanStem(stem string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range stem {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			// '_' and every replaced rune collapse into a single underscore.
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_-")
}
