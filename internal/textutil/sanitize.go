package textutil

import "strings"

// archiveNameReplacer maps characters that break zip entry names or object
// store keys to safe stand-ins. Separators become dashes so "ledger: vol 2"
// stays readable; purely hostile characters are dropped.
var archiveNameReplacer = strings.NewReplacer(
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

// SanitizeFileName makes a user-supplied artifact name safe to use as an
// archive entry or object key. The result is trimmed of surrounding
// whitespace; an empty input stays empty.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(archiveNameReplacer.Replace(name))
}

// SanitizeToken lowers a project or sandbox name into a workspace directory
// token: letters lowercased, digits and hyphens/underscores kept, any run of
// other characters collapsed into a single underscore. Returns "unknown"
// when nothing usable remains.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	pendingGap := false
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
			fallthrough
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			if pendingGap && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingGap = false
			b.WriteRune(r)
		default:
			pendingGap = true
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}
